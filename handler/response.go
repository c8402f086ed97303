package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// Content types chosen for handler results.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// ResponseEnvelope is the result of a handler dispatch as the host expects
// it. Body is base64 encoded.
type ResponseEnvelope struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   string      `json:"body"`
}

// HTTPResponse lets a handler callback pick the status code and add headers.
// Body follows the same rules as a plain result: a string is sent as text,
// anything else as JSON. A nil Body sends an empty body without a
// Content-Type. A zero Status means 200.
type HTTPResponse struct {
	Status int
	Header http.Header
	Body   any
}

// encodeResponse turns a handler callback result into a ResponseEnvelope.
func encodeResponse(result any) (*ResponseEnvelope, error) {
	resp := &ResponseEnvelope{
		Status: http.StatusOK,
		Header: http.Header{},
	}

	body := result
	if r, ok := result.(*HTTPResponse); ok && r != nil {
		if r.Status != 0 {
			resp.Status = r.Status
		}
		for k, values := range r.Header {
			for _, v := range values {
				resp.Header.Add(k, v)
			}
		}
		if r.Body == nil {
			return resp, nil
		}
		body = r.Body
	}

	raw, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if resp.Header.Get("Content-Type") == "" {
		resp.Header.Set("Content-Type", contentType)
	}
	resp.Body = base64.StdEncoding.EncodeToString(raw)

	return resp, nil
}

// encodeBody sends strings as text and everything else as JSON. HTML
// characters are written as is.
func encodeBody(v any) ([]byte, string, error) {
	if s, ok := v.(string); ok {
		return []byte(s), ContentTypeText, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, "", fmt.Errorf("encode handler result: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), ContentTypeJSON, nil
}
