package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"runtime/debug"
	"strconv"
)

// DefaultFormMaxMemory is the part of a multipart body kept in memory by
// Form; file parts beyond it spill to temporary files.
const DefaultFormMaxMemory = 32 << 20

// Request is a read-only view over one HandlerParam. The body is decoded and
// the URL parsed when the view is built; JSON and form parsing happen on
// demand.
type Request struct {
	method        string
	path          string
	header        http.Header
	url           *url.URL
	body          []byte
	formMaxMemory int64

	// onPanic receives a panic raised by a Form completion callback.
	onPanic func(*PanicError)
}

// Form is the result of parsing a form body. Values holds plain fields and
// Files holds the file parts of a multipart body.
type Form struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader

	multipart *multipart.Form
}

// RemoveAll removes any temporary files created while parsing the form.
func (f *Form) RemoveAll() error {
	if f == nil || f.multipart == nil {
		return nil
	}
	return f.multipart.RemoveAll()
}

// NewRequest builds a Request from p. It fails with a MalformedBodyError when
// the body is not valid base64, and when path and query string do not form a
// valid URL.
func NewRequest(p HandlerParam) (*Request, error) {
	return newRequest(p, DefaultFormMaxMemory)
}

func newRequest(p HandlerParam, formMaxMemory int64) (*Request, error) {
	body, err := base64.StdEncoding.DecodeString(p.Body)
	if err != nil {
		return nil, &MalformedBodyError{Reason: "body is not valid base64", Err: err}
	}

	// Always "path?query", even when the query string is empty.
	u, err := url.Parse(p.Path + "?" + p.QueryString)
	if err != nil {
		return nil, &MalformedBodyError{Reason: "invalid request url", Err: err}
	}

	header := make(http.Header, len(p.Header))
	for k, values := range p.Header {
		key := textproto.CanonicalMIMEHeaderKey(k)
		header[key] = append(header[key], values...)
	}

	if formMaxMemory <= 0 {
		formMaxMemory = DefaultFormMaxMemory
	}

	return &Request{
		method:        p.Method,
		path:          p.Path,
		header:        header,
		url:           u,
		body:          body,
		formMaxMemory: formMaxMemory,
	}, nil
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Path returns the request path as sent by the host.
func (r *Request) Path() string { return r.path }

// URL returns a copy of the parsed URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Header returns a copy of the request headers. Keys are canonicalized and
// every value list is preserved.
func (r *Request) Header() http.Header {
	return r.header.Clone()
}

// HeaderValue returns the first value of the named header and whether the
// header carried any value at all.
func (r *Request) HeaderValue(name string) (string, bool) {
	values := r.header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Body returns a copy of the decoded body.
func (r *Request) Body() []byte {
	return bytes.Clone(r.body)
}

// Query parses the query string. Repeated keys keep every value.
func (r *Request) Query() url.Values {
	return r.url.Query()
}

// JSON parses the body as JSON. The body is parsed again on every call.
func (r *Request) JSON() (any, error) {
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode unmarshals the JSON body into v.
func (r *Request) Decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return &MalformedBodyError{Reason: "body is not valid JSON", Err: err}
	}
	return nil
}

// Form parses the body as a multipart or url-encoded form on its own
// goroutine and calls done with the result.
//
// The parser sees a synthetic request carrying only the first Content-Type
// and Content-Length values of the original headers. When either header is
// missing, or Content-Length is not a number, Form returns the error and done
// is never called.
//
// A panic in done is recovered. Requests built by the Dispatcher log it;
// requests from NewRequest drop it.
func (r *Request) Form(done func(*Form, error)) error {
	contentType, ok := r.HeaderValue("Content-Type")
	if !ok {
		return &MissingHeaderError{Header: "Content-Type"}
	}
	contentLength, ok := r.HeaderValue("Content-Length")
	if !ok {
		return &MissingHeaderError{Header: "Content-Length"}
	}

	length, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || length < 0 {
		return &MalformedBodyError{Reason: "invalid Content-Length " + strconv.Quote(contentLength), Err: err}
	}

	synthetic := &http.Request{
		Method: http.MethodPost,
		Header: http.Header{
			"Content-Type":   {contentType},
			"Content-Length": {contentLength},
		},
		ContentLength: length,
		Body:          io.NopCloser(io.LimitReader(bytes.NewReader(r.body), length)),
	}

	go func() {
		defer func() {
			if v := recover(); v != nil && r.onPanic != nil {
				r.onPanic(&PanicError{Value: v, Stack: debug.Stack()})
			}
		}()
		done(parseForm(synthetic, contentType, r.formMaxMemory))
	}()

	return nil
}

// ParseForm is the blocking form of Form. It returns early with ctx.Err()
// if ctx is done first; the parse itself still runs to completion.
func (r *Request) ParseForm(ctx context.Context) (*Form, error) {
	type result struct {
		form *Form
		err  error
	}
	ch := make(chan result, 1)

	if err := r.Form(func(f *Form, err error) {
		ch <- result{f, err}
	}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.form, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseForm(req *http.Request, contentType string, maxMemory int64) (*Form, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &MalformedBodyError{Reason: "invalid Content-Type", Err: err}
	}

	switch mediaType {
	case "multipart/form-data":
		if err := req.ParseMultipartForm(maxMemory); err != nil {
			return nil, &MalformedBodyError{Reason: "invalid multipart form", Err: err}
		}
		return &Form{
			Values:    url.Values(req.MultipartForm.Value),
			Files:     req.MultipartForm.File,
			multipart: req.MultipartForm,
		}, nil

	case "application/x-www-form-urlencoded":
		if err := req.ParseForm(); err != nil {
			return nil, &MalformedBodyError{Reason: "invalid url-encoded form", Err: err}
		}
		return &Form{
			Values: req.PostForm,
			Files:  map[string][]*multipart.FileHeader{},
		}, nil
	}

	return nil, &MalformedBodyError{Reason: "unsupported form content type " + strconv.Quote(mediaType)}
}
