package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeResponse(t *testing.T) {
	tests := []struct {
		name        string
		result      any
		status      int
		contentType string
		body        string
	}{
		{"string", "hello", 200, ContentTypeText, "hello"},
		{"empty string", "", 200, ContentTypeText, ""},
		{"map", map[string]int{"a": 1}, 200, ContentTypeJSON, `{"a":1}`},
		{"nil", nil, 200, ContentTypeJSON, "null"},
		{"bytes are json", []byte("hi"), 200, ContentTypeJSON, `"aGk="`},
		{"raw json", json.RawMessage(`[1,2]`), 200, ContentTypeJSON, `[1,2]`},
		{"html is not escaped", map[string]string{"html": "<b>&</b>"}, 200, ContentTypeJSON, `{"html":"<b>&</b>"}`},
		{"raw json keeps html", json.RawMessage(`{"a": "<i>"}`), 200, ContentTypeJSON, `{"a":"<i>"}`},
		{"http response text", &HTTPResponse{Status: 404, Body: "nope"}, 404, ContentTypeText, "nope"},
		{"http response zero status", &HTTPResponse{Body: true}, 200, ContentTypeJSON, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := encodeResponse(tt.result)
			require.NoError(t, err)

			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, []string{tt.contentType}, resp.Header["Content-Type"])

			body, err := base64.StdEncoding.DecodeString(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestEncodeResponse_HTTPResponseHeaders(t *testing.T) {
	resp, err := encodeResponse(&HTTPResponse{
		Header: http.Header{
			"content-type": {"text/csv"},
			"Set-Cookie":   {"a=1", "b=2"},
		},
		Body: "x,y",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"text/csv"}, resp.Header["Content-Type"])
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Header["Set-Cookie"])
}

func TestEncodeResponse_EmptyBody(t *testing.T) {
	resp, err := encodeResponse(&HTTPResponse{Status: http.StatusNoContent})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, resp.Body)
	assert.Empty(t, resp.Header.Get("Content-Type"))
}

func TestEncodeResponse_Unencodable(t *testing.T) {
	_, err := encodeResponse(func() {})
	assert.Error(t, err)
}

func TestBase64DecodedLen(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abc", "abcd", "hello world"} {
		encoded := base64.StdEncoding.EncodeToString([]byte(s))
		assert.Equal(t, len(s), base64DecodedLen(encoded), s)
	}
}

func TestPayloadName(t *testing.T) {
	assert.Equal(t, "ping", payloadName(Envelope{Kind: KindOp, Payload: json.RawMessage(`{"name":"ping"}`)}))
	assert.Equal(t, "", payloadName(Envelope{Kind: KindInit, Payload: json.RawMessage(`{"name":"ping"}`)}))
	assert.Equal(t, "", payloadName(Envelope{Kind: KindOp, Payload: json.RawMessage(`[]`)}))

	assert.Equal(t, "handler:upload", invocation(Envelope{Kind: KindHandler, Payload: json.RawMessage(`{"name":"upload"}`)}))
	assert.Equal(t, "init", invocation(Envelope{Kind: KindInit}))
}

func TestKind(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("cron").Valid())
	assert.False(t, KindInit.Named())
	assert.True(t, KindHandler.Named())
	assert.False(t, Kind("cron").Named())
}
