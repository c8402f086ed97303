package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"testing"
	"time"

	"cloudcode/handler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, p handler.HandlerParam) *handler.Request {
	t.Helper()
	req, err := handler.NewRequest(p)
	require.NoError(t, err)
	return req
}

func TestRequest_BodyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		nil,
		[]byte("hello"),
		[]byte(`{"a":1}`),
		{0x00, 0xff, 0x10, 0x80, 0x7f},
		bytes.Repeat([]byte("abc"), 1000),
	}

	for _, body := range bodies {
		encoded := base64.StdEncoding.EncodeToString(body)
		req := newRequest(t, handler.HandlerParam{Method: "POST", Path: "/", Body: encoded})
		assert.Equal(t, encoded, base64.StdEncoding.EncodeToString(req.Body()))
	}
}

func TestRequest_BodyIsReadOnly(t *testing.T) {
	req := newRequest(t, handler.HandlerParam{Path: "/", Body: b64("abc")})

	body := req.Body()
	body[0] = 'x'

	assert.Equal(t, "abc", string(req.Body()))
}

func TestRequest_InvalidBase64(t *testing.T) {
	_, err := handler.NewRequest(handler.HandlerParam{Path: "/", Body: "not base64!"})

	var malformed *handler.MalformedBodyError
	assert.ErrorAs(t, err, &malformed)
}

func TestRequest_Query(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		queryString string
		want        url.Values
	}{
		{
			name:        "repeated keys aggregate",
			path:        "/a",
			queryString: "x=1&x=2",
			want:        url.Values{"x": {"1", "2"}},
		},
		{
			name:        "percent decoding",
			path:        "/search",
			queryString: "q=caf%C3%A9+au+lait&tag=a%26b",
			want:        url.Values{"q": {"café au lait"}, "tag": {"a&b"}},
		},
		{
			name:        "empty query string",
			path:        "/a",
			queryString: "",
			want:        url.Values{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, handler.HandlerParam{Path: tt.path, QueryString: tt.queryString})

			assert.Equal(t, tt.want, req.Query())
			assert.Equal(t, tt.want, req.Query(), "Query is idempotent")
			assert.Equal(t, tt.path, req.URL().Path)
		})
	}
}

func TestRequest_URLAlwaysCarriesQuerySeparator(t *testing.T) {
	req := newRequest(t, handler.HandlerParam{Path: "/a"})

	u := req.URL()
	assert.True(t, u.ForceQuery)
	assert.Equal(t, "/a?", u.String())
}

func TestRequest_JSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := newRequest(t, handler.HandlerParam{Path: "/", Body: b64(`{"a":1}`)})

		v, err := req.JSON()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(1)}, v)

		var typed struct{ A int }
		require.NoError(t, req.Decode(&typed))
		assert.Equal(t, 1, typed.A)
	})

	t.Run("invalid", func(t *testing.T) {
		req := newRequest(t, handler.HandlerParam{Path: "/", Body: b64("not json")})

		_, err := req.JSON()
		var malformed *handler.MalformedBodyError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, "MalformedBodyError", handler.ErrorName(err))
	})
}

func TestRequest_Headers(t *testing.T) {
	req := newRequest(t, handler.HandlerParam{
		Method: "GET",
		Path:   "/h",
		Header: map[string][]string{
			"x-forwarded-for": {"10.0.0.1", "10.0.0.2"},
			"Accept":          {"text/html"},
		},
	})

	assert.Equal(t, "GET", req.Method())
	assert.Equal(t, "/h", req.Path())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, req.Header().Values("X-Forwarded-For"))

	v, ok := req.HeaderValue("X-FORWARDED-FOR")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	_, ok = req.HeaderValue("Authorization")
	assert.False(t, ok)

	h := req.Header()
	h.Set("Accept", "changed")
	v, _ = req.HeaderValue("Accept")
	assert.Equal(t, "text/html", v)
}

func formRequest(t *testing.T, contentType string, body []byte) *handler.Request {
	t.Helper()
	return newRequest(t, handler.HandlerParam{
		Method: "POST",
		Path:   "/upload",
		Header: map[string][]string{
			"content-type":   {contentType},
			"content-length": {strconv.Itoa(len(body))},
		},
		Body: base64.StdEncoding.EncodeToString(body),
	})
}

func waitForm(t *testing.T, req *handler.Request) (*handler.Form, error) {
	t.Helper()

	type result struct {
		form *handler.Form
		err  error
	}
	ch := make(chan result, 1)

	require.NoError(t, req.Form(func(f *handler.Form, err error) {
		ch <- result{f, err}
	}))

	select {
	case res := <-ch:
		return res.form, res.err
	case <-time.After(5 * time.Second):
		t.Fatal("form callback was not called")
		return nil, nil
	}
}

func TestRequest_Form_CallbackPanicIsRecovered(t *testing.T) {
	req := formRequest(t, "application/x-www-form-urlencoded", []byte("a=1"))

	called := make(chan struct{})
	require.NoError(t, req.Form(func(f *handler.Form, err error) {
		close(called)
		panic("callback bug")
	}))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("form callback was not called")
	}
}

func TestRequest_Form_URLEncoded(t *testing.T) {
	req := formRequest(t, "application/x-www-form-urlencoded", []byte("name=ada&lang=go&lang=c"))

	form, err := waitForm(t, req)
	require.NoError(t, err)

	assert.Equal(t, "ada", form.Values.Get("name"))
	assert.Equal(t, []string{"go", "c"}, form.Values["lang"])
	assert.Empty(t, form.Files)
	assert.NoError(t, form.RemoveAll())
}

func TestRequest_Form_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", "report"))
	fw, err := w.CreateFormFile("file", "report.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file contents"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := formRequest(t, w.FormDataContentType(), buf.Bytes())

	form, err := waitForm(t, req)
	require.NoError(t, err)
	defer form.RemoveAll()

	assert.Equal(t, "report", form.Values.Get("title"))
	require.Len(t, form.Files["file"], 1)

	fh := form.Files["file"][0]
	assert.Equal(t, "report.txt", fh.Filename)

	f, err := fh.Open()
	require.NoError(t, err)
	defer f.Close()
	contents, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(contents))
}

func TestRequest_Form_MissingHeaders(t *testing.T) {
	called := false
	done := func(*handler.Form, error) { called = true }

	t.Run("content type", func(t *testing.T) {
		req := newRequest(t, handler.HandlerParam{
			Path:   "/",
			Header: map[string][]string{"Content-Length": {"0"}},
		})

		err := req.Form(done)
		var missing *handler.MissingHeaderError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "Content-Type", missing.Header)
	})

	t.Run("content length", func(t *testing.T) {
		req := newRequest(t, handler.HandlerParam{
			Path:   "/",
			Header: map[string][]string{"Content-Type": {"application/x-www-form-urlencoded"}},
		})

		err := req.Form(done)
		var missing *handler.MissingHeaderError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "Content-Length", missing.Header)
	})

	t.Run("empty value list", func(t *testing.T) {
		req := newRequest(t, handler.HandlerParam{
			Path: "/",
			Header: map[string][]string{
				"Content-Type":   {},
				"Content-Length": {"0"},
			},
		})

		var missing *handler.MissingHeaderError
		assert.ErrorAs(t, req.Form(done), &missing)
	})

	assert.False(t, called)
}

func TestRequest_Form_InvalidContentLength(t *testing.T) {
	req := newRequest(t, handler.HandlerParam{
		Path: "/",
		Header: map[string][]string{
			"Content-Type":   {"application/x-www-form-urlencoded"},
			"Content-Length": {"ten"},
		},
	})

	err := req.Form(func(*handler.Form, error) { t.Error("callback called") })
	var malformed *handler.MalformedBodyError
	assert.ErrorAs(t, err, &malformed)
}

func TestRequest_Form_ParseErrorsReachCallback(t *testing.T) {
	t.Run("unsupported content type", func(t *testing.T) {
		req := formRequest(t, "application/json", []byte(`{}`))

		_, err := waitForm(t, req)
		var malformed *handler.MalformedBodyError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("broken multipart body", func(t *testing.T) {
		req := formRequest(t, "multipart/form-data; boundary=xyz", []byte("garbage"))

		_, err := waitForm(t, req)
		var malformed *handler.MalformedBodyError
		assert.ErrorAs(t, err, &malformed)
	})
}

func TestRequest_Form_HonoursContentLength(t *testing.T) {
	body := []byte("a=1&b=2")
	req := newRequest(t, handler.HandlerParam{
		Path: "/",
		Header: map[string][]string{
			"Content-Type":   {"application/x-www-form-urlencoded"},
			"Content-Length": {"3"},
		},
		Body: base64.StdEncoding.EncodeToString(body),
	})

	form, err := waitForm(t, req)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"a": {"1"}}, form.Values)
}

func TestRequest_ParseForm(t *testing.T) {
	req := formRequest(t, "application/x-www-form-urlencoded", []byte("k=v"))

	form, err := req.ParseForm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", form.Values.Get("k"))

	bare := newRequest(t, handler.HandlerParam{Path: "/"})
	_, err = bare.ParseForm(context.Background())
	var missing *handler.MissingHeaderError
	assert.ErrorAs(t, err, &missing)
}
