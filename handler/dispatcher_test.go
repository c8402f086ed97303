package handler_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloudcode/handler"
	"cloudcode/handler/mocks"
	obmocks "cloudcode/observability/mocks"
	"cloudcode/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T, reg handler.Registry) *handler.Dispatcher {
	t.Helper()
	return handler.NewDispatcher(reg, obmocks.NewQuietProvider(), nil)
}

func envelope(t *testing.T, kind handler.Kind, payload any) handler.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return handler.Envelope{ID: "req-1", Kind: kind, Payload: raw}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func decodeB64(t *testing.T, s string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return string(raw)
}

func TestDispatcher_Init(t *testing.T) {
	reg := registry.New()
	reg.MustRegisterOp("ping", func(ctx context.Context, param json.RawMessage) (any, error) { return "pong", nil })
	reg.MustRegisterHandler("echo", func(ctx context.Context, req *handler.Request) (any, error) { return nil, nil })

	t.Run("returns registered names regardless of payload", func(t *testing.T) {
		for _, payload := range []any{map[string]any{}, map[string]any{"appId": "x", "funcs": []string{"nope"}}} {
			d := newDispatcher(t, reg)
			result, err := d.Dispatch(context.Background(), envelope(t, handler.KindInit, payload))
			require.NoError(t, err)
			assert.Equal(t, []string{"echo", "ping"}, result)
		}
	})

	t.Run("later init replaces configuration", func(t *testing.T) {
		d := newDispatcher(t, reg)
		assert.False(t, d.Configured())

		_, err := d.Config()
		assert.ErrorIs(t, err, handler.ErrNotConfigured)

		_, err = d.Dispatch(context.Background(), envelope(t, handler.KindInit, map[string]any{"appId": "first"}))
		require.NoError(t, err)
		assert.True(t, d.Configured())

		result, err := d.Dispatch(context.Background(), envelope(t, handler.KindInit, map[string]any{"appId": "second"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"echo", "ping"}, result)

		var settings struct {
			AppID string `json:"appId"`
		}
		require.NoError(t, d.DecodeConfig(&settings))
		assert.Equal(t, "second", settings.AppID)
	})

	t.Run("repeated init through Process", func(t *testing.T) {
		d := newDispatcher(t, reg)
		for i := 0; i < 2; i++ {
			reply, err := d.Process(context.Background(), []byte(`{"id":"i","kind":"init","payload":{"appId":"x"}}`))
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"i","result":["echo","ping"]}`, string(reply))
		}
	})

	t.Run("absent payload is stored as null", func(t *testing.T) {
		d := newDispatcher(t, reg)

		reply, err := d.Process(context.Background(), []byte(`{"id":"n","kind":"init"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"n","result":["echo","ping"]}`, string(reply))

		raw, err := d.Config()
		require.NoError(t, err)
		assert.Equal(t, "null", string(raw))
	})

	t.Run("dispatch does not require init", func(t *testing.T) {
		d := newDispatcher(t, reg)
		result, err := d.Dispatch(context.Background(), envelope(t, handler.KindOp, map[string]any{"name": "ping"}))
		require.NoError(t, err)
		assert.Equal(t, "pong", result)
	})
}

func TestDispatcher_Hook(t *testing.T) {
	reg := registry.New()
	reg.MustRegisterHook("keep", func(ctx context.Context, param json.RawMessage) (any, error) {
		return nil, nil
	})
	reg.MustRegisterHook("replace", func(ctx context.Context, param json.RawMessage) (any, error) {
		return map[string]any{"id": 2}, nil
	})
	reg.MustRegisterHook("null", func(ctx context.Context, param json.RawMessage) (any, error) {
		return json.RawMessage("null"), nil
	})
	d := newDispatcher(t, reg)

	param := map[string]any{"record": map[string]any{"id": 1}}

	t.Run("nil result falls back to param.record", func(t *testing.T) {
		env := envelope(t, handler.KindHook, map[string]any{"name": "keep", "param": param})
		result, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)

		assert.JSONEq(t, `{"id":"req-1","result":{"id":1}}`, string(handler.EncodeReply(env.ID, result, nil)))
	})

	t.Run("returned value wins", func(t *testing.T) {
		env := envelope(t, handler.KindHook, map[string]any{"name": "replace", "param": param})
		result, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": 2}, result)
	})

	t.Run("explicit null is kept", func(t *testing.T) {
		env := envelope(t, handler.KindHook, map[string]any{"name": "null", "param": param})
		result, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"req-1","result":null}`, string(handler.EncodeReply(env.ID, result, nil)))
	})

	t.Run("param without record", func(t *testing.T) {
		env := envelope(t, handler.KindHook, map[string]any{"name": "keep", "param": 42})
		result, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"req-1","result":null}`, string(handler.EncodeReply(env.ID, result, nil)))
	})

	t.Run("missing hook", func(t *testing.T) {
		_, err := d.Hook(context.Background(), handler.HookPayload{Name: "absent"})
		var notFound *handler.CallbackNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, handler.CategoryHook, notFound.Category)
	})
}

func TestDispatcher_Op(t *testing.T) {
	t.Run("unregistered name never invokes a callback", func(t *testing.T) {
		reg := new(mocks.MockRegistry)
		reg.On("Lookup", handler.CategoryOp, "missing").Return(nil, false)

		d := newDispatcher(t, reg)
		_, err := d.Dispatch(context.Background(), envelope(t, handler.KindOp, map[string]any{"name": "missing"}))

		var notFound *handler.CallbackNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing", notFound.Name)
		assert.Equal(t, handler.CategoryOp, notFound.Category)
		reg.AssertExpectations(t)
		reg.AssertNotCalled(t, "LookupHandler", mock.Anything, mock.Anything)
	})

	t.Run("result is returned verbatim", func(t *testing.T) {
		reg := registry.New()
		reg.MustRegisterOp("sum", func(ctx context.Context, param json.RawMessage) (any, error) {
			var nums []int
			if err := json.Unmarshal(param, &nums); err != nil {
				return nil, err
			}
			total := 0
			for _, n := range nums {
				total += n
			}
			return total, nil
		})

		d := newDispatcher(t, reg)
		result, err := d.Dispatch(context.Background(), envelope(t, handler.KindOp, map[string]any{"name": "sum", "param": []int{1, 2, 3}}))
		require.NoError(t, err)
		assert.Equal(t, 6, result)
	})

	t.Run("callback errors propagate unmodified", func(t *testing.T) {
		boom := errors.New("boom")
		reg := registry.New()
		reg.MustRegisterOp("fail", func(ctx context.Context, param json.RawMessage) (any, error) {
			return nil, boom
		})

		d := newDispatcher(t, reg)
		_, err := d.Dispatch(context.Background(), envelope(t, handler.KindOp, map[string]any{"name": "fail"}))
		assert.Same(t, boom, err)
	})
}

func TestDispatcher_TimerNamespace(t *testing.T) {
	reg := registry.New()
	reg.MustRegisterOp("cleanup", func(ctx context.Context, param json.RawMessage) (any, error) { return "op", nil })
	reg.MustRegisterTimer("nightly", func(ctx context.Context, param json.RawMessage) (any, error) { return "timer", nil })
	d := newDispatcher(t, reg)

	result, err := d.Dispatch(context.Background(), envelope(t, handler.KindTimer, map[string]any{"name": "nightly"}))
	require.NoError(t, err)
	assert.Equal(t, "timer", result)

	_, err = d.Dispatch(context.Background(), envelope(t, handler.KindTimer, map[string]any{"name": "cleanup"}))
	var notFound *handler.CallbackNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, handler.CategoryTimer, notFound.Category)
}

func handlerEnvelope(t *testing.T, name, method string, header map[string][]string, body string) handler.Envelope {
	return envelope(t, handler.KindHandler, handler.HandlerPayload{
		Name: name,
		Param: handler.HandlerParam{
			Method:      method,
			Header:      header,
			Path:        "/" + name,
			QueryString: "",
			Body:        b64(body),
		},
	})
}

func TestDispatcher_Handler(t *testing.T) {
	reg := registry.New()
	reg.MustRegisterHandler("hello", func(ctx context.Context, req *handler.Request) (any, error) {
		return "hello", nil
	}, http.MethodGet)
	reg.MustRegisterHandler("object", func(ctx context.Context, req *handler.Request) (any, error) {
		return map[string]int{"a": 1}, nil
	})
	reg.MustRegisterHandler("echo", func(ctx context.Context, req *handler.Request) (any, error) {
		return req.JSON()
	}, http.MethodPost)
	reg.MustRegisterHandler("created", func(ctx context.Context, req *handler.Request) (any, error) {
		return &handler.HTTPResponse{
			Status: http.StatusCreated,
			Header: http.Header{"Location": {"/items/7"}},
			Body:   map[string]int{"id": 7},
		}, nil
	})
	d := newDispatcher(t, reg)

	t.Run("string result is plain text", func(t *testing.T) {
		result, err := d.Dispatch(context.Background(), handlerEnvelope(t, "hello", "GET", nil, ""))
		require.NoError(t, err)

		resp := result.(*handler.ResponseEnvelope)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, []string{"text/plain; charset=utf-8"}, resp.Header["Content-Type"])
		assert.Equal(t, b64("hello"), resp.Body)
	})

	t.Run("other results are JSON", func(t *testing.T) {
		result, err := d.Dispatch(context.Background(), handlerEnvelope(t, "object", "DELETE", nil, ""))
		require.NoError(t, err)

		resp := result.(*handler.ResponseEnvelope)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, []string{"application/json"}, resp.Header["Content-Type"])
		assert.Equal(t, `{"a":1}`, decodeB64(t, resp.Body))
	})

	t.Run("request body reaches the callback", func(t *testing.T) {
		result, err := d.Dispatch(context.Background(), handlerEnvelope(t, "echo", "POST", nil, `{"x":[1,2]}`))
		require.NoError(t, err)

		resp := result.(*handler.ResponseEnvelope)
		assert.JSONEq(t, `{"x":[1,2]}`, decodeB64(t, resp.Body))
	})

	t.Run("malformed JSON body fails the dispatch", func(t *testing.T) {
		_, err := d.Dispatch(context.Background(), handlerEnvelope(t, "echo", "POST", nil, "not json"))
		var malformed *handler.MalformedBodyError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("callback chooses status and headers", func(t *testing.T) {
		result, err := d.Dispatch(context.Background(), handlerEnvelope(t, "created", "PUT", nil, ""))
		require.NoError(t, err)

		resp := result.(*handler.ResponseEnvelope)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, "/items/7", resp.Header.Get("Location"))
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Equal(t, `{"id":7}`, decodeB64(t, resp.Body))
	})

	t.Run("lookup keys on method", func(t *testing.T) {
		_, err := d.Dispatch(context.Background(), handlerEnvelope(t, "hello", "POST", nil, ""))

		var notFound *handler.CallbackNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, handler.CategoryHandler, notFound.Category)
		assert.Equal(t, "POST", notFound.Method)
	})

	t.Run("invalid base64 body", func(t *testing.T) {
		env := envelope(t, handler.KindHandler, map[string]any{
			"name":  "object",
			"param": map[string]any{"method": "GET", "path": "/", "body": "%%%"},
		})
		_, err := d.Dispatch(context.Background(), env)
		var malformed *handler.MalformedBodyError
		assert.ErrorAs(t, err, &malformed)
	})
}

func TestDispatcher_FormCallbackPanicIsLogged(t *testing.T) {
	logged := make(chan error, 1)

	logger := new(obmocks.MockLogger)
	logger.On("Error", mock.Anything, "Form callback panicked", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { logged <- args.Error(2) }).
		Once()

	metrics := new(obmocks.MockMetrics).AllowAll()

	provider := new(obmocks.MockProvider)
	provider.On("Logger", "dispatcher").Return(logger)
	provider.On("Metrics", "dispatcher").Return(metrics)

	reg := registry.New()
	reg.MustRegisterHandler("upload", func(ctx context.Context, req *handler.Request) (any, error) {
		if err := req.Form(func(f *handler.Form, err error) { panic("callback bug") }); err != nil {
			return nil, err
		}
		return "accepted", nil
	})

	d := handler.NewDispatcher(reg, provider, nil)

	header := map[string][]string{
		"Content-Type":   {"application/x-www-form-urlencoded"},
		"Content-Length": {"3"},
	}
	_, err := d.Dispatch(context.Background(), handlerEnvelope(t, "upload", "POST", header, "a=1"))
	require.NoError(t, err)

	select {
	case err := <-logged:
		var panicErr *handler.PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "callback bug", panicErr.Value)
	case <-time.After(time.Second):
		t.Fatal("panic was not logged")
	}

	metrics.AssertCalled(t, "RecordError", "handler", "PanicError")
}

func TestDispatcher_RejectsUnknownKind(t *testing.T) {
	d := newDispatcher(t, registry.New())

	_, err := d.Dispatch(context.Background(), handler.Envelope{Kind: "cron", Payload: json.RawMessage(`{}`)})
	var invalid *handler.InvalidEnvelopeError
	assert.ErrorAs(t, err, &invalid)
}

func TestDispatcher_RejectsUndecodablePayload(t *testing.T) {
	d := newDispatcher(t, registry.New())

	_, err := d.Dispatch(context.Background(), handler.Envelope{Kind: handler.KindOp, Payload: json.RawMessage(`[1]`)})
	var invalid *handler.InvalidEnvelopeError
	assert.ErrorAs(t, err, &invalid)
}

func TestDispatcher_MiddlewareOrder(t *testing.T) {
	reg := registry.New()
	var calls []string
	reg.MustRegisterOp("noop", func(ctx context.Context, param json.RawMessage) (any, error) {
		calls = append(calls, "callback")
		return nil, nil
	})

	trace := func(name string) handler.Middleware {
		return func(next handler.DispatchFunc) handler.DispatchFunc {
			return func(ctx context.Context, env handler.Envelope) (any, error) {
				calls = append(calls, name+":before")
				result, err := next(ctx, env)
				calls = append(calls, name+":after")
				return result, err
			}
		}
	}

	d := newDispatcher(t, reg)
	d.Use(trace("outer"))
	d.Use(trace("inner"))

	_, err := d.Dispatch(context.Background(), envelope(t, handler.KindOp, map[string]any{"name": "noop"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "callback", "inner:after", "outer:after"}, calls)
}

func TestDispatcher_Process(t *testing.T) {
	reg := registry.New()
	reg.MustRegisterOp("ping", func(ctx context.Context, param json.RawMessage) (any, error) { return "pong", nil })
	d := newDispatcher(t, reg)

	t.Run("success", func(t *testing.T) {
		reply, err := d.Process(context.Background(), []byte(`{"id":"7","kind":"op","payload":{"name":"ping"}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"7","result":"pong"}`, string(reply))
	})

	t.Run("assigns an id", func(t *testing.T) {
		reply, err := d.Process(context.Background(), []byte(`{"kind":"op","payload":{"name":"ping"}}`))
		require.NoError(t, err)

		var r handler.Reply
		require.NoError(t, json.Unmarshal(reply, &r))
		assert.NotEmpty(t, r.ID)
	})

	t.Run("not found becomes an error reply", func(t *testing.T) {
		reply, err := d.Process(context.Background(), []byte(`{"id":"8","kind":"op","payload":{"name":"missing"}}`))
		require.Error(t, err)
		assert.JSONEq(t, `{"id":"8","error":{"name":"CallbackNotFoundError","message":"callback not found: op \"missing\"","code":"NOT_FOUND"}}`, string(reply))
	})

	t.Run("undecodable envelope", func(t *testing.T) {
		reply, err := d.Process(context.Background(), []byte(`{"kind":`))
		require.Error(t, err)

		var r handler.Reply
		require.NoError(t, json.Unmarshal(reply, &r))
		require.NotNil(t, r.Error)
		assert.Equal(t, "InvalidEnvelopeError", r.Error.Name)
		assert.Equal(t, handler.CodeInvalidArgument, r.Error.Code)
	})
}

func TestDispatcher_Health(t *testing.T) {
	assert.NoError(t, newDispatcher(t, registry.New()).Health(context.Background()))
	assert.Error(t, handler.NewDispatcher(nil, obmocks.NewQuietProvider(), nil).Health(context.Background()))
}
