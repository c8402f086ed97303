package handler

import (
	"context"
	"encoding/json"
)

// Func is a hook, op or timer callback. It receives the raw param of the
// envelope and returns any JSON-serializable value.
//
// A hook returning nil means "keep param.record as the result". To return a
// JSON null from a hook, return json.RawMessage("null").
type Func func(ctx context.Context, param json.RawMessage) (any, error)

// HandlerFunc is an HTTP-style callback.
//
// A string result is sent as text/plain, anything else as JSON. Return an
// *HTTPResponse to choose the status code or add headers.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Registry is the lookup capability the dispatcher needs. Implementations
// must be safe for concurrent use.
type Registry interface {
	// Lookup returns the callback registered under name in category.
	// CategoryHandler is not valid here; use LookupHandler.
	Lookup(category Category, name string) (Func, bool)

	// LookupHandler returns the handler registered for name and method.
	LookupHandler(name, method string) (HandlerFunc, bool)

	// FuncList returns every registered name, as reported to the host on init.
	FuncList() []string
}
