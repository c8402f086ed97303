package handler

import (
	"encoding/json"
)

// Kind identifies the shape of an envelope payload. The set is closed.
type Kind string

const (
	KindInit    Kind = "init"
	KindHook    Kind = "hook"
	KindOp      Kind = "op"
	KindTimer   Kind = "timer"
	KindHandler Kind = "handler"
)

// Kinds lists every envelope kind the dispatcher understands.
var Kinds = []Kind{KindInit, KindHook, KindOp, KindTimer, KindHandler}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInit, KindHook, KindOp, KindTimer, KindHandler:
		return true
	}
	return false
}

// Named reports whether payloads of this kind carry a callback name.
func (k Kind) Named() bool {
	return k.Valid() && k != KindInit
}

// Category is a registry namespace. Names only collide within a category.
type Category string

const (
	CategoryHook    Category = "hook"
	CategoryOp      Category = "op"
	CategoryTimer   Category = "timer"
	CategoryHandler Category = "handler"
)

// Envelope is one message from the host. It is never modified after it has
// been decoded; middleware works on copies.
type Envelope struct {
	// ID correlates the reply with the request. Assigned when empty.
	ID string `json:"id,omitempty"`

	Kind Kind `json:"kind"`

	// Payload is decoded according to Kind.
	Payload json.RawMessage `json:"payload"`
}

// HookPayload is the payload of a hook envelope. Param usually looks like
// {"record": {...}, ...}.
type HookPayload struct {
	Name  string          `json:"name"`
	Param json.RawMessage `json:"param"`
}

// OpPayload is the payload of an op envelope.
type OpPayload struct {
	Name  string          `json:"name"`
	Param json.RawMessage `json:"param"`
}

// TimerPayload is the payload of a timer envelope.
type TimerPayload struct {
	Name  string          `json:"name"`
	Param json.RawMessage `json:"param"`
}

// HandlerPayload is the payload of an HTTP-style handler envelope.
type HandlerPayload struct {
	Name  string       `json:"name"`
	Param HandlerParam `json:"param"`
}

// HandlerParam describes one HTTP-style invocation. Header values stay
// multi-valued and Body is base64 encoded.
type HandlerParam struct {
	Method      string              `json:"method"`
	Header      map[string][]string `json:"header"`
	Path        string              `json:"path"`
	QueryString string              `json:"query_string"`
	Body        string              `json:"body"`
}

// hookParam extracts the record a hook falls back to.
type hookParam struct {
	Record json.RawMessage `json:"record"`
}

// namedPayload is used to peek at the callback name without decoding the
// kind-specific payload.
type namedPayload struct {
	Name string `json:"name"`
}

// payloadName returns the callback name carried by env, or "" for init
// envelopes and payloads without one.
func payloadName(env Envelope) string {
	if !env.Kind.Named() || len(env.Payload) == 0 {
		return ""
	}
	var p namedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return ""
	}
	return p.Name
}

// invocation renders "<kind>:<name>" for logs.
func invocation(env Envelope) string {
	if name := payloadName(env); name != "" {
		return string(env.Kind) + ":" + name
	}
	return string(env.Kind)
}
