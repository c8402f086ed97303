package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Processor is what transports need: raw envelope in, raw reply out.
type Processor interface {
	// Process decodes data as an Envelope, dispatches it and returns the
	// encoded reply. A failed dispatch still produces an error reply; the
	// error is returned alongside it so transports can map it.
	Process(ctx context.Context, data []byte) ([]byte, error)

	// Health reports whether the processor can take work.
	Health(ctx context.Context) error
}

// Reply is what goes back to the host: exactly one of Result or Error.
type Reply struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody describes a failed dispatch.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DecodeEnvelope parses one envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &InvalidEnvelopeError{Reason: "envelope is not valid JSON", Err: err}
	}
	return env, nil
}

// NewReply wraps a successful result. It fails only when result cannot be
// encoded as JSON.
func NewReply(id string, result any) (*Reply, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Reply{ID: id, Result: raw}, nil
}

// NewErrorReply wraps a dispatch error. Panic details are not sent to the
// host.
func NewErrorReply(id string, err error) *Reply {
	message := err.Error()
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		message = "an internal error occurred"
	}

	return &Reply{
		ID: id,
		Error: &ErrorBody{
			Name:    ErrorName(err),
			Message: message,
			Code:    ErrorCode(err),
		},
	}
}

// EncodeReply encodes the outcome of a dispatch. A result that cannot be
// encoded is reported as an error reply.
func EncodeReply(id string, result any, err error) []byte {
	data, _ := encodeReply(id, result, err)
	return data
}

// encodeReply also returns the error the reply carries, if any.
func encodeReply(id string, result any, err error) ([]byte, error) {
	if err == nil {
		var r *Reply
		if r, err = NewReply(id, result); err == nil {
			// Reply holds raw JSON and strings only.
			data, _ := json.Marshal(r)
			return data, nil
		}
		err = fmt.Errorf("encode result: %w", err)
	}

	data, _ := json.Marshal(NewErrorReply(id, err))
	return data, err
}

// Process implements Processor.
func (d *Dispatcher) Process(ctx context.Context, data []byte) ([]byte, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return encodeReply("", nil, err)
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}

	result, err := d.Dispatch(ctx, env)
	return encodeReply(env.ID, result, err)
}
