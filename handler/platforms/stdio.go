package platforms

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/observability"
	"cloudcode/observability/types"
)

// StdioRuntime reads a stream of JSON envelopes and writes one reply per
// line. Envelopes are handled one at a time, in order.
type StdioRuntime struct {
	in        io.Reader
	out       *bufio.Writer
	processor handler.Processor
	logger    observability.Logger
	metrics   observability.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStdioRuntime creates a stdio transport. Logs must not go to out.
func NewStdioRuntime(in io.Reader, out io.Writer, processor handler.Processor, provider observability.Provider) *StdioRuntime {
	return &StdioRuntime{
		in:        in,
		out:       bufio.NewWriter(out),
		processor: processor,
		logger:    provider.Logger("transport.stdio"),
		metrics:   provider.Metrics("transport.stdio"),
	}
}

// Name implements Runtime.
func (rt *StdioRuntime) Name() string { return config.TransportStdio }

// Start processes envelopes until the input ends (returns nil), ctx is done,
// Stop is called, or the stream stops being valid JSON. In the last case an
// error reply is written before Start returns the error.
func (rt *StdioRuntime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.cancel = cancel
	rt.mu.Unlock()
	defer cancel()

	ctx = context.WithValue(ctx, types.TransportKey, config.TransportStdio)
	dec := json.NewDecoder(rt.in)

	rt.logger.Info(ctx, "Stdio transport started", nil)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				rt.logger.Info(ctx, "Stdio input closed", nil)
				return nil
			}

			invalid := &handler.InvalidEnvelopeError{Reason: "unreadable input stream", Err: err}
			rt.metrics.RecordError("envelope", handler.ErrorName(invalid))
			if wErr := rt.write(handler.EncodeReply("", nil, invalid)); wErr != nil {
				return wErr
			}
			return invalid
		}

		if err := rt.handle(ctx, raw); err != nil {
			return err
		}
	}
}

func (rt *StdioRuntime) handle(ctx context.Context, raw []byte) error {
	start := time.Now()

	reply, err := rt.processor.Process(ctx, raw)

	rt.metrics.RecordDuration("envelope", time.Since(start).Seconds())
	if err != nil {
		rt.metrics.RecordError("envelope", handler.ErrorName(err))
	} else {
		rt.metrics.RecordSuccess("envelope")
	}

	return rt.write(reply)
}

func (rt *StdioRuntime) write(reply []byte) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, err := rt.out.Write(reply); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	if err := rt.out.WriteByte('\n'); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	if err := rt.out.Flush(); err != nil {
		return fmt.Errorf("flush reply: %w", err)
	}
	return nil
}

// Stop makes Start return after the envelope in progress. A read blocked on
// the input is not interrupted.
func (rt *StdioRuntime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.cancel != nil {
		rt.cancel()
	}
	return nil
}
