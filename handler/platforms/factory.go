// Package platforms carries envelopes between a host and a handler.Processor
// over HTTP, stdio, AWS Lambda or RabbitMQ.
package platforms

import (
	"context"
	"fmt"
	"os"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/observability"
)

// Runtime is a transport bound to a processor.
type Runtime interface {
	// Name identifies the transport ("http", "stdio", ...).
	Name() string

	// Start serves envelopes until ctx is done, Stop is called or the input
	// is exhausted.
	Start(ctx context.Context) error

	// Stop shuts the transport down gracefully.
	Stop(ctx context.Context) error
}

// Create returns the runtime selected by cfg.Transport. "auto" picks lambda
// inside AWS Lambda and http everywhere else.
func Create(cfg *config.Config, processor handler.Processor, provider observability.Provider) (Runtime, error) {
	if processor == nil {
		return nil, fmt.Errorf("create runtime: processor is required")
	}

	transport := cfg.Transport
	if transport == "" || transport == config.TransportAuto {
		transport = handler.DetectTransport()
	}

	switch transport {
	case config.TransportHTTP:
		return NewHTTPRuntime(&cfg.HTTP, cfg.Handler.MaxRequestSize, processor, provider), nil
	case config.TransportStdio:
		return NewStdioRuntime(os.Stdin, os.Stdout, processor, provider), nil
	case config.TransportLambda:
		return NewLambdaRuntime(&cfg.Lambda, processor, provider), nil
	case config.TransportRabbitMQ:
		return NewRabbitMQRuntime(&cfg.RabbitMQ, processor, provider), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", transport)
	}
}
