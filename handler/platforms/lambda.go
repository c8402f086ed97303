package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/observability"
	"cloudcode/observability/types"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// LambdaRuntime serves envelopes from AWS Lambda. An invocation is either an
// envelope, answered with its reply, or an SQS batch whose message bodies are
// envelopes processed for their side effects.
type LambdaRuntime struct {
	processor handler.Processor
	logger    observability.Logger
	metrics   observability.Metrics
	config    *config.LambdaConfig
}

// NewLambdaRuntime creates the Lambda transport.
func NewLambdaRuntime(cfg *config.LambdaConfig, processor handler.Processor, provider observability.Provider) *LambdaRuntime {
	return &LambdaRuntime{
		processor: processor,
		logger:    provider.Logger("transport.lambda"),
		metrics:   provider.Metrics("transport.lambda"),
		config:    cfg,
	}
}

// Name implements Runtime.
func (rt *LambdaRuntime) Name() string { return config.TransportLambda }

// Start hands control to the Lambda runtime. It does not return while the
// function is alive.
func (rt *LambdaRuntime) Start(ctx context.Context) error {
	rt.logger.Info(ctx, "Starting Lambda runtime", types.Fields{
		"partial_batch_failure": rt.config.EnablePartialBatchFailure,
	})
	lambda.Start(rt.HandleEvent)
	return nil
}

// Stop is a no-op; the Lambda service owns the process lifecycle.
func (rt *LambdaRuntime) Stop(ctx context.Context) error {
	return nil
}

// HandleEvent is the Lambda entry point.
func (rt *LambdaRuntime) HandleEvent(ctx context.Context, event json.RawMessage) (any, error) {
	ctx = context.WithValue(ctx, types.TransportKey, config.TransportLambda)

	if sqsEvent, ok := tryParseSQSEvent(event); ok {
		return rt.processSQSEvent(ctx, sqsEvent)
	}

	if isEnvelope(event) {
		return rt.processEnvelope(ctx, event)
	}

	rt.logger.Error(ctx, "Unsupported event type", nil, types.Fields{"event_size": len(event)})
	rt.metrics.RecordError("unsupported", "UnsupportedEvent")
	return nil, fmt.Errorf("unsupported event type")
}

// processEnvelope answers a direct invocation. Dispatch failures are part of
// the reply, so the invocation itself succeeds.
func (rt *LambdaRuntime) processEnvelope(ctx context.Context, event json.RawMessage) (any, error) {
	start := time.Now()
	reply, err := rt.processor.Process(ctx, event)
	rt.metrics.RecordDuration("envelope", time.Since(start).Seconds())

	if err != nil {
		rt.metrics.RecordError("envelope", handler.ErrorName(err))
	} else {
		rt.metrics.RecordSuccess("envelope")
	}

	return json.RawMessage(reply), nil
}

// processSQSEvent handles SQS batch events
func (rt *LambdaRuntime) processSQSEvent(ctx context.Context, event events.SQSEvent) (any, error) {
	response := events.SQSEventResponse{
		BatchItemFailures: []events.SQSBatchItemFailure{},
	}

	rt.logger.Info(ctx, "Processing SQS batch", types.Fields{
		"batch_size": len(event.Records),
	})

	failures := 0
	for _, record := range event.Records {
		if err := rt.processSQSMessage(ctx, record); err != nil {
			failures++
			rt.metrics.RecordError("sqs_record", handler.ErrorName(err))
			rt.logger.Error(ctx, "SQS message failed", err, types.Fields{
				"message_id": record.MessageId,
			})

			if rt.config.EnablePartialBatchFailure {
				response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
					ItemIdentifier: record.MessageId,
				})
			}
			continue
		}
		rt.metrics.RecordSuccess("sqs_record")
	}

	rt.logger.Info(ctx, "SQS batch processing complete", types.Fields{
		"total_messages": len(event.Records),
		"failure_count":  failures,
	})

	if !rt.config.EnablePartialBatchFailure && failures > 0 {
		return response, fmt.Errorf("batch processing failed: %d/%d messages failed", failures, len(event.Records))
	}
	return response, nil
}

func (rt *LambdaRuntime) processSQSMessage(ctx context.Context, record events.SQSMessage) error {
	ctx = context.WithValue(ctx, types.RequestIDKey, record.MessageId)

	start := time.Now()
	reply, err := rt.processor.Process(ctx, []byte(record.Body))
	rt.metrics.RecordDuration("sqs_record", time.Since(start).Seconds())

	if err != nil {
		return err
	}

	rt.logger.Debug(ctx, "SQS message processed", types.Fields{
		"message_id": record.MessageId,
		"reply_size": len(reply),
	})
	return nil
}

func tryParseSQSEvent(event json.RawMessage) (events.SQSEvent, bool) {
	var sqsEvent events.SQSEvent
	err := json.Unmarshal(event, &sqsEvent)
	return sqsEvent, err == nil && len(sqsEvent.Records) > 0
}

func isEnvelope(event json.RawMessage) bool {
	var probe struct {
		Kind string `json:"kind"`
	}
	return json.Unmarshal(event, &probe) == nil && probe.Kind != ""
}
