package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gateway/llm")

// Span wraps one dispatched request's trace span, grounded on the
// tracer.Start / deferred span.End() pattern in
// other_examples/...zchee-tumix__gollm-anthropic.go.go.
type Span struct {
	span trace.Span

	modelSet        bool
	finishReasonSet bool
	usageSet        bool
}

// StartSpan opens a span for one dispatched chat request.
func StartSpan(ctx context.Context, provider, model string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, "chat")
	span.SetAttributes(
		attribute.String(attrOperationName, operationName),
		attribute.String(attrProviderName, provider),
		attribute.String(attrRequestModel, model),
	)
	return ctx, &Span{span: span}
}

// SetResponseModel records gen_ai.response.model from the first chunk
// that carries it; later calls are no-ops.
func (s *Span) SetResponseModel(model string) {
	if s.modelSet || model == "" {
		return
	}
	s.modelSet = true
	s.span.SetAttributes(attribute.String(attrResponseModel, model))
}

// SetFinishReason records gen_ai.response.finish_reason from the first
// choice that carries one.
func (s *Span) SetFinishReason(reason string) {
	if s.finishReasonSet || reason == "" {
		return
	}
	s.finishReasonSet = true
	s.span.SetAttributes(attribute.String("gen_ai.response.finish_reason", reason))
}

// SetUsage records gen_ai.usage.{input,output,total}_tokens from the
// first chunk carrying usage.
func (s *Span) SetUsage(input, output int) {
	if s.usageSet {
		return
	}
	s.usageSet = true
	s.span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", input),
		attribute.Int("gen_ai.usage.output_tokens", output),
		attribute.Int("gen_ai.usage.total_tokens", input+output),
	)
}

// SetError marks the span as failed with the given gatewayerr kind.
func (s *Span) SetError(errType string) {
	s.span.SetAttributes(attribute.Bool("error", true), attribute.String(attrErrorType, errType))
	s.span.SetStatus(codes.Error, errType)
}

// End closes the span. Must be called exactly once, from a defer in the
// unary path or the stream-closing goroutine in the streaming path.
func (s *Span) End() {
	s.span.End()
}
