package telemetry

import (
	"context"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol"
)

// errorType maps a dispatch error onto the short taxonomy string recorded
// as error.type, reusing the same Kind-derived string the OpenAI error
// envelope renders rather than inventing a second taxonomy.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	return gatewayerr.AsGatewayError(err).OpenAIType()
}

// WrapUnary times a single non-streaming dispatch, emitting the duration
// histogram and (on success) the token-usage histograms, and closing the
// trace span. fn performs the actual provider call.
func (t *Telemetry) WrapUnary(
	ctx context.Context,
	provider, model string,
	fn func(ctx context.Context) (protocol.UnifiedResponse, error),
) (protocol.UnifiedResponse, error) {
	ctx, span := StartSpan(ctx, provider, model)
	rec := t.NewRecorder(provider, model)
	defer span.End()
	defer rec.Finish(ctx)

	resp, err := fn(ctx)
	if err != nil {
		kind := errorType(err)
		rec.SetErrorType(kind)
		span.SetError(kind)
		return resp, err
	}

	rec.SetResponseModel(resp.Model)
	rec.AddTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetResponseModel(resp.Model)
	span.SetFinishReason(resp.FinishReason)
	span.SetUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return resp, nil
}

// WrapStream relays events from a provider's stream through the metrics
// and tracing layers without reordering or buffering (spec §4.5 Ordering
// guarantee): a single-item pass-through that updates the recorder/span
// as each event crosses, and finishes both when the source stream closes.
func (t *Telemetry) WrapStream(ctx context.Context, provider, model string, in <-chan protocol.StreamEvent) <-chan protocol.StreamEvent {
	ctx, span := StartSpan(ctx, provider, model)
	rec := t.NewRecorder(provider, model)

	out := make(chan protocol.StreamEvent, 1)
	go func() {
		defer close(out)
		defer span.End()
		defer rec.Finish(ctx)

		for ev := range in {
			switch ev.Kind {
			case protocol.StreamEventDelta:
				if ev.Delta != "" {
					rec.ObserveFirstToken(ctx)
				}
				rec.SetResponseModel(ev.Model)
				span.SetResponseModel(ev.Model)
			case protocol.StreamEventToolDelta:
				rec.ObserveFirstToken(ctx)
				rec.SetResponseModel(ev.Model)
				span.SetResponseModel(ev.Model)
			case protocol.StreamEventUsage:
				if ev.Usage != nil {
					rec.AddTokens(ev.Usage.InputTokens, ev.Usage.OutputTokens)
					span.SetUsage(ev.Usage.InputTokens, ev.Usage.OutputTokens)
				}
			case protocol.StreamEventDone:
				span.SetFinishReason(ev.FinishReason)
			case protocol.StreamEventError:
				kind := errorType(ev.Err)
				rec.SetErrorType(kind)
				span.SetError(kind)
			}

			out <- ev
		}
	}()

	return out
}
