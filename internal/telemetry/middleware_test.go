package telemetry

import (
	"context"
	"testing"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	tel, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tel
}

func TestWrapUnarySuccessRecordsResponseModel(t *testing.T) {
	tel := newTestTelemetry(t)

	resp, err := tel.WrapUnary(context.Background(), "openai", "gpt-4o", func(ctx context.Context) (protocol.UnifiedResponse, error) {
		return protocol.UnifiedResponse{
			Model:        "gpt-4o-2024-08-06",
			FinishReason: "stop",
			Usage:        protocol.Usage{InputTokens: 10, OutputTokens: 20},
		}, nil
	})
	if err != nil {
		t.Fatalf("WrapUnary() error = %v", err)
	}
	if resp.Model != "gpt-4o-2024-08-06" {
		t.Errorf("resp.Model = %q", resp.Model)
	}
}

func TestWrapUnaryErrorPropagates(t *testing.T) {
	tel := newTestTelemetry(t)
	wantErr := gatewayerr.ProviderAPIError(503, "upstream down")

	_, err := tel.WrapUnary(context.Background(), "openai", "gpt-4o", func(ctx context.Context) (protocol.UnifiedResponse, error) {
		return protocol.UnifiedResponse{}, wantErr
	})
	if err != wantErr {
		t.Errorf("WrapUnary() error = %v, want %v", err, wantErr)
	}
}

func TestWrapStreamPassesEventsThroughUnmodified(t *testing.T) {
	tel := newTestTelemetry(t)

	in := make(chan protocol.StreamEvent, 3)
	in <- protocol.StreamEvent{Kind: protocol.StreamEventDelta, Model: "gpt-4o", Delta: "hel"}
	in <- protocol.StreamEvent{Kind: protocol.StreamEventUsage, Usage: &protocol.Usage{InputTokens: 5, OutputTokens: 7}}
	in <- protocol.StreamEvent{Kind: protocol.StreamEventDone, FinishReason: "stop"}
	close(in)

	out := tel.WrapStream(context.Background(), "openai", "gpt-4o", in)

	var got []protocol.StreamEvent
	for ev := range out {
		got = append(got, ev)
	}

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Kind != protocol.StreamEventDelta || got[0].Delta != "hel" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[2].Kind != protocol.StreamEventDone || got[2].FinishReason != "stop" {
		t.Errorf("event 2 = %+v", got[2])
	}
}

func TestWrapStreamRecordsErrorEventWithoutDroppingIt(t *testing.T) {
	tel := newTestTelemetry(t)

	in := make(chan protocol.StreamEvent, 1)
	in <- protocol.StreamEvent{Kind: protocol.StreamEventError, Err: gatewayerr.ConnectionError("reset")}
	close(in)

	out := tel.WrapStream(context.Background(), "anthropic", "claude-3-5-sonnet", in)

	ev, ok := <-out
	if !ok {
		t.Fatal("expected one event on the relay")
	}
	if ev.Kind != protocol.StreamEventError {
		t.Errorf("event.Kind = %v, want StreamEventError", ev.Kind)
	}
	if _, ok := <-out; ok {
		t.Error("expected channel to close after the single event")
	}
}
