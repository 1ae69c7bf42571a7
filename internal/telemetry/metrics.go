// Package telemetry wraps dispatched chat requests with GenAI semantic
// convention metrics and tracing, grounded on
// original_source/crates/llm/src/telemetry/chat/metrics.rs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const operationName = "chat"

// Attribute keys, following the GenAI semantic conventions named in the
// spec's telemetry section.
const (
	attrOperationName  = "gen_ai.operation.name"
	attrProviderName   = "gen_ai.provider.name"
	attrRequestModel   = "gen_ai.request.model"
	attrResponseModel  = "gen_ai.response.model"
	attrTokenType      = "gen_ai.token.type"
	attrErrorType      = "error.type"
	metricDuration     = "gen_ai.client.operation.duration"
	metricTTFT         = "gen_ai.client.time_to_first_token"
	metricTokenUsage   = "gen_ai.client.token.usage"
	tokenTypeInput     = "input"
	tokenTypeOutput    = "output"
)

// durationBuckets are the explicit histogram boundaries shared by both
// latency histograms; the original carries no min/max override.
var durationBuckets = []float64{
	0.01, 0.02, 0.03, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.65,
	0.8, 1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 3.0, 4.0, 5.0,
}

// Telemetry holds the instruments shared across every dispatched request.
// A single instance is constructed at startup and passed to gateway.New.
type Telemetry struct {
	meter          metric.Meter
	durationHist   metric.Float64Histogram
	ttftHist       metric.Float64Histogram
	tokenUsageHist metric.Int64Histogram
}

// New builds a Telemetry instance from the global OTel meter provider. The
// meter provider itself (OTLP exporter, resource attributes, export
// interval) is wired by cmd/gateway/main.go at startup; this constructor
// only declares the instruments this package owns.
func New() (*Telemetry, error) {
	meter := otel.Meter("gateway/llm")

	durationHist, err := meter.Float64Histogram(
		metricDuration,
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	ttftHist, err := meter.Float64Histogram(
		metricTTFT,
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	tokenUsageHist, err := meter.Int64Histogram(metricTokenUsage)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		meter:          meter,
		durationHist:   durationHist,
		ttftHist:       ttftHist,
		tokenUsageHist: tokenUsageHist,
	}, nil
}

// Recorder is the Go stand-in for the original's Drop-based Recorder:
// since Go has no destructors, callers must call Finish exactly once,
// from a defer in the unary path or from the stream-closing goroutine in
// the streaming path.
type Recorder struct {
	t       *Telemetry
	start   time.Time
	attrs   []attribute.KeyValue

	errorType     string
	responseModel string
	inputTokens   int64
	outputTokens  int64

	ttftStart    time.Time
	ttftObserved bool

	finished bool
}

// NewRecorder starts timing a dispatched request and seeds the attribute
// set shared by every histogram observation it will emit.
func (t *Telemetry) NewRecorder(provider, model string) *Recorder {
	return &Recorder{
		t:         t,
		start:     time.Now(),
		ttftStart: time.Now(),
		attrs: []attribute.KeyValue{
			attribute.String(attrOperationName, operationName),
			attribute.String(attrProviderName, provider),
			attribute.String(attrRequestModel, model),
		},
	}
}

// SetResponseModel records gen_ai.response.model for the final emission.
// Kept in its own field per the spec's correction of the original's bug
// (the sample source overwrote error_type with the response model) —
// responseModel and errorType are tracked independently here and never
// conflated.
func (r *Recorder) SetResponseModel(model string) {
	if model != "" && r.responseModel == "" {
		r.responseModel = model
	}
}

// SetErrorType marks the request as failed with the given gatewayerr kind.
func (r *Recorder) SetErrorType(errType string) {
	if errType != "" && r.errorType == "" {
		r.errorType = errType
	}
}

// AddTokens accumulates token counts as streamed chunks or the final
// unary response report usage.
func (r *Recorder) AddTokens(input, output int) {
	r.inputTokens += int64(input)
	r.outputTokens += int64(output)
}

// ObserveFirstToken stops the time-to-first-token timer on the first
// chunk carrying a non-empty delta; later calls are no-ops.
func (r *Recorder) ObserveFirstToken(ctx context.Context) {
	if r.ttftObserved {
		return
	}
	r.ttftObserved = true
	r.t.ttftHist.Record(ctx, time.Since(r.ttftStart).Seconds(), metric.WithAttributes(r.attrs...))
}

// Finish emits the duration histogram and, if any tokens were recorded,
// the token-usage histograms. It must be called exactly once.
func (r *Recorder) Finish(ctx context.Context) {
	if r.finished {
		return
	}
	r.finished = true

	attrs := r.attrs
	if r.errorType != "" {
		attrs = append(attrs, attribute.String(attrErrorType, r.errorType))
	}
	if r.responseModel != "" {
		attrs = append(attrs, attribute.String(attrResponseModel, r.responseModel))
	}

	r.t.durationHist.Record(ctx, time.Since(r.start).Seconds(), metric.WithAttributes(attrs...))

	if r.inputTokens > 0 {
		inAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String(attrTokenType, tokenTypeInput))
		r.t.tokenUsageHist.Record(ctx, r.inputTokens, metric.WithAttributes(inAttrs...))
	}
	if r.outputTokens > 0 {
		outAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String(attrTokenType, tokenTypeOutput))
		r.t.tokenUsageHist.Record(ctx, r.outputTokens, metric.WithAttributes(outAttrs...))
	}
}
