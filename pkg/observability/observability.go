// Package observability exposes the module's OpenTelemetry tracer and meters.
//
// Instrumentation is best-effort: when no SDK is installed the global
// no-op providers make every call free.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/taleweave/taleweave"

// Span names.
const (
	SpanTurn       = "coordinator.turn"
	SpanDispatch   = "coordinator.dispatch"
	SpanLLMRequest = "llm.request"
)

// Attribute keys.
const (
	AttrModel        = "llm.model"
	AttrProvider     = "llm.provider"
	AttrTurn         = "turn"
	AttrContributor  = "contributor.id"
	AttrTokensInput  = "llm.tokens.input"
	AttrTokensOutput = "llm.tokens.output"
)

func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

func Meter() metric.Meter {
	return otel.Meter(scopeName)
}

type Metrics struct {
	turns      metric.Int64Counter
	llmCalls   metric.Int64Counter
	llmLatency metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// GetMetrics lazily builds the shared instrument set.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		meter := Meter()
		turns, _ := meter.Int64Counter("taleweave.turns",
			metric.WithDescription("Completed coordinator turns"))
		llmCalls, _ := meter.Int64Counter("taleweave.llm.calls",
			metric.WithDescription("LLM provider calls"))
		llmLatency, _ := meter.Float64Histogram("taleweave.llm.latency",
			metric.WithDescription("LLM provider call latency"),
			metric.WithUnit("ms"))
		metrics = &Metrics{turns: turns, llmCalls: llmCalls, llmLatency: llmLatency}
	})
	return metrics
}

func (m *Metrics) RecordTurn(ctx context.Context) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.Add(ctx, 1)
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrModel, model),
		attribute.Bool("error", err != nil),
		attribute.Int(AttrTokensInput, inputTokens),
		attribute.Int(AttrTokensOutput, outputTokens),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}
