package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/salama/internal/llm"
)

// instruments is the recording state shared by the model wrappers.
// Every field may be nil; each recording path checks once.
type instruments struct {
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

func newInstruments(metrics *MetricsCollector, tr *Tracing, anomaly *AnomalyDetector) instruments {
	in := instruments{metrics: metrics, anomaly: anomaly}
	if tr != nil {
		in.tracer = tr.Tracer()
	}
	return in
}

// span opens a child span when tracing is on. The returned end func is
// a no-op otherwise, so call sites need no nil checks.
func (in instruments) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if in.tracer == nil {
		return ctx, func() {}
	}
	ctx, sp := in.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { sp.End() }
}

// record folds one upstream call outcome into every enabled component:
// the request counter and latency histogram, token counters on success,
// span error status on failure, and the upstream error monitor.
func (in instruments) record(ctx context.Context, provider, operation string, elapsed time.Duration, usage llm.Usage, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if in.tracer != nil {
			sp := trace.SpanFromContext(ctx)
			sp.RecordError(err)
			sp.SetStatus(codes.Error, err.Error())
		}
	}

	if in.metrics != nil {
		in.metrics.LLMRequestsTotal.WithLabelValues(provider, operation, status).Inc()
		in.metrics.LLMRequestDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
		if err == nil {
			in.metrics.LLMTokensUsed.WithLabelValues(provider, operation, "input").Add(float64(usage.PromptTokens))
			in.metrics.LLMTokensUsed.WithLabelValues(provider, operation, "output").Add(float64(usage.CompletionTokens))
		}
	}

	in.anomaly.Record(provider, operation, err == nil)
}

// InstrumentedChatModel wraps an llm.ChatModel with metrics, tracing,
// and error rate monitoring.
type InstrumentedChatModel struct {
	inner llm.ChatModel
	instruments
}

// NewInstrumentedChatModel wraps a chat model with observability.
func NewInstrumentedChatModel(inner llm.ChatModel, metrics *MetricsCollector, tr *Tracing, anomaly *AnomalyDetector) *InstrumentedChatModel {
	return &InstrumentedChatModel{inner: inner, instruments: newInstruments(metrics, tr, anomaly)}
}

func (m *InstrumentedChatModel) Name() string { return m.inner.Name() }

func (m *InstrumentedChatModel) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	provider := m.inner.Name()
	ctx, end := m.span(ctx, "llm.chat", attribute.String("llm.provider", provider))
	defer end()

	start := time.Now()
	resp, err := m.inner.Chat(ctx, req)

	var usage llm.Usage
	if resp != nil {
		usage = resp.Usage
	}
	m.record(ctx, provider, "chat", time.Since(start), usage, err)
	return resp, err
}

// InstrumentedCompletionModel wraps an llm.CompletionModel with observability.
type InstrumentedCompletionModel struct {
	inner llm.CompletionModel
	instruments
}

// NewInstrumentedCompletionModel wraps a completion model with observability.
func NewInstrumentedCompletionModel(inner llm.CompletionModel, metrics *MetricsCollector, tr *Tracing, anomaly *AnomalyDetector) *InstrumentedCompletionModel {
	return &InstrumentedCompletionModel{inner: inner, instruments: newInstruments(metrics, tr, anomaly)}
}

func (m *InstrumentedCompletionModel) Name() string { return m.inner.Name() }

func (m *InstrumentedCompletionModel) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider := m.inner.Name()
	ctx, end := m.span(ctx, "llm.complete", attribute.String("llm.provider", provider))
	defer end()

	start := time.Now()
	resp, err := m.inner.Complete(ctx, req)

	var usage llm.Usage
	if resp != nil {
		usage = resp.Usage
	}
	m.record(ctx, provider, "completion", time.Since(start), usage, err)
	return resp, err
}

// InstrumentedEmbeddingModel wraps an llm.EmbeddingModel with observability.
type InstrumentedEmbeddingModel struct {
	inner llm.EmbeddingModel
	instruments
}

// NewInstrumentedEmbeddingModel wraps an embedding model with observability.
func NewInstrumentedEmbeddingModel(inner llm.EmbeddingModel, metrics *MetricsCollector, tr *Tracing, anomaly *AnomalyDetector) *InstrumentedEmbeddingModel {
	return &InstrumentedEmbeddingModel{inner: inner, instruments: newInstruments(metrics, tr, anomaly)}
}

func (m *InstrumentedEmbeddingModel) Name() string { return m.inner.Name() }

func (m *InstrumentedEmbeddingModel) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	provider := m.inner.Name()
	ctx, end := m.span(ctx, "llm.embed",
		attribute.String("llm.provider", provider),
		attribute.Int("llm.input_count", len(req.Input)),
	)
	defer end()

	start := time.Now()
	resp, err := m.inner.Embed(ctx, req)

	var usage llm.Usage
	if resp != nil {
		usage = resp.Usage
	}
	m.record(ctx, provider, "embedding", time.Since(start), usage, err)
	return resp, err
}

var (
	_ llm.ChatModel       = (*InstrumentedChatModel)(nil)
	_ llm.CompletionModel = (*InstrumentedCompletionModel)(nil)
	_ llm.EmbeddingModel  = (*InstrumentedEmbeddingModel)(nil)
)
