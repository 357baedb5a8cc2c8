package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/command"
	"github.com/goclaw/sagaflow/pkg/event"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	"github.com/goclaw/sagaflow/pkg/saga"
	"github.com/goclaw/sagaflow/pkg/version"
)

type recordedSpan struct {
	name  string
	scope string
	attrs []attribute.KeyValue
}

type recordingExporter struct {
	mu       sync.Mutex
	spans    []recordedSpan
	shutdown bool
	fail     error
	calls    int
}

func (r *recordingExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail != nil {
		return r.fail
	}
	for _, s := range spans {
		r.spans = append(r.spans, recordedSpan{
			name:  s.Name(),
			scope: s.InstrumentationScope().Name,
			attrs: s.Resource().Attributes(),
		})
	}
	return nil
}

func (r *recordingExporter) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	return nil
}

func (r *recordingExporter) find(name string) (recordedSpan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.spans {
		if s.name == name {
			return s, true
		}
	}
	return recordedSpan{}, false
}

type blockingShutdownExporter struct{}

func (blockingShutdownExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (blockingShutdownExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func useExporter(t *testing.T, exp sdktrace.SpanExporter) *bool {
	t.Helper()
	orig := exporters[ExporterOTLPGRPC]
	t.Cleanup(func() {
		exporters[ExporterOTLPGRPC] = orig
		otel.SetTracerProvider(noop.NewTracerProvider())
	})
	called := false
	exporters[ExporterOTLPGRPC] = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		called = true
		return exp, nil
	}
	return &called
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   ExporterOTLPGRPC,
		Endpoint:   "http://localhost:4317/v1/traces",
		Timeout:    time.Second,
		Sampler:    "always_on",
		SampleRate: 1.0,
	}
}

func testService() Service {
	return Service{
		App:        config.AppConfig{Name: "sagaflow-test", Version: "1.2.3", Environment: "staging"},
		InstanceID: "node-a",
	}
}

// shippingProcess moves open -> shipped on a Ship event.
func shippingProcess() *saga.Definition {
	open := saga.NewStage("open")
	shipped := saga.NewStage("shipped")
	isShip := func(_ context.Context, in *saga.Input) bool { return in.Event.Type == "Ship" }
	open.AddTransition(saga.NewTransition("ship", isShip, "Shipped").SetDestination(shipped))
	return saga.NewDefinition("shipping", open, open, shipped)
}

func TestInit_DisabledInstallsNoop(t *testing.T) {
	called := useExporter(t, &recordingExporter{})

	shutdown, err := Init(context.Background(), testService(), config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if *called {
		t.Fatal("exporter must not be created while tracing is disabled")
	}
	_, span := otel.Tracer("sagaflow.test").Start(context.Background(), "noop")
	if span.IsRecording() {
		t.Fatal("disabled tracing must not record spans")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestInit_RejectsBadConfig(t *testing.T) {
	useExporter(t, &recordingExporter{})

	tests := []struct {
		name   string
		mutate func(*config.TracingConfig)
		want   string
	}{
		{name: "unknown exporter", mutate: func(c *config.TracingConfig) { c.Exporter = "zipkin" }, want: "unsupported"},
		{name: "missing endpoint", mutate: func(c *config.TracingConfig) { c.Endpoint = " " }, want: "endpoint"},
		{name: "zero timeout", mutate: func(c *config.TracingConfig) { c.Timeout = 0 }, want: "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)
			_, err := Init(context.Background(), testService(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Init() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestInit_RecordsSagaflowSpans(t *testing.T) {
	exp := &recordingExporter{}
	useExporter(t, exp)

	ctx := context.Background()
	shutdown, err := Init(ctx, testService(), enabledConfig())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	def := shippingProcess()
	store := eventstore.Instrument(memory.New(), "memory", nil)
	repo := aggregate.NewRepository(store)
	future := command.Execute(ctx, command.RepositoryLoader[*saga.Saga](repo), def.Factory(), def.StreamID("s-1"),
		func(ctx context.Context, s *saga.Saga) (any, error) {
			return s.ProcessEvent(ctx, event.MustNew("Ship", nil), nil)
		},
		command.WithRetryStrategy(command.Counter(1)),
	)
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !exp.shutdown {
		t.Fatal("expected exporter shutdown")
	}

	for name, scope := range map[string]string{
		"command.execute":    "sagaflow.command",
		"saga.process_event": "sagaflow.saga",
		"eventstore.append":  "sagaflow.eventstore",
		"eventstore.load":    "sagaflow.eventstore",
	} {
		span, ok := exp.find(name)
		if !ok {
			t.Fatalf("span %q not exported", name)
		}
		if span.scope != scope {
			t.Fatalf("span %q scope = %q, want %q", name, span.scope, scope)
		}
	}

	span, _ := exp.find("command.execute")
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:               "sagaflow-test",
		semconv.ServiceNamespaceKey:          ServiceNamespace,
		semconv.ServiceVersionKey:            "1.2.3",
		semconv.DeploymentEnvironmentNameKey: "staging",
		semconv.ServiceInstanceIDKey:         "node-a",
	}
	got := make(map[attribute.Key]string, len(span.attrs))
	for _, kv := range span.attrs {
		got[kv.Key] = kv.Value.Emit()
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("resource %s = %q, want %q", key, got[key], value)
		}
	}
}

func TestInit_ExportFailureDropsSpans(t *testing.T) {
	exp := &recordingExporter{fail: errors.New("collector unavailable")}
	useExporter(t, exp)

	origReport := reportDroppedSpans
	t.Cleanup(func() { reportDroppedSpans = origReport })
	var reportedTotal int64
	reportDroppedSpans = func(err error, exporter, endpoint string, dropped int, total int64) {
		if err == nil || exporter != ExporterOTLPGRPC || endpoint != "localhost:4317" || dropped <= 0 {
			t.Errorf("unexpected report: err=%v exporter=%q endpoint=%q dropped=%d", err, exporter, endpoint, dropped)
		}
		reportedTotal = total
	}

	shutdown, err := Init(context.Background(), testService(), enabledConfig())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		_, span := otel.Tracer("sagaflow.test").Start(context.Background(), "request")
		span.End()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() must not fail on export errors: %v", err)
	}
	if exp.calls == 0 {
		t.Fatal("expected export attempts")
	}
	if reportedTotal != 3 {
		t.Fatalf("dropped total = %d, want 3", reportedTotal)
	}
}

func TestShutdown_TimeoutIsBounded(t *testing.T) {
	useExporter(t, blockingShutdownExporter{})

	shutdown, err := Init(context.Background(), testService(), enabledConfig())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err == nil {
		t.Fatal("expected a timeout error from shutdown()")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown took %v", elapsed)
	}
}

func TestResource_Defaults(t *testing.T) {
	res, err := Resource(context.Background(), Service{App: config.AppConfig{Version: "dev"}})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	if got[semconv.ServiceNameKey] != ServiceNamespace {
		t.Fatalf("service.name = %q", got[semconv.ServiceNameKey])
	}
	if got[semconv.ServiceVersionKey] != version.Version {
		t.Fatalf("service.version = %q, want build version %q", got[semconv.ServiceVersionKey], version.Version)
	}
	if _, ok := got[semconv.ServiceInstanceIDKey]; ok {
		t.Fatal("service.instance.id must be omitted when unset")
	}
}

func TestSelectSampler(t *testing.T) {
	tests := map[string]string{
		"always_on":                "AlwaysOnSampler",
		"always_off":               "AlwaysOffSampler",
		"parentbased_traceidratio": "ParentBased",
		"":                         "ParentBased",
	}
	for sampler, want := range tests {
		got := selectSampler(config.TracingConfig{Sampler: sampler, SampleRate: 0.25}).Description()
		if !strings.Contains(got, want) {
			t.Errorf("selectSampler(%q) = %s, want %s", sampler, got, want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"localhost:4317":                   "localhost:4317",
		" http://localhost:4317/v1/traces": "localhost:4317",
		"grpc://collector:4317":            "collector:4317",
		"":                                 "",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
