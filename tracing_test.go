package evalauth

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEngineEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ids := newFakeIdentities()
	seedAx(t, ids)
	engine := buildTestEngine(t, testConfig(), ids, func(b *Builder) { b.WithTracerProvider(tp) })
	ctx := context.Background()

	pair := loginPair(t, engine)
	if _, err := engine.Refresh(ctx, pair.Refresh.Token); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := engine.Logout(ctx, pair.Refresh.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	spans := recorder.Ended()
	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		names[s.Name()] = s
	}
	for _, want := range []string{"evalauth.Authenticate", "evalauth.Refresh", "evalauth.Logout"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("missing span %s; got %d spans", want, len(spans))
		}
	}

	var outcome string
	for _, kv := range names["evalauth.Authenticate"].Attributes() {
		if kv.Key == attribute.Key("evalauth.outcome") {
			outcome = kv.Value.AsString()
		}
	}
	if outcome != "success" {
		t.Fatalf("expected success outcome attribute, got %q", outcome)
	}
}
