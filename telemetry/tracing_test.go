package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing("", "queuebot", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	defer shutdown()
	if IsTracingEnabled() {
		t.Error("tracing enabled without an endpoint")
	}

	// spans are no-ops but the helpers must still be safe to call
	ctx, span := StartSpan(WithCorrelation(context.Background(), "corr-1"), "test.span", CommandAttr("join"))
	RecordError(span, errors.New("boom"))
	SetSpanSuccess(span)
	span.End()
	if GetCorrelation(ctx) != "corr-1" {
		t.Errorf("correlation lost through StartSpan")
	}
}
