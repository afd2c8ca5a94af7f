package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization=Bearer abc , x-tenant=lend,broken,=skip")
	if len(headers) != 2 || headers["authorization"] != "Bearer abc" || headers["x-tenant"] != "lend" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerRatio(t *testing.T) {
	if got := sampler(0).Description(); got == "" {
		t.Fatalf("expected sampler description")
	}
	if sampler(0.25).Description() == sampler(1).Description() {
		t.Fatalf("ratio sampler must differ from always-on")
	}
}
