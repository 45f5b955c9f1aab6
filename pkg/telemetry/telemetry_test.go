package telemetry

import (
	"context"
	"testing"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown err: %v", err)
	}
}

func TestCounter_UsableWithGlobalNoopProvider(t *testing.T) {
	c := Counter("memorial-credits/test", "test.counter", "test")
	if c == nil {
		t.Fatalf("expected counter")
	}
	c.Add(context.Background(), 1)
}

func TestForceFlush_NoopProviders(t *testing.T) {
	if err := ForceFlush(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
