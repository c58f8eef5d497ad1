package telemetry

import (
	"context"
	"testing"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		enabled  string
	}{
		{"no endpoint", "", ""},
		{"explicitly disabled", "http://localhost:4318", "false"},
		// Non-routable address, so nothing is exported.
		{"endpoint set", "http://192.0.2.1:4318", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvEndpoint, tc.endpoint)
			t.Setenv(EnvEnabled, tc.enabled)

			shutdown, err := Setup(context.Background(), "auth0rules-test")
			if err != nil {
				t.Fatalf("Setup() failed: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown failed: %v", err)
			}
		})
	}
}

func TestTracer(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	if span == nil {
		t.Fatal("Tracer().Start() returned a nil span")
	}
}
