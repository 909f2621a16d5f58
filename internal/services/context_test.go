package services_test

import (
	"context"
	"testing"

	"convertd/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "job-1")
	ctx = services.WithConversionID(ctx, "conv-1")
	ctx = services.WithJobType(ctx, "conversion")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if id, ok := services.ConversionIDFromContext(ctx); !ok || id != "conv-1" {
		t.Fatalf("unexpected conversion id: %v %v", id, ok)
	}
	if jt, ok := services.JobTypeFromContext(ctx); !ok || jt != "conversion" {
		t.Fatalf("unexpected job type: %v %v", jt, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected blank job id to be ignored")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected blank request id to be ignored")
	}
}
