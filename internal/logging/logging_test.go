package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

func TestWithRequest_AddsActorAndTrace(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := reqctx.WithTraceID(reqctx.WithActor(context.Background(), "admin-7"), "trace-1")
	WithRequest(ctx, base).Info().Msg("bulk cancelled")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["actor"] != "admin-7" {
		t.Errorf("actor = %v", line["actor"])
	}
	if line["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v", line["trace_id"])
	}
	if line["message"] != "bulk cancelled" {
		t.Errorf("message = %v", line["message"])
	}
}

func TestWithRequest_SystemActorWithoutTrace(t *testing.T) {
	var buf bytes.Buffer

	WithRequest(context.Background(), zerolog.New(&buf)).Warn().Msg("sweep")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["actor"] != "system" {
		t.Errorf("actor = %v", line["actor"])
	}
	if _, ok := line["trace_id"]; ok {
		t.Errorf("trace_id should be absent, got %v", line["trace_id"])
	}
}

func TestNew_FallsBackToInfo(t *testing.T) {
	logger := New("production", "not-a-level", "appointment-service")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s", logger.GetLevel())
	}
}
