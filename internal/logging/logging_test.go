package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("train_id", "T1"))

	at := time.Date(2025, time.March, 1, 8, 0, 5, 0, time.UTC)
	log.Warn(context.Background(), "brake engaged",
		Bool("owned", true),
		Float("speed", 5.5),
		Time("sim_time", at),
		Err(errors.New("door open")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "brake engaged" || entry["level"] != "WARN" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["train_id"] != "T1" || entry["owned"] != true || entry["speed"] != 5.5 {
		t.Fatalf("missing fields: %v", entry)
	}
	if entry["sim_time"] != "2025-03-01T08:00:05.000Z" {
		t.Fatalf("sim_time = %v", entry["sim_time"])
	}
	if entry["error"] != "door open" {
		t.Fatalf("error = %v", entry["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering failed: %q", buf.String())
	}
}

func TestNewFromEnvPrefersRailsimPrefix(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("RAILSIM_LOG_LEVEL", "debug")
	t.Setenv("RAILSIM_LOG_FORMAT", "json")

	var buf bytes.Buffer
	log := NewFromEnv(&buf)
	log.Debug(context.Background(), "visible at debug")
	out := buf.String()
	if !strings.Contains(out, "visible at debug") || !strings.HasPrefix(out, "{") {
		t.Fatalf("NewFromEnv output = %q, want a JSON debug line", out)
	}
}

func TestRequestScopedLogger(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(ctx) != id {
		t.Fatalf("request id not stored")
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatalf("EnsureRequestID replaced an existing id")
	}

	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("FromContext returned nil")
	}
	l := Noop()
	if got := FromContext(ContextWithLogger(ctx, l), nil); got != l {
		t.Fatalf("FromContext did not return stored logger")
	}
}
