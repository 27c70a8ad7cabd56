package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupWriter_JSONWithRunID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")
	ctx := WithRunID(context.Background(), "run-42")
	FromContext(ctx).Info("pass finished", "docs", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["run_id"] != "run-42" || entry["msg"] != "pass finished" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupWriter_LevelFilters(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")
	WithComponent("retry").Info("hidden")
	WithComponent("retry").Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "component=retry") {
		t.Errorf("output = %q", out)
	}
}

func TestFromContext_WithoutRunID(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected the default logger")
	}
}
