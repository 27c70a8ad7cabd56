package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestChildSpansShareTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "vectorize", "run-1")
	_, p1 := StartChildSpan(ctx, "pass1")
	p1.End()
	_, p2 := StartChildSpan(ctx, "pass2")
	p2.SetAttr("delivered", 3)
	p2.End()
	root.End()

	if len(root.Children) != 2 || p1.TraceID != "run-1" || p2.TraceID != "run-1" {
		t.Fatalf("root = %+v", root)
	}
	if SpanFromContext(ctx) != root {
		t.Error("context does not carry the root span")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	out := buf.String()
	if strings.Count(out, "msg=span") != 3 || !strings.Contains(out, "delivered=3") {
		t.Errorf("log = %s", out)
	}
}

func TestStartChildSpan_WithoutParent(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	if span.TraceID == "" {
		t.Error("orphan span should get a trace id")
	}
}
