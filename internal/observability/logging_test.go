package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTraceContextHandler_addsMessageID(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceContextHandler(slog.NewTextHandler(&buf, nil)))
	ctx := WithMessageID(context.Background(), "msg-42")

	logger.InfoContext(ctx, "relaying message")

	if !strings.Contains(buf.String(), "message_id=msg-42") {
		t.Errorf("log line %q missing message_id", buf.String())
	}

	if strings.Contains(buf.String(), "trace_id=") {
		t.Errorf("log line %q has trace_id without an active span", buf.String())
	}
}

func TestTraceContextHandler_withoutMessageID(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceContextHandler(slog.NewTextHandler(&buf, nil))).With("component", "consumer")
	logger.InfoContext(WithMessageID(context.Background(), ""), "started")

	if strings.Contains(buf.String(), "message_id") {
		t.Errorf("log line %q has empty message_id", buf.String())
	}

	if !strings.Contains(buf.String(), "component=consumer") {
		t.Errorf("log line %q lost WithAttrs attributes", buf.String())
	}
}

func TestMessageIDFromContext(t *testing.T) {
	if _, ok := MessageIDFromContext(context.Background()); ok {
		t.Error("MessageIDFromContext() ok = true on empty context")
	}

	id, ok := MessageIDFromContext(WithMessageID(context.Background(), "m-1"))
	if !ok || id != "m-1" {
		t.Errorf("MessageIDFromContext() = %q, %v", id, ok)
	}
}
