package diag

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestBeginTagsLoggerWithOperationID(t *testing.T) {
	var buf bytes.Buffer
	SetBase(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetBase(slog.New(slog.NewTextHandler(io.Discard, nil))) })

	ctx, log := Begin(context.Background(), "query")
	log.Info("ran query")

	id := From(ctx)
	if id == "" {
		t.Fatalf("expected a non-empty operation id")
	}
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("expected log line to contain op_id %q, got %q", id, buf.String())
	}
}

func TestFromReturnsEmptyOutsideScope(t *testing.T) {
	if got := From(context.Background()); got != "" {
		t.Fatalf("expected empty op id outside Begin, got %q", got)
	}
}
