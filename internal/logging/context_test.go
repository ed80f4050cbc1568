package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestCommandIDCtx(t *testing.T) {
	ctx := WithCommandIDCtx(context.Background(), "cmd-42")
	if got := CommandIDFromCtx(ctx); got != "cmd-42" {
		t.Errorf("CommandIDFromCtx() = %q, want cmd-42", got)
	}
	if got := CommandIDFromCtx(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}

func TestFromCtxBindsIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})

	ctx := WithLoggerCtx(context.Background(), base)
	ctx = WithCommandIDCtx(ctx, "cmd-7")
	ctx = WithRequestIDCtx(ctx, "req-9")

	FromCtx(ctx).Info("hello")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.CommandID != "cmd-7" || entry.RequestID != "req-9" {
		t.Errorf("ids not bound: %+v", entry)
	}
}

func TestFromCtxFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	prev := Global()
	SetGlobal(New(Config{Level: LevelInfo, Output: &buf}))
	t.Cleanup(func() { SetGlobal(prev) })

	FromCtx(context.Background()).Info("via global")

	if buf.Len() == 0 {
		t.Error("expected the global logger to be used")
	}
}

func TestConfigure(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	l := Configure("debug", "text")
	if Global() != l {
		t.Error("Configure should install the logger globally")
	}
	if l.Level() != LevelDebug {
		t.Errorf("level = %v, want debug", l.Level())
	}
}
