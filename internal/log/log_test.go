package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"WARN", slog.LevelWarn, false},
		{"  Debug\n", slog.LevelDebug, false},
		{"", 0, true},
		{"warning", 0, true},
		{"trace", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q) = %v, want error", tt.in, got)
				}
				if !strings.Contains(err.Error(), "debug|info|warn|error") {
					t.Fatalf("error %q does not list the valid levels", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

// the LOG_LEVEL value from config flows through ParseLevel into New
func TestNew_LevelFromConfig(t *testing.T) {
	lvl, err := ParseLevel("warn")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	l, err := New(Options{App: "portfolio", Level: lvl, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info(context.Background(), "chat request", "endpoint", "public")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}

	l.Warn(context.Background(), "rate limit backend unavailable", "backend", "redis")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v: %s", err, buf.String())
	}
	if rec["app"] != "portfolio" || rec["backend"] != "redis" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNew_RedactsKeysCaseInsensitively(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "portfolio", Writer: &buf, RedactKeys: []string{"Authorization"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info(context.Background(), "admin request", "authorization", "Bearer s3cret", "path", "/api/admin/chat")

	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Fatalf("authorization leaked: %s", out)
	}
	if !strings.Contains(out, "/api/admin/chat") {
		t.Fatalf("path missing: %s", out)
	}
}
