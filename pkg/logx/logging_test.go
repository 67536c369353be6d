package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWriterEmitsFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Warn("relay failed", String("topic", "cui-a"), Err(errors.New("boom")), String("topic", "cui-b"))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode record: %v (%q)", err, buf.String())
	}
	if rec["level"] != "warn" {
		t.Fatalf("level = %v, want warn", rec["level"])
	}
	if rec["comp"] != "test" {
		t.Fatalf("comp = %v, want test", rec["comp"])
	}
	if rec["err"] != "boom" {
		t.Fatalf("err = %v, want boom", rec["err"])
	}
	if !strings.Contains(buf.String(), `"topic":"cui-b"`) {
		t.Fatalf("expected later topic field in %q", buf.String())
	}
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	log.Error("nothing happens")
	Nop().Info("nothing happens either")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServiceApplyWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cuinotify.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	// Console disabled and file enabled: only the file receives records.
	log.Info("hello", String("k", "v"))
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello"`) {
		t.Fatalf("log file missing record: %q", string(b))
	}
}

func TestServiceApplySwapsSinksForExistingLoggers(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	t.Cleanup(func() { _ = svc.Close() })
	log = log.With(String("comp", "relay"))

	log.Debug("below level")
	log.Info("before reload")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	log.Debug("after reload")
	_ = svc.Close()

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if strings.Contains(string(a), "below level") || !strings.Contains(string(a), "before reload") {
		t.Fatalf("first log = %q", a)
	}
	if !strings.Contains(string(b), `"message":"after reload"`) || !strings.Contains(string(b), `"comp":"relay"`) {
		t.Fatalf("second log = %q", b)
	}
	if !strings.Contains(string(b), `"caller":"logging_test.go:`) {
		t.Fatalf("caller should point at the call site: %q", b)
	}
}
