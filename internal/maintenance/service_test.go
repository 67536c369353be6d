package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "cuinotify/pkg/logx"
)

type fakePruner struct {
	calls atomic.Int32
	err   error
}

func (f *fakePruner) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestNormalizeSchedule(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"@hourly", "@hourly", true},
		{"*/5 * * * *", "*/5 * * * *", true},
		{"55m", "@every 55m0s", true},
		{"02:30", "@every 2h30m0s", true},
		{"00:00", "", false},
		{"-5m", "", false},
		{"soon", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := normalizeSchedule(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("normalizeSchedule(%q) err=%v; want ok=%v", c.in, err, c.ok)
		}
		if c.ok && got != c.want {
			t.Fatalf("normalizeSchedule(%q)=%q; want %q", c.in, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	s := New(Config{}, nil, logx.Logger{})
	if err := s.Validate(Config{Enabled: true, PruneSchedule: "61 * * * *"}); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
	if err := s.Validate(Config{Enabled: false, PruneSchedule: "garbage"}); err != nil {
		t.Fatalf("disabled config should not be checked: %v", err)
	}
}

func TestRunNow(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{Enabled: true, PruneSchedule: "@hourly"}, p, logx.Logger{})
	n, err := s.RunNow(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("RunNow = %d, %v; want 2, nil", n, err)
	}

	p.err = errors.New("db locked")
	if _, err := s.RunNow(context.Background()); !errors.Is(err, p.err) {
		t.Fatalf("err=%v; want %v", err, p.err)
	}
}

func TestScheduledRun(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{Enabled: true, PruneSchedule: "@every 1s"}, p, logx.Logger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for p.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("prune job never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestApplyTogglesCron(t *testing.T) {
	s := New(Config{Enabled: false, PruneSchedule: "@hourly"}, &fakePruner{}, logx.Logger{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Running() {
		t.Fatalf("running while disabled")
	}
	if err := s.Apply(Config{Enabled: true, PruneSchedule: "@hourly"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !s.Running() {
		t.Fatalf("not running after enable")
	}
	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("Apply disable: %v", err)
	}
	if s.Running() {
		t.Fatalf("still running after disable")
	}
	s.Stop(context.Background())
	s.Stop(context.Background())
}
