package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "cuinotify/pkg/logx"
)

const (
	PruneJobName   = "prune-expired-subscriptions"
	defaultTimeout = 30 * time.Second
)

// Pruner is satisfied by *webpush.Service.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Enabled       bool
	PruneSchedule string
	Timezone      string
	Timeout       time.Duration
}

// Service owns one cron instance. Start and Stop are idempotent; Apply
// re-registers the job when the schedule or timezone changes.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	pruner Pruner
	log    logx.Logger
	parser cron.Parser

	c   *cron.Cron
	ctx context.Context
	// runMu serializes manual and scheduled runs.
	runMu sync.Mutex
}

func New(cfg Config, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		pruner: pruner,
		log:    log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks cfg without touching the running scheduler.
func (s *Service) Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	spec, err := normalizeSchedule(cfg.PruneSchedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("maintenance.pruneSchedule: %w", err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled || s.pruner == nil {
		s.log.Debug("maintenance disabled")
		return nil
	}
	spec, err := normalizeSchedule(cfg.PruneSchedule)
	if err != nil {
		return err
	}
	loc := loadLocation(cfg.Timezone)
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	// The job must not take s.mu: Apply waits on the cron while holding it.
	ctx, timeout := s.ctx, cfg.Timeout
	if _, err := c.AddFunc(spec, func() { s.runScheduled(ctx, timeout) }); err != nil {
		return fmt.Errorf("register %s: %w", PruneJobName, err)
	}
	c.Start()
	s.c = c

	fields := []logx.Field{logx.String("job", PruneJobName), logx.String("spec", spec), logx.String("tz", loc.String())}
	if entries := c.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
		fields = append(fields, logx.Time("next", entries[0].Next))
	}
	s.log.Info("maintenance started", fields...)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// Apply swaps the config and restarts the cron when it is running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.c == nil && s.ctx == nil {
		return nil
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	return s.startLocked()
}

// Running reports whether a cron instance is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) runScheduled(ctx context.Context, timeout time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = s.run(ctx, timeout)
}

// RunNow prunes expired subscriptions immediately.
func (s *Service) RunNow(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	return s.run(ctx, timeout)
}

func (s *Service) run(ctx context.Context, timeout time.Duration) (int, error) {
	if s.pruner == nil {
		return 0, nil
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := s.pruner.PruneExpired(ctx, start)
	if err != nil {
		s.log.Warn("maintenance job failed", logx.String("job", PruneJobName), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return n, err
	}
	s.log.Info("maintenance job finished", logx.String("job", PruneJobName), logx.Int("removed", n), logx.Duration("dur", time.Since(start)))
	return n, nil
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
