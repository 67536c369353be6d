package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuinotify/internal/config"
	"cuinotify/internal/eventbus"
	"cuinotify/internal/maintenance"
	"cuinotify/internal/notifier"
	"cuinotify/internal/notifier/ntfy"
	"cuinotify/internal/notifier/webpush"
	"cuinotify/internal/runtime/supervisor"
	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	relay *ntfy.Client
	push  *webpush.Service
	disp  *notifier.Dispatcher
	maint *maintenance.Service
}

// New loads the config at cfgPath (the default path when empty) and wires
// every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	if strings.TrimSpace(cfgPath) == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgPath = p
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found (run `cuinotify config init`): %w", cfgPath, err)
		}
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if strings.TrimSpace(cfg.MachineID) == "" {
		if cfg, err = ensureMachineID(cfgm); err != nil {
			log.Warn("failed to persist machine id", logx.Err(err))
		} else {
			log.Info("machine id generated", logx.String("machine_id", cfg.MachineID))
		}
	}

	a, err := wire(cfgm, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	return a, nil
}

func wire(cfgm *config.Manager, logSvc *logx.Service, log logx.Logger) (*App, error) {
	cfg := cfgm.Get()
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	relay := ntfy.New()
	push := webpush.New(cfgm, store, webpush.Config{}, log.With(logx.String("comp", "webpush")))
	disp := notifier.New(cfgm, relay, push, log.With(logx.String("comp", "notifier")), bus)
	maint := maintenance.New(mapMaintenanceConfig(cfg), push, log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		relay: relay,
		push:  push,
		disp:  disp,
		maint: maint,
	}, nil
}

// ensureMachineID writes a generated machine id back to the config file.
func ensureMachineID(cfgm *config.Manager) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cfgm.Update(ctx, func(cfg *config.Config) error {
		if strings.TrimSpace(cfg.MachineID) == "" {
			cfg.MachineID = config.GenerateMachineID()
		}
		return nil
	})
}

func (a *App) Config() *config.Manager           { return a.cfgm }
func (a *App) Logger() logx.Logger               { return a.log }
func (a *App) Bus() eventbus.Bus                 { return a.bus }
func (a *App) Dispatcher() *notifier.Dispatcher  { return a.disp }
func (a *App) WebPush() *webpush.Service         { return a.push }
func (a *App) Maintenance() *maintenance.Service { return a.maint }

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the config watcher, the reload loop, the delivery event log
// and the maintenance scheduler.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return a.maint.Validate(mapMaintenanceConfig(cfg))
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.logEvent(e)
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest snapshot matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	if err := a.maint.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start maintenance: %w", err)
	}

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Bool("notifications", a.cfgm.Get().NotificationsEnabled()),
		logx.Bool("web_push", a.push.Enabled()),
	)
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(next))
		case "maintenance":
			if err := a.maint.Apply(mapMaintenanceConfig(next)); err != nil {
				a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	if d, ok := e.Data.(eventbus.Delivery); ok {
		fields = append(fields,
			logx.String("channel", d.Channel),
			logx.String("kind", d.Kind),
			logx.String("streaming_id", d.StreamingID),
		)
		if d.Topic != "" {
			fields = append(fields, logx.String("topic", d.Topic))
		}
		if d.Error != "" {
			fields = append(fields, logx.String("error", d.Error))
		}
	}
	a.log.Debug("event", fields...)
}

// Stop cancels every goroutine and releases resources. Each step is bounded
// by its own timeout and by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "maintenance", 3*time.Second, func(c context.Context) error {
		a.maint.Stop(c)
		return nil
	})
	if a.sup != nil {
		a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error {
			err := a.sup.Wait(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if a.store != nil {
		a.step(ctx, "storage", 2*time.Second, func(context.Context) error {
			return a.store.Close()
		})
	}

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			max = time.Millisecond
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
