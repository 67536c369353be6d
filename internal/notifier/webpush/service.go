package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"cuinotify/internal/config"
	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

// New builds the service. store may be nil, in which case there are no
// subscribers and registry operations return storage.ErrDisabled.
func New(cfg ConfigSource, store storage.Store, opts Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultRatePerSec
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		log:     log,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		send:    wp.SendNotificationWithContext,
	}
}

// Enabled reads interface.notifications.webPush.enabled live from config.
func (s *Service) Enabled() bool {
	if s == nil || s.cfg == nil {
		return false
	}
	return s.cfg.Get().WebPushEnabled()
}

// Initialize makes sure a VAPID key pair exists, generating and persisting one
// when the config has none. It does nothing while web push is disabled and is
// a no-op after the first success.
func (s *Service) Initialize(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized || !s.Enabled() {
		return nil
	}
	if _, ok := s.configKeys(); ok {
		s.initialized = true
		return nil
	}

	priv, pub, err := wp.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate vapid keys: %w", err)
	}
	s.generated.Store(&vapidKeys{public: pub, private: priv})
	s.initialized = true

	_, err = s.cfg.Update(ctx, func(c *config.Config) error {
		w := c.WebPush()
		if w == nil {
			return fmt.Errorf("webPush section missing")
		}
		// Another writer may have won the race.
		if w.VAPIDPublicKey != "" && w.VAPIDPrivateKey != "" {
			return nil
		}
		w.VAPIDPublicKey = pub
		w.VAPIDPrivateKey = priv
		return nil
	})
	if err != nil {
		s.log.Warn("vapid keys generated but not persisted", logx.Err(err))
		return nil
	}
	s.log.Info("vapid keys generated", logx.String("public_key", pub))
	return nil
}

// PublicKey returns the application server key browsers subscribe with.
func (s *Service) PublicKey() string {
	k, ok := s.keys()
	if !ok {
		return ""
	}
	return k.public
}

func (s *Service) configKeys() (vapidKeys, bool) {
	w := s.cfg.Get().WebPush()
	if w == nil || w.VAPIDPublicKey == "" || w.VAPIDPrivateKey == "" {
		return vapidKeys{}, false
	}
	return vapidKeys{public: w.VAPIDPublicKey, private: w.VAPIDPrivateKey}, true
}

func (s *Service) keys() (vapidKeys, bool) {
	if s == nil || s.cfg == nil {
		return vapidKeys{}, false
	}
	if k, ok := s.configKeys(); ok {
		return k, true
	}
	if k := s.generated.Load(); k != nil {
		return *k, true
	}
	return vapidKeys{}, false
}

func (s *Service) subject() string {
	sub := config.DefaultWebPushSubject
	if w := s.cfg.Get().WebPush(); w != nil && strings.TrimSpace(w.Subject) != "" {
		sub = strings.TrimSpace(w.Subject)
	}
	// The library adds the mailto: scheme itself for non-https subjects.
	return strings.TrimPrefix(sub, "mailto:")
}

// Broadcast delivers p to every stored subscription and waits for the fan-out
// to finish. Per-subscription failures are counted, not returned.
func (s *Service) Broadcast(ctx context.Context, p Payload) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	keys, ok := s.keys()
	if !ok {
		return Result{}, ErrNoKeys
	}
	if s.store == nil {
		return Result{}, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Result{}, fmt.Errorf("encode payload: %w", err)
	}
	subs, err := s.store.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return Result{}, nil
	}

	start := time.Now()
	res := s.fanOut(ctx, body, subs, keys)
	fields := []logx.Field{
		logx.String("tag", p.Tag),
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("removed", res.Removed),
		logx.Duration("dur", time.Since(start)),
	}
	if res.Failed > 0 {
		s.log.Warn("web push broadcast finished with failures", fields...)
	} else {
		s.log.Debug("web push broadcast finished", fields...)
	}
	return res, nil
}

// Subscribe registers or refreshes a browser subscription.
func (s *Service) Subscribe(ctx context.Context, sub storage.Subscription) (storage.Subscription, error) {
	if s.store == nil {
		return storage.Subscription{}, storage.ErrDisabled
	}
	return s.store.Upsert(ctx, sub)
}

// Unsubscribe removes the subscription for endpoint.
func (s *Service) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	if s.store == nil {
		return false, storage.ErrDisabled
	}
	return s.store.Remove(ctx, endpoint)
}

func (s *Service) Subscriptions(ctx context.Context) ([]storage.Subscription, error) {
	if s.store == nil {
		return nil, storage.ErrDisabled
	}
	return s.store.List(ctx)
}

// PruneExpired drops subscriptions whose expiration time has passed.
func (s *Service) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.PruneExpired(ctx, now)
}
