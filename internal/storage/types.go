package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled        = errors.New("storage disabled")
	ErrInvalidEndpoint = errors.New("subscription endpoint is required")
)

// Config configures storage.
//
// Driver values:
//   - "file":   JSON snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one browser push registration.
type Subscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	// ExpiresAt mirrors PushSubscription.expirationTime; zero means never.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the subscription has a past expiration time.
func (s Subscription) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s Subscription) validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return ErrInvalidEndpoint
	}
	if strings.TrimSpace(s.P256dh) == "" || strings.TrimSpace(s.Auth) == "" {
		return errors.New("subscription keys p256dh and auth are required")
	}
	return nil
}

// Store is the subscription registry used by the web push service.
type Store interface {
	// Upsert inserts or refreshes the subscription for s.Endpoint and returns
	// the stored record (ID and CreatedAt are preserved across refreshes).
	Upsert(ctx context.Context, s Subscription) (Subscription, error)
	// Remove deletes by endpoint and reports whether a record existed.
	Remove(ctx context.Context, endpoint string) (bool, error)
	// List returns all subscriptions ordered by creation time.
	List(ctx context.Context) ([]Subscription, error)
	Count(ctx context.Context) (int, error)
	// Touch records a successful delivery.
	Touch(ctx context.Context, endpoint string, at time.Time) error
	// PruneExpired removes subscriptions whose ExpiresAt has passed.
	PruneExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}
