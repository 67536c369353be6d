package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "cuinotify/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// prepare normalizes a subscription before it is written. existing is the
// stored record for the same endpoint, if any.
func prepare(s Subscription, existing *Subscription, now time.Time) Subscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.P256dh = strings.TrimSpace(s.P256dh)
	s.Auth = strings.TrimSpace(s.Auth)
	if existing != nil {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
		if s.LastSeen.IsZero() {
			s.LastSeen = existing.LastSeen
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return s
}
