package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "cuinotify/pkg/logx"
)

// fileStore is a dependency-free backend holding the whole registry in memory
// and mirroring it to one JSON snapshot. Subscription counts are small (one
// per browser), so rewriting the snapshot on each change is fine.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	subs   map[string]Subscription // endpoint -> record
	closed bool
}

type fileSnapshot struct {
	Version       int            `json:"version"`
	Subscriptions []Subscription `json:"subscriptions"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	subs := map[string]Subscription{}
	if err := loadSnapshot(path, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load subscriptions %s: %w", path, err)
	}
	log.Debug("file store opened", logx.String("path", path), logx.Int("subscriptions", len(subs)))
	return &fileStore{log: log, path: path, subs: subs}, nil
}

func loadSnapshot(path string, out map[string]Subscription) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, s := range snap.Subscriptions {
		if s.Endpoint == "" {
			continue
		}
		out[s.Endpoint] = s
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Upsert(ctx context.Context, sub Subscription) (Subscription, error) {
	_ = ctx
	if err := sub.validate(); err != nil {
		return Subscription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Subscription{}, ErrDisabled
	}
	endpoint := strings.TrimSpace(sub.Endpoint)
	var existing *Subscription
	if cur, ok := s.subs[endpoint]; ok {
		existing = &cur
	}
	rec := prepare(sub, existing, time.Now())
	prev, had := s.subs[endpoint]
	s.subs[endpoint] = rec
	if err := s.flushLocked(); err != nil {
		if had {
			s.subs[endpoint] = prev
		} else {
			delete(s.subs, endpoint)
		}
		return Subscription{}, err
	}
	return rec, nil
}

func (s *fileStore) Remove(ctx context.Context, endpoint string) (bool, error) {
	_ = ctx
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return false, ErrInvalidEndpoint
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrDisabled
	}
	prev, ok := s.subs[endpoint]
	if !ok {
		return false, nil
	}
	delete(s.subs, endpoint)
	if err := s.flushLocked(); err != nil {
		s.subs[endpoint] = prev
		return false, err
	}
	return true, nil
}

func (s *fileStore) List(ctx context.Context) ([]Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	return s.sortedLocked(), nil
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrDisabled
	}
	return len(s.subs), nil
}

func (s *fileStore) Touch(ctx context.Context, endpoint string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	rec, ok := s.subs[endpoint]
	if !ok {
		return nil
	}
	rec.LastSeen = at
	s.subs[endpoint] = rec
	return s.flushLocked()
}

func (s *fileStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrDisabled
	}
	removed := 0
	for endpoint, rec := range s.subs {
		if rec.Expired(now) {
			delete(s.subs, endpoint)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.flushLocked()
}

func (s *fileStore) sortedLocked() []Subscription {
	out := make([]Subscription, 0, len(s.subs))
	for _, rec := range s.subs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Endpoint < out[j].Endpoint
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// flushLocked writes the snapshot via temp file + rename so readers never see
// a partial file.
func (s *fileStore) flushLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fileSnapshot{Version: 1, Subscriptions: s.sortedLocked()}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
