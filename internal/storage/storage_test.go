package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "cuinotify/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	name := "subs.json"
	if driver == "sqlite" {
		name = "subs.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var drivers = []string{"file", "sqlite"}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Logger{})
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Logger{}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestUpsertPreservesIdentity(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			ctx := context.Background()
			st := openTestStore(t, d)

			first, err := st.Upsert(ctx, Subscription{Endpoint: " https://push.example/a ", P256dh: "p1", Auth: "a1"})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if first.ID == "" || first.CreatedAt.IsZero() {
				t.Fatalf("got id=%q created=%v; want both set", first.ID, first.CreatedAt)
			}
			if first.Endpoint != "https://push.example/a" {
				t.Fatalf("endpoint=%q; want trimmed", first.Endpoint)
			}

			second, err := st.Upsert(ctx, Subscription{Endpoint: "https://push.example/a", P256dh: "p2", Auth: "a2", UserAgent: "firefox"})
			if err != nil {
				t.Fatalf("Upsert refresh: %v", err)
			}
			if second.ID != first.ID {
				t.Fatalf("id=%q; want %q", second.ID, first.ID)
			}

			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("len(list)=%d; want 1", len(list))
			}
			if list[0].P256dh != "p2" || list[0].Auth != "a2" || list[0].UserAgent != "firefox" {
				t.Fatalf("got %+v; want refreshed keys", list[0])
			}
		})
	}
}

func TestUpsertRejectsIncomplete(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			st := openTestStore(t, d)
			_, err := st.Upsert(context.Background(), Subscription{P256dh: "p", Auth: "a"})
			if !errors.Is(err, ErrInvalidEndpoint) {
				t.Fatalf("err=%v; want ErrInvalidEndpoint", err)
			}
			if _, err := st.Upsert(context.Background(), Subscription{Endpoint: "https://x"}); err == nil {
				t.Fatalf("expected error for missing keys")
			}
		})
	}
}

func TestRemoveAndCount(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			ctx := context.Background()
			st := openTestStore(t, d)
			for _, ep := range []string{"https://x/1", "https://x/2"} {
				if _, err := st.Upsert(ctx, Subscription{Endpoint: ep, P256dh: "p", Auth: "a"}); err != nil {
					t.Fatalf("Upsert: %v", err)
				}
			}
			removed, err := st.Remove(ctx, "https://x/1")
			if err != nil || !removed {
				t.Fatalf("Remove = %v, %v; want true, nil", removed, err)
			}
			removed, err = st.Remove(ctx, "https://x/1")
			if err != nil || removed {
				t.Fatalf("second Remove = %v, %v; want false, nil", removed, err)
			}
			n, err := st.Count(ctx)
			if err != nil || n != 1 {
				t.Fatalf("Count = %d, %v; want 1", n, err)
			}
		})
	}
}

func TestTouchAndPrune(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			ctx := context.Background()
			st := openTestStore(t, d)
			now := time.Now()

			mustUpsert := func(s Subscription) {
				t.Helper()
				if _, err := st.Upsert(ctx, s); err != nil {
					t.Fatalf("Upsert: %v", err)
				}
			}
			mustUpsert(Subscription{Endpoint: "https://x/old", P256dh: "p", Auth: "a", ExpiresAt: now.Add(-time.Minute)})
			mustUpsert(Subscription{Endpoint: "https://x/new", P256dh: "p", Auth: "a", ExpiresAt: now.Add(time.Hour)})
			mustUpsert(Subscription{Endpoint: "https://x/forever", P256dh: "p", Auth: "a"})

			seen := now.Truncate(time.Millisecond)
			if err := st.Touch(ctx, "https://x/forever", seen); err != nil {
				t.Fatalf("Touch: %v", err)
			}

			n, err := st.PruneExpired(ctx, now)
			if err != nil || n != 1 {
				t.Fatalf("PruneExpired = %d, %v; want 1", n, err)
			}
			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("len(list)=%d; want 2", len(list))
			}
			for _, s := range list {
				if s.Endpoint == "https://x/old" {
					t.Fatalf("expired subscription still listed")
				}
				if s.Endpoint == "https://x/forever" && !s.LastSeen.Equal(seen) {
					t.Fatalf("last_seen=%v; want %v", s.LastSeen, seen)
				}
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	saved, err := st.Upsert(ctx, Subscription{Endpoint: "https://x/1", P256dh: "p", Auth: "a"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Logger{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	list, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != saved.ID {
		t.Fatalf("got %+v; want the saved subscription %s", list, saved.ID)
	}
}

func TestClosedFileStore(t *testing.T) {
	st := openTestStore(t, "file")
	_ = st.Close()
	if _, err := st.List(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v; want ErrDisabled", err)
	}
}
