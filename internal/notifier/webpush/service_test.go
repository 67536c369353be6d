package webpush

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	wp "github.com/SherClockHolmes/webpush-go"

	"cuinotify/internal/config"
	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

func enabledConfig(enabled bool) *config.Config {
	cfg := config.Default()
	cfg.MachineID = "test-box"
	cfg.Interface.Notifications = &config.NotificationsConfig{
		Enabled: true,
		WebPush: &config.WebPushConfig{Enabled: &enabled, Subject: "mailto:ops@example.com"},
	}
	return cfg
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Logger{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// browserKeys returns a valid p256dh/auth pair as a browser would report it.
func browserKeys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("auth secret: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(auth)
}

func TestInitializeGeneratesAndPersistsKeys(t *testing.T) {
	mgr := config.NewStatic(enabledConfig(true))
	svc := New(mgr, nil, Config{}, logx.Logger{})

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	w := mgr.Get().WebPush()
	if w.VAPIDPublicKey == "" || w.VAPIDPrivateKey == "" {
		t.Fatalf("keys not persisted: %+v", w)
	}
	if svc.PublicKey() != w.VAPIDPublicKey {
		t.Fatalf("PublicKey()=%q; want %q", svc.PublicKey(), w.VAPIDPublicKey)
	}

	// Second call keeps the same identity.
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize again: %v", err)
	}
	if got := mgr.Get().WebPush().VAPIDPublicKey; got != w.VAPIDPublicKey {
		t.Fatalf("key rotated on second Initialize")
	}
}

func TestInitializeDisabledDoesNothing(t *testing.T) {
	mgr := config.NewStatic(enabledConfig(false))
	svc := New(mgr, nil, Config{}, logx.Logger{})
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if svc.Enabled() {
		t.Fatalf("Enabled()=true; want false")
	}
	if svc.PublicKey() != "" {
		t.Fatalf("keys generated while disabled")
	}
}

func TestEnabledFollowsConfig(t *testing.T) {
	mgr := config.NewStatic(enabledConfig(false))
	svc := New(mgr, nil, Config{}, logx.Logger{})
	if svc.Enabled() {
		t.Fatalf("Enabled()=true; want false")
	}
	_, err := mgr.Update(context.Background(), func(c *config.Config) error {
		on := true
		c.WebPush().Enabled = &on
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !svc.Enabled() {
		t.Fatalf("Enabled()=false after config change")
	}
}

func TestBroadcastWithoutKeys(t *testing.T) {
	svc := New(config.NewStatic(enabledConfig(true)), newStore(t), Config{}, logx.Logger{})
	if _, err := svc.Broadcast(context.Background(), Payload{Title: "x"}); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("err=%v; want ErrNoKeys", err)
	}
}

func TestBroadcastDeliversAndPrunesGone(t *testing.T) {
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			t.Errorf("missing vapid authorization: %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			delivered.Add(1)
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	mgr := config.NewStatic(enabledConfig(true))
	st := newStore(t)
	svc := New(mgr, st, Config{Workers: 2}, logx.Logger{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, path := range []string{"/ok-1", "/ok-2", "/gone", "/broken"} {
		p256dh, auth := browserKeys(t)
		if _, err := svc.Subscribe(ctx, storage.Subscription{Endpoint: srv.URL + path, P256dh: p256dh, Auth: auth}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	res, err := svc.Broadcast(ctx, Payload{
		Title:   "Task Finished",
		Message: "done",
		Tag:     "cui-complete",
		Data:    map[string]string{DataType: "conversation-end", DataStreamingID: "s1"},
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	want := Result{Total: 4, Sent: 2, Failed: 2, Removed: 1}
	if res != want {
		t.Fatalf("result=%+v; want %+v", res, want)
	}
	if delivered.Load() != 2 {
		t.Fatalf("delivered=%d; want 2", delivered.Load())
	}

	subs, err := svc.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("len(subs)=%d; want 3 after pruning", len(subs))
	}
	for _, s := range subs {
		if strings.HasSuffix(s.Endpoint, "/gone") {
			t.Fatalf("gone subscription not removed")
		}
		if strings.HasSuffix(s.Endpoint, "/ok-1") && s.LastSeen.IsZero() {
			t.Fatalf("last_seen not recorded for delivered subscription")
		}
	}
}

func TestBroadcastSendsOptions(t *testing.T) {
	ctx := context.Background()
	mgr := config.NewStatic(enabledConfig(true))
	st := newStore(t)
	svc := New(mgr, st, Config{}, logx.Logger{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := svc.Subscribe(ctx, storage.Subscription{Endpoint: "https://push.example/x", P256dh: "p", Auth: "a"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var gotBody string
	var gotOpts wp.Options
	svc.send = func(ctx context.Context, msg []byte, sub *wp.Subscription, opts *wp.Options) (*http.Response, error) {
		gotBody = string(msg)
		gotOpts = *opts
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusCreated)
		return rec.Result(), nil
	}

	if _, err := svc.Broadcast(ctx, Payload{Title: "T", Message: "M", Tag: "cui-permission", Data: map[string]string{DataType: "permission"}}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if gotBody != `{"title":"T","message":"M","tag":"cui-permission","data":{"type":"permission"}}` {
		t.Fatalf("body=%s", gotBody)
	}
	if gotOpts.Subscriber != "ops@example.com" {
		t.Fatalf("subscriber=%q; want ops@example.com", gotOpts.Subscriber)
	}
	if gotOpts.TTL != DefaultTTL || gotOpts.VAPIDPublicKey != svc.PublicKey() {
		t.Fatalf("opts=%+v", gotOpts)
	}
}

func TestBroadcastGivesEachSendItsOwnBuffer(t *testing.T) {
	ctx := context.Background()
	mgr := config.NewStatic(enabledConfig(true))
	st := newStore(t)
	svc := New(mgr, st, Config{Workers: 4, RatePerSec: 1000}, logx.Logger{})
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	const subs = 8
	for i := 0; i < subs; i++ {
		ep := fmt.Sprintf("https://push.example/%d", i)
		if _, err := svc.Subscribe(ctx, storage.Subscription{Endpoint: ep, P256dh: "p", Auth: "a"}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	var (
		mu     sync.Mutex
		bodies []string
		shared atomic.Int32
	)
	svc.send = func(ctx context.Context, msg []byte, sub *wp.Subscription, opts *wp.Options) (*http.Response, error) {
		if cap(msg) != len(msg) {
			shared.Add(1)
		}
		// Mimic the library: pad the message in place.
		buf := bytes.NewBuffer(msg)
		buf.WriteString("\x02" + strings.Repeat("\x00", 32))
		mu.Lock()
		bodies = append(bodies, string(msg))
		mu.Unlock()
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusCreated)
		return rec.Result(), nil
	}

	res, err := svc.Broadcast(ctx, Payload{Title: "T", Message: "M", Data: map[string]string{DataType: "test"}})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != subs {
		t.Fatalf("sent=%d; want %d", res.Sent, subs)
	}
	if n := shared.Load(); n != 0 {
		t.Fatalf("%d sends received a slice with spare capacity", n)
	}
	want := `{"title":"T","message":"M","data":{"type":"test"}}`
	mu.Lock()
	defer mu.Unlock()
	for _, b := range bodies {
		if b != want {
			t.Fatalf("payload=%q; want %q", b, want)
		}
	}
}

func TestRegistryWithoutStore(t *testing.T) {
	svc := New(config.NewStatic(enabledConfig(true)), nil, Config{}, logx.Logger{})
	ctx := context.Background()
	if _, err := svc.Subscribe(ctx, storage.Subscription{Endpoint: "x", P256dh: "p", Auth: "a"}); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err=%v; want storage.ErrDisabled", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	res, err := svc.Broadcast(ctx, Payload{Title: "x"})
	if err != nil || res != (Result{}) {
		t.Fatalf("Broadcast = %+v, %v; want empty result", res, err)
	}
}
