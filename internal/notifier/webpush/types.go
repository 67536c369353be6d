package webpush

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"cuinotify/internal/config"
	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

var (
	// ErrNoKeys is returned by Broadcast when no VAPID key pair is available.
	ErrNoKeys = errors.New("web push vapid keys not configured")
)

const (
	DefaultWorkers     = 4
	DefaultRatePerSec  = 20
	DefaultSendTimeout = 10 * time.Second
	// DefaultTTL is how long (seconds) a push service keeps an undelivered message.
	DefaultTTL = 3600
)

// Data keys set by the dispatcher.
const (
	DataSessionID           = "sessionId"
	DataStreamingID         = "streamingId"
	DataPermissionRequestID = "permissionRequestId"
	DataType                = "type"
)

// Payload is the JSON document delivered to the service worker.
type Payload struct {
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Tag     string            `json:"tag,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// Result summarizes one broadcast.
type Result struct {
	Total   int
	Sent    int
	Failed  int
	Removed int
}

// ConfigSource is satisfied by *config.Manager.
type ConfigSource interface {
	Get() *config.Config
	Update(ctx context.Context, fn func(cfg *config.Config) error) (*config.Config, error)
}

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
	TTL         int
	HTTPClient  *http.Client
}

type vapidKeys struct {
	public  string
	private string
}

type sendFunc func(ctx context.Context, msg []byte, sub *wp.Subscription, opts *wp.Options) (*http.Response, error)

// Service is the server side of Web Push: it owns the VAPID identity and
// fans a payload out to every stored subscription.
//
// It is safe for concurrent use.
type Service struct {
	cfg   ConfigSource
	store storage.Store
	log   logx.Logger

	opts    Config
	limiter *rate.Limiter
	send    sendFunc

	initMu      sync.Mutex
	initialized bool
	// generated holds keys created by Initialize when they could not be
	// written back to the config file.
	generated atomic.Pointer[vapidKeys]
}
