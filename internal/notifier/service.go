package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"cuinotify/internal/config"
	"cuinotify/internal/eventbus"
	"cuinotify/internal/notifier/ntfy"
	"cuinotify/internal/notifier/webpush"
	logx "cuinotify/pkg/logx"
)

const (
	topicPrefix    = "cui-"
	unknownMachine = "unknown"
	// toolInputPreview bounds the serialized tool input, in runes, used when
	// a permission request carries no summary.
	toolInputPreview = 100
)

// ConfigProvider is satisfied by *config.Manager.
type ConfigProvider interface {
	Get() *config.Config
}

// Relay publishes to a topic-scoped push relay.
type Relay interface {
	Publish(ctx context.Context, baseURL, topic string, msg ntfy.Message) error
}

// Broadcaster delivers to every registered browser subscriber.
type Broadcaster interface {
	Initialize(ctx context.Context) error
	Enabled() bool
	Broadcast(ctx context.Context, p webpush.Payload) (webpush.Result, error)
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel string
	Skipped bool
	Err     error
	// Detail is a short human summary (web push counts).
	Detail string
}

// Report is returned by SendTest.
type Report struct {
	Enabled  bool
	Topic    string
	Channels []ChannelResult
}

// Dispatcher turns domain events into notifications and delivers them to each
// enabled channel. Delivery is best effort: the public Notify methods never
// fail and never panic.
//
// It is safe for concurrent use.
type Dispatcher struct {
	cfg         ConfigProvider
	relay       Relay
	broadcaster Broadcaster
	log         logx.Logger
	bus         eventbus.Bus

	machineID atomic.Pointer[string]
}

// New wires a dispatcher. relay, broadcaster and bus may be nil.
func New(cfg ConfigProvider, relay Relay, broadcaster Broadcaster, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:         cfg,
		relay:       relay,
		broadcaster: broadcaster,
		log:         log,
		bus:         bus,
	}
}

// NotifyPermissionRequest announces a pending tool approval.
func (d *Dispatcher) NotifyPermissionRequest(ctx context.Context, req PermissionRequest, sessionID, summary string) {
	defer d.recoverPanic("permission", req.ID)

	cfg := d.config()
	if !cfg.NotificationsEnabled() {
		return
	}

	msg := ""
	if summary != "" {
		msg = summary + " - " + req.ToolName
	} else {
		preview, err := previewToolInput(req.ToolInput)
		if err != nil {
			d.log.Error("failed to send permission notification", logx.String("request_id", req.ID), logx.Err(err))
			return
		}
		msg = fmt.Sprintf("%s tool: %s...", req.ToolName, preview)
	}

	n := NewPermissionNotification(req, sessionID, msg)
	if err := n.Validate(); err != nil {
		d.log.Error("failed to send permission notification", logx.String("request_id", req.ID), logx.Err(err))
		return
	}
	topic := d.dispatch(ctx, cfg, n)
	d.log.Info("permission notification dispatched",
		logx.String("request_id", req.ID),
		logx.String("tool", req.ToolName),
		logx.String("topic", topic),
	)
}

// NotifyConversationEnd announces that a conversation stream finished.
func (d *Dispatcher) NotifyConversationEnd(ctx context.Context, streamingID, sessionID, summary string) {
	defer d.recoverPanic("conversation-end", streamingID)

	cfg := d.config()
	if !cfg.NotificationsEnabled() {
		return
	}

	n := NewConversationEndNotification(streamingID, sessionID, summary)
	if err := n.Validate(); err != nil {
		d.log.Error("failed to send conversation end notification", logx.String("streaming_id", streamingID), logx.Err(err))
		return
	}
	topic := d.dispatch(ctx, cfg, n)
	d.log.Info("conversation end notification dispatched",
		logx.String("streaming_id", streamingID),
		logx.String("session_id", n.SessionID),
		logx.String("topic", topic),
	)
}

// SendTest pushes a low priority test notification through every enabled
// channel and reports what happened. It honors the same gates as the Notify
// methods.
func (d *Dispatcher) SendTest(ctx context.Context) (rep Report) {
	defer d.recoverPanic("test", "")
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := d.config()
	rep.Topic = topicPrefix + d.resolveMachineID(cfg)
	rep.Enabled = cfg.NotificationsEnabled()
	if !rep.Enabled {
		return rep
	}
	n := newTestNotification("test-" + strconv.FormatInt(time.Now().Unix(), 10))
	rep.Channels = []ChannelResult{
		d.tryRelay(ctx, cfg, rep.Topic, n),
		d.tryBroadcast(ctx, n),
	}
	return rep
}

func (d *Dispatcher) config() *config.Config {
	if d.cfg == nil {
		return nil
	}
	return d.cfg.Get()
}

// dispatch runs the channels in order and returns the topic used.
func (d *Dispatcher) dispatch(ctx context.Context, cfg *config.Config, n Notification) string {
	if ctx == nil {
		ctx = context.Background()
	}
	topic := topicPrefix + d.resolveMachineID(cfg)
	d.tryRelay(ctx, cfg, topic, n)
	d.tryBroadcast(ctx, n)
	return topic
}

// resolveMachineID caches only a successful lookup so a later config fix is
// picked up.
func (d *Dispatcher) resolveMachineID(cfg *config.Config) string {
	if id := d.machineID.Load(); id != nil {
		return *id
	}
	if cfg == nil || cfg.MachineID == "" {
		d.log.Error("failed to resolve machine id", logx.Err(fmt.Errorf("machineId not configured")))
		return unknownMachine
	}
	id := cfg.MachineID
	d.machineID.Store(&id)
	return id
}

func (d *Dispatcher) tryRelay(ctx context.Context, cfg *config.Config, topic string, n Notification) (res ChannelResult) {
	res.Channel = ChannelNtfy
	var endpoint string
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			d.log.Warn("failed to send ntfy notification", logx.Err(res.Err), logx.String("endpoint", endpoint), logx.String("topic", topic))
		}
		d.publish(res, n, topic)
	}()

	nt := cfg.Ntfy()
	if nt == nil || !nt.Enabled || d.relay == nil {
		res.Skipped = true
		return res
	}
	endpoint = ntfy.Endpoint(nt.URL, topic)
	err := d.relay.Publish(ctx, nt.URL, topic, ntfy.Message{
		Title:               n.Title,
		Body:                n.Message,
		Priority:            n.Priority.String(),
		Tags:                n.Tags(),
		SessionID:           n.SessionID,
		StreamingID:         n.StreamingID,
		PermissionRequestID: n.PermissionRequestID,
	})
	if err != nil {
		res.Err = err
		d.log.Warn("failed to send ntfy notification", logx.Err(err), logx.String("endpoint", endpoint), logx.String("topic", topic))
		return res
	}
	d.log.Debug("ntfy notification sent", logx.String("endpoint", endpoint), logx.String("topic", topic))
	return res
}

func (d *Dispatcher) tryBroadcast(ctx context.Context, n Notification) (res ChannelResult) {
	res.Channel = ChannelWebPush
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			d.log.Debug("failed to send web push notification", logx.Err(res.Err))
		}
		d.publish(res, n, "")
	}()

	if d.broadcaster == nil {
		res.Skipped = true
		return res
	}
	if err := d.broadcaster.Initialize(ctx); err != nil {
		res.Err = err
		d.log.Debug("failed to send web push notification", logx.Err(err))
		return res
	}
	if !d.broadcaster.Enabled() {
		res.Skipped = true
		return res
	}

	data := map[string]string{
		webpush.DataSessionID:   n.SessionID,
		webpush.DataStreamingID: n.StreamingID,
		webpush.DataType:        string(n.Kind),
	}
	if n.PermissionRequestID != "" {
		data[webpush.DataPermissionRequestID] = n.PermissionRequestID
	}
	out, err := d.broadcaster.Broadcast(ctx, webpush.Payload{
		Title:   n.Title,
		Message: n.Message,
		Tag:     n.PrimaryTag(),
		Data:    data,
	})
	if err != nil {
		res.Err = err
		d.log.Debug("failed to send web push notification", logx.Err(err))
		return res
	}
	res.Detail = fmt.Sprintf("sent %d/%d, removed %d", out.Sent, out.Total, out.Removed)
	return res
}

func (d *Dispatcher) publish(res ChannelResult, n Notification, topic string) {
	if d.bus == nil {
		return
	}
	ev := eventbus.Delivery{
		Channel:     res.Channel,
		Kind:        string(n.Kind),
		StreamingID: n.StreamingID,
		Topic:       topic,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: eventType(res), Time: time.Now(), Data: ev})
}

func eventType(res ChannelResult) string {
	switch {
	case res.Channel == ChannelNtfy && res.Skipped:
		return eventbus.TypeNtfySkipped
	case res.Channel == ChannelNtfy && res.Err != nil:
		return eventbus.TypeNtfyFailed
	case res.Channel == ChannelNtfy:
		return eventbus.TypeNtfySent
	case res.Skipped:
		return eventbus.TypeWebPushSkipped
	case res.Err != nil:
		return eventbus.TypeWebPushFailed
	default:
		return eventbus.TypeWebPushSent
	}
}

func (d *Dispatcher) recoverPanic(op, id string) {
	if r := recover(); r != nil {
		d.log.Error("notification dispatch panicked",
			logx.String("op", op),
			logx.String("request_id", id),
			logx.Any("panic", r),
			logx.Stack(string(debug.Stack())),
		)
	}
}

// previewToolInput serializes v as JSON and keeps the first toolInputPreview
// runes. HTML characters are left unescaped.
func previewToolInput(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("serialize tool input: %w", err)
	}
	s := string(bytes.TrimRight(buf.Bytes(), "\n"))
	if utf8.RuneCountInString(s) <= toolInputPreview {
		return s, nil
	}
	return string([]rune(s)[:toolInputPreview]), nil
}
