// Package notifier dispatches user-facing alerts (permission requests,
// finished conversations) to the configured delivery channels.
//
// # Channels
//
// Two channels are attempted in order for every notification: the ntfy push
// relay (subpackage ntfy) and Web Push broadcast to browser subscribers
// (subpackage webpush). Each attempt runs inside its own failure boundary, so
// a relay timeout never prevents the broadcast and neither reaches the caller.
//
// # Configuration
//
// The global and per-channel enable flags are read from the ConfigProvider on
// every call; edits on disk take effect on the next notification. The relay
// topic is "cui-" followed by the configured machine id.
//
// # Events
//
// When an eventbus.Bus is supplied, one notify.* event is published per
// channel attempt (sent, failed or skipped).
package notifier
