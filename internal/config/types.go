package config

// Config is the on-disk configuration shared with the host application.
//
// Only MachineID and Interface.Notifications are read by the dispatcher; the
// remaining sections configure this process (logging, subscription storage,
// maintenance jobs).
type Config struct {
	MachineID   string             `json:"machineId"`
	Interface   InterfaceConfig    `json:"interface"`
	Logging     LoggingConfig      `json:"logging"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type InterfaceConfig struct {
	Notifications *NotificationsConfig `json:"notifications,omitempty"`
}

// NotificationsConfig gates every channel. A missing section means disabled.
type NotificationsConfig struct {
	Enabled bool           `json:"enabled"`
	Ntfy    *NtfyConfig    `json:"ntfy,omitempty"`
	WebPush *WebPushConfig `json:"webPush,omitempty"`
}

// NtfyConfig configures the push relay channel.
//
// URL is the relay base URL; the topic is appended per notification.
// Defaults to https://ntfy.sh when empty.
type NtfyConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
}

// WebPushConfig configures native browser push.
//
// VAPID keys are generated on first use and written back to the config file
// when missing. Never log VAPIDPrivateKey.
type WebPushConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Subject         string `json:"subject,omitempty"`
	VAPIDPublicKey  string `json:"vapidPublicKey,omitempty"`
	VAPIDPrivateKey string `json:"vapidPrivateKey,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls where web push subscriptions live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "~/.cui/web-push.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busyTimeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls periodic housekeeping (expired subscription pruning).
type MaintenanceConfig struct {
	Enabled       bool   `json:"enabled"`
	PruneSchedule string `json:"pruneSchedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// NotificationsEnabled reports the global notifications flag.
func (c *Config) NotificationsEnabled() bool {
	if c == nil || c.Interface.Notifications == nil {
		return false
	}
	return c.Interface.Notifications.Enabled
}

// Ntfy returns the relay settings, or nil when the section is absent.
func (c *Config) Ntfy() *NtfyConfig {
	if c == nil || c.Interface.Notifications == nil {
		return nil
	}
	return c.Interface.Notifications.Ntfy
}

// WebPush returns the web push settings, or nil when the section is absent.
func (c *Config) WebPush() *WebPushConfig {
	if c == nil || c.Interface.Notifications == nil {
		return nil
	}
	return c.Interface.Notifications.WebPush
}

// WebPushEnabled treats an absent section or an omitted flag as disabled.
func (c *Config) WebPushEnabled() bool {
	wp := c.WebPush()
	return wp != nil && wp.Enabled != nil && *wp.Enabled
}

// Clone returns a deep copy so callers can mutate without racing readers of
// the committed snapshot.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if n := c.Interface.Notifications; n != nil {
		nc := *n
		if n.Ntfy != nil {
			nt := *n.Ntfy
			nc.Ntfy = &nt
		}
		if n.WebPush != nil {
			wp := *n.WebPush
			if n.WebPush.Enabled != nil {
				en := *n.WebPush.Enabled
				wp.Enabled = &en
			}
			nc.WebPush = &wp
		}
		cp.Interface.Notifications = &nc
	}
	if c.Storage != nil {
		st := *c.Storage
		cp.Storage = &st
	}
	if c.Maintenance != nil {
		m := *c.Maintenance
		cp.Maintenance = &m
	}
	return &cp
}
