package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate ensures the configuration is usable. It runs on load and before a
// hot reload is committed, so a bad edit never replaces a working config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateMaintenance()
}

func (c *Config) validateNotifications() error {
	if nt := c.Ntfy(); nt != nil && strings.TrimSpace(nt.URL) != "" {
		u, err := url.Parse(strings.TrimSpace(nt.URL))
		if err != nil {
			return fmt.Errorf("interface.notifications.ntfy.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("interface.notifications.ntfy.url: unsupported scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("interface.notifications.ntfy.url: host is required")
		}
	}
	if wp := c.WebPush(); wp != nil {
		subject := strings.TrimSpace(wp.Subject)
		if subject != "" && !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https://") {
			return fmt.Errorf("interface.notifications.webPush.subject must be a mailto: or https: URL, got %q", subject)
		}
		if (wp.VAPIDPublicKey == "") != (wp.VAPIDPrivateKey == "") {
			return errors.New("interface.notifications.webPush: vapidPublicKey and vapidPrivateKey must be set together")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateStorage() error {
	if c.Storage == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required when storage.driver is set")
	}
	_, err := ParseDurationField("storage.busyTimeout", c.Storage.BusyTimeout)
	return err
}

func (c *Config) validateMaintenance() error {
	if c.Maintenance == nil {
		return nil
	}
	if tz := strings.TrimSpace(c.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
