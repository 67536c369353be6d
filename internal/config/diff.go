package config

import (
	"strings"

	logx "cuinotify/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. VAPID private keys are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.MachineID != newCfg.MachineID {
		changed = append(changed, "machineId")
		attrs = append(attrs, logx.String("machine_id", newCfg.MachineID))
	}

	oldNtfy, newNtfy := oldCfg.Ntfy(), newCfg.Ntfy()
	oldWP, newWP := oldCfg.WebPush(), newCfg.WebPush()
	if oldCfg.NotificationsEnabled() != newCfg.NotificationsEnabled() ||
		ntfyEnabled(oldNtfy) != ntfyEnabled(newNtfy) ||
		ntfyURL(oldNtfy) != ntfyURL(newNtfy) ||
		oldCfg.WebPushEnabled() != newCfg.WebPushEnabled() ||
		webPushPublic(oldWP) != webPushPublic(newWP) ||
		webPushPrivateSet(oldWP) != webPushPrivateSet(newWP) {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("notifications.enabled", newCfg.NotificationsEnabled()),
			logx.Bool("notifications.ntfy_enabled", ntfyEnabled(newNtfy)),
			logx.String("notifications.ntfy_url", ntfyURL(newNtfy)),
			logx.Bool("notifications.web_push_enabled", newCfg.WebPushEnabled()),
			logx.Bool("notifications.vapid_private_set", webPushPrivateSet(newWP)),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.JSON != newCfg.Logging.JSON ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if storageKey(oldCfg.Storage) != storageKey(newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage", storageKey(newCfg.Storage)))
	}

	if maintenanceKey(oldCfg.Maintenance) != maintenanceKey(newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.String("maintenance", maintenanceKey(newCfg.Maintenance)))
	}

	return changed, attrs
}

func ntfyEnabled(n *NtfyConfig) bool { return n != nil && n.Enabled }

func ntfyURL(n *NtfyConfig) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.URL)
}

func webPushPublic(w *WebPushConfig) string {
	if w == nil {
		return ""
	}
	return w.VAPIDPublicKey + "|" + w.Subject
}

func webPushPrivateSet(w *WebPushConfig) bool {
	return w != nil && w.VAPIDPrivateKey != ""
}

func storageKey(s *StorageConfig) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s.Driver)) + ":" + strings.TrimSpace(s.Path) + ":" + strings.TrimSpace(s.BusyTimeout)
}

func maintenanceKey(m *MaintenanceConfig) string {
	if m == nil {
		return ""
	}
	en := "off"
	if m.Enabled {
		en = "on"
	}
	return en + ":" + strings.TrimSpace(m.PruneSchedule) + ":" + strings.TrimSpace(m.Timezone)
}
