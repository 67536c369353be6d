package app

import (
	"fmt"
	"strings"
	"time"

	"cuinotify/internal/config"
	"cuinotify/internal/maintenance"
	"cuinotify/internal/storage"
	logx "cuinotify/pkg/logx"
)

// mapStorageConfig resolves the storage section into a storage.Config.
// The bool result is false when storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path, err := config.ExpandPath(strings.TrimSpace(sc.Path))
	if err != nil {
		return storage.Config{}, false, fmt.Errorf("storage.path: %w", err)
	}

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busyTimeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	if cfg == nil || cfg.Maintenance == nil {
		return maintenance.Config{}
	}
	m := cfg.Maintenance
	schedule := strings.TrimSpace(m.PruneSchedule)
	if schedule == "" {
		schedule = config.DefaultPruneSchedule
	}
	return maintenance.Config{
		Enabled:       m.Enabled,
		PruneSchedule: schedule,
		Timezone:      m.Timezone,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	path := strings.TrimSpace(cfg.Logging.File.Path)
	if path != "" {
		if abs, err := config.ExpandPath(path); err == nil {
			path = abs
		}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    path,
		},
	}
}
