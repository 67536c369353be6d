package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed sample_config.json
var sampleConfig string

const (
	DefaultNtfyURL        = "https://ntfy.sh"
	DefaultWebPushSubject = "mailto:notifications@cui.local"
	DefaultStoragePath    = "~/.cui/web-push.db"
	DefaultPruneSchedule  = "@hourly"
	defaultConfigPath     = "~/.cui/config.json"
)

// Default returns a Config populated with repository defaults. Notifications
// stay disabled until the operator opts in.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Storage: &StorageConfig{
			Driver: "sqlite",
			Path:   DefaultStoragePath,
		},
		Maintenance: &MaintenanceConfig{
			Enabled:       true,
			PruneSchedule: DefaultPruneSchedule,
		},
	}
}

// DefaultPath returns the absolute path of the default config file.
func DefaultPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// ExpandPath expands a leading ~ and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration to path with machineID filled in.
// It refuses to overwrite an existing file.
func CreateSample(path, machineID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	sample := strings.Replace(sampleConfig, "__MACHINE_ID__", machineID, 1)
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
