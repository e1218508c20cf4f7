package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/biz/usecase"
	"github.com/pipeboard/contact-sync/internal/infra/socket"
	"github.com/pipeboard/contact-sync/internal/logger"
)

// TunablesConfig contains timing and sizing knobs loaded from YAML
type TunablesConfig struct {
	Socket   SocketTunables   `yaml:"socket"`
	Sync     SyncTunables     `yaml:"sync"`
	API      APITunables      `yaml:"api"`
	Snapshot SnapshotTunables `yaml:"snapshot"`
	Alerts   AlertTunables    `yaml:"alerts"`
}

// SocketTunables contains push transport knobs
type SocketTunables struct {
	HeartbeatInterval time.Duration        `yaml:"heartbeat_interval"`
	AuthTimeout       time.Duration        `yaml:"auth_timeout"`
	MaxAuthAttempts   int                  `yaml:"max_auth_attempts"`
	Backoff           socket.BackoffConfig `yaml:"backoff"`
}

// SyncTunables contains reconciliation knobs
type SyncTunables struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`
	HistoryLimit int           `yaml:"history_limit"`
	AlertAfter   time.Duration `yaml:"alert_after"`
}

// APITunables contains REST client knobs
type APITunables struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// SnapshotTunables contains snapshot cache knobs
type SnapshotTunables struct {
	Interval time.Duration `yaml:"interval"`
}

// AlertTunables contains operator alert knobs
type AlertTunables struct {
	Interval time.Duration `yaml:"interval"`
}

// LoadTunablesConfig loads tunables from a YAML file
func LoadTunablesConfig(configPath string) (*TunablesConfig, error) {
	log := logger.For("config")

	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/sync.yaml",
			"/etc/contact-sync/sync.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "sync.yaml"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(homeDir, ".contact-sync", "sync.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read %s", configPath)
		}
		log.Debug("no sync.yaml found, using defaults")
		return DefaultTunablesConfig(), nil
	}

	log.Info("loading tunables", "path", loadedPath)

	var config TunablesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *TunablesConfig) fillDefaults() {
	defaults := DefaultTunablesConfig()

	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = defaults.Socket.HeartbeatInterval
	}
	if c.Socket.AuthTimeout == 0 {
		c.Socket.AuthTimeout = defaults.Socket.AuthTimeout
	}
	if c.Socket.MaxAuthAttempts == 0 {
		c.Socket.MaxAuthAttempts = defaults.Socket.MaxAuthAttempts
	}
	b := &c.Socket.Backoff
	if b.Delay == 0 {
		b.Delay = defaults.Socket.Backoff.Delay
	}
	if b.MaxDelay == 0 {
		b.MaxDelay = defaults.Socket.Backoff.MaxDelay
	}
	if b.MaxAttempts == 0 {
		b.MaxAttempts = defaults.Socket.Backoff.MaxAttempts
	}
	if b.Cooldown == 0 {
		b.Cooldown = defaults.Socket.Backoff.Cooldown
	}
	if b.JitterRatio == 0 {
		b.JitterRatio = defaults.Socket.Backoff.JitterRatio
	}

	if c.Sync.DedupWindow == 0 {
		c.Sync.DedupWindow = defaults.Sync.DedupWindow
	}
	if c.Sync.HistoryLimit == 0 {
		c.Sync.HistoryLimit = defaults.Sync.HistoryLimit
	}
	if c.Sync.AlertAfter == 0 {
		c.Sync.AlertAfter = defaults.Sync.AlertAfter
	}

	if c.API.Timeout == 0 {
		c.API.Timeout = defaults.API.Timeout
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = defaults.API.RateLimit
	}
	if c.API.Burst == 0 {
		c.API.Burst = defaults.API.Burst
	}

	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = defaults.Snapshot.Interval
	}
	if c.Alerts.Interval == 0 {
		c.Alerts.Interval = defaults.Alerts.Interval
	}
}

// DefaultTunablesConfig returns the default tunables
func DefaultTunablesConfig() *TunablesConfig {
	return &TunablesConfig{
		Socket: SocketTunables{
			HeartbeatInterval: 25 * time.Second,
			AuthTimeout:       10 * time.Second,
			MaxAuthAttempts:   3,
			Backoff:           socket.DefaultBackoffConfig(),
		},
		Sync: SyncTunables{
			DedupWindow:  domain.DefaultDedupWindow,
			HistoryLimit: usecase.DefaultHistoryLimit,
			AlertAfter:   time.Minute,
		},
		API: APITunables{
			Timeout:   15 * time.Second,
			RateLimit: 10,
			Burst:     20,
		},
		Snapshot: SnapshotTunables{
			Interval: 5 * time.Minute,
		},
		Alerts: AlertTunables{
			Interval: 10 * time.Minute,
		},
	}
}
