package conf

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
	"github.com/pipeboard/contact-sync/internal/infra/socket"
	"github.com/pipeboard/contact-sync/internal/logger"
)

const defaultHTTPAddr = "127.0.0.1:9876"

// Config represents application configuration
type Config struct {
	// CRM REST API
	API APIConfig

	// Push transport
	Socket SocketConfig

	// Connection owner and line scope
	Account AccountConfig

	// Reconciliation and store settings
	Sync SyncConfig

	// Local snapshot cache
	Snapshot SnapshotConfig

	// Local HTTP surface
	HTTP HTTPConfig

	// Logging
	Log LogConfig

	// Feishu operator alerts (optional)
	Feishu FeishuConfig

	// Tunables loaded from YAML
	Tunables *TunablesConfig
}

// APIConfig contains CRM REST API settings
type APIConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// SocketConfig contains push transport settings
type SocketConfig struct {
	URL               string
	HeartbeatInterval time.Duration
	AuthTimeout       time.Duration
	MaxAuthAttempts   int
	Backoff           socket.BackoffConfig
}

// AccountConfig identifies whose data this process synchronizes
type AccountConfig struct {
	WorkspaceID string
	UserID      string
	LineID      string
}

// SyncConfig contains reconciliation settings
type SyncConfig struct {
	DedupWindow  time.Duration
	HistoryLimit int
	AlertAfter   time.Duration
}

// SnapshotConfig contains snapshot cache settings
type SnapshotConfig struct {
	DBPath   string
	Interval time.Duration
}

// HTTPConfig contains the local HTTP surface settings
type HTTPConfig struct {
	Addr string
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string
	Format string
}

// FeishuConfig contains Feishu alert settings
type FeishuConfig struct {
	AppID         string
	AppSecret     string
	AlertChatID   string
	AlertInterval time.Duration
}

// LoadFromEnv loads configuration from environment variables. Tunables come
// from YAML first; environment variables override them when set.
func LoadFromEnv() *Config {
	tunables, err := LoadTunablesConfig(os.Getenv("SYNC_CONFIG_PATH"))
	if err != nil {
		logger.For("config").Warn("failed to load tunables, using defaults", "error", err)
		tunables = DefaultTunablesConfig()
	}

	// Snapshot DB path
	snapshotDBPath := os.Getenv("SNAPSHOT_DB_PATH")
	if snapshotDBPath == "" {
		homeDir, _ := os.UserHomeDir()
		snapshotDBPath = filepath.Join(homeDir, ".contact-sync", "snapshots.db")
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	backoff := tunables.Socket.Backoff
	if val := envSeconds("RECONNECT_DELAY_SECONDS"); val > 0 {
		backoff.Delay = val
	}
	if val := envSeconds("RECONNECT_MAX_DELAY_SECONDS"); val > 0 {
		backoff.MaxDelay = val
	}
	if val := envInt("RECONNECT_MAX_ATTEMPTS"); val > 0 {
		backoff.MaxAttempts = val
	}

	return &Config{
		API: APIConfig{
			BaseURL:   strings.TrimRight(os.Getenv("CRM_API_URL"), "/"),
			Token:     os.Getenv("CRM_API_TOKEN"),
			Timeout:   orDuration(envSeconds("CRM_API_TIMEOUT_SECONDS"), tunables.API.Timeout),
			RateLimit: orFloat(envFloat("CRM_API_RATE_LIMIT"), tunables.API.RateLimit),
			Burst:     orInt(envInt("CRM_API_BURST"), tunables.API.Burst),
		},
		Socket: SocketConfig{
			URL:               os.Getenv("CRM_SOCKET_URL"),
			HeartbeatInterval: orDuration(envSeconds("HEARTBEAT_SECONDS"), tunables.Socket.HeartbeatInterval),
			AuthTimeout:       tunables.Socket.AuthTimeout,
			MaxAuthAttempts:   tunables.Socket.MaxAuthAttempts,
			Backoff:           backoff,
		},
		Account: AccountConfig{
			WorkspaceID: os.Getenv("WORKSPACE_ID"),
			UserID:      os.Getenv("USER_ID"),
			LineID:      os.Getenv("LINE_ID"),
		},
		Sync: SyncConfig{
			DedupWindow:  orDuration(envSeconds("DEDUP_WINDOW_SECONDS"), tunables.Sync.DedupWindow),
			HistoryLimit: orInt(envInt("HISTORY_LIMIT"), tunables.Sync.HistoryLimit),
			AlertAfter:   orDuration(envSeconds("ALERT_AFTER_SECONDS"), tunables.Sync.AlertAfter),
		},
		Snapshot: SnapshotConfig{
			DBPath:   snapshotDBPath,
			Interval: orDuration(time.Duration(envInt("SNAPSHOT_INTERVAL_MINUTES"))*time.Minute, tunables.Snapshot.Interval),
		},
		HTTP: HTTPConfig{
			Addr: httpAddr,
		},
		Log: LogConfig{
			Level:  logLevel,
			Format: os.Getenv("LOG_FORMAT"),
		},
		Feishu: FeishuConfig{
			AppID:         os.Getenv("FEISHU_APP_ID"),
			AppSecret:     os.Getenv("FEISHU_APP_SECRET"),
			AlertChatID:   os.Getenv("FEISHU_ALERT_CHAT_ID"),
			AlertInterval: orDuration(time.Duration(envInt("FEISHU_ALERT_INTERVAL_MINUTES"))*time.Minute, tunables.Alerts.Interval),
		},
		Tunables: tunables,
	}
}

// Credentials returns the push connection owner
func (c *Config) Credentials() domain.Credentials {
	return domain.Credentials{
		WorkspaceID: c.Account.WorkspaceID,
		UserID:      c.Account.UserID,
		Token:       c.API.Token,
	}
}

// ToSocketOptions converts to push transport options
func (c *Config) ToSocketOptions() socket.Options {
	opts := socket.DefaultOptions()
	opts.URL = c.Socket.URL
	opts.HeartbeatInterval = c.Socket.HeartbeatInterval
	if c.Socket.AuthTimeout > 0 {
		opts.AuthTimeout = c.Socket.AuthTimeout
	}
	if c.Socket.MaxAuthAttempts > 0 {
		opts.MaxAuthAttempts = c.Socket.MaxAuthAttempts
	}
	opts.Backoff = c.Socket.Backoff
	return opts
}

// AlertsEnabled reports whether Feishu alerts are configured
func (c *FeishuConfig) AlertsEnabled() bool {
	return c.AppID != "" && c.AppSecret != "" && c.AlertChatID != ""
}

// LocalURL returns the base URL clients on this host use to reach the HTTP surface
func (c *HTTPConfig) LocalURL() string {
	if url := os.Getenv("SYNC_API_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return "http://" + defaultHTTPAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Validate validates the configuration needed to run the sync daemon
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return &ConfigError{Field: "CRM_API_URL", Message: "required"}
	}
	if c.Socket.URL == "" {
		return &ConfigError{Field: "CRM_SOCKET_URL", Message: "required"}
	}
	if c.API.Token == "" {
		return &ConfigError{Field: "CRM_API_TOKEN", Message: "required"}
	}
	if c.Account.WorkspaceID == "" || c.Account.UserID == "" {
		return &ConfigError{Field: "WORKSPACE_ID/USER_ID", Message: "required"}
	}
	if c.Account.LineID == "" {
		return &ConfigError{Field: "LINE_ID", Message: "required"}
	}
	if c.Feishu.AlertChatID != "" && (c.Feishu.AppID == "" || c.Feishu.AppSecret == "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required when FEISHU_ALERT_CHAT_ID is set"}
	}
	if c.Sync.HistoryLimit < 0 {
		return &ConfigError{Field: "HISTORY_LIMIT", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envInt(key string) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return 0
}

func envFloat(key string) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func envSeconds(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Second
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
