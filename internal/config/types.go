package config

// Config is the on-disk / environment configuration.
//
// All durations are Go duration strings (e.g. "90s", "5m", "6h"). The
// environment overlay converts the legacy minute/hour variables into this form.
// After Load() the value is treated as read-only for the lifetime of the process.
type Config struct {
	Portal   PortalConfig    `json:"portal"`
	Selenium SeleniumConfig  `json:"selenium"`
	Discord  DiscordConfig   `json:"discord"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Backup   BackupConfig    `json:"backup"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
	Ops      OpsConfig       `json:"ops"`
}

// PortalConfig describes the hosted game server and its web panel.
type PortalConfig struct {
	Username string `json:"username"`
	Password string `json:"password"` // never logged
	ServerID string `json:"server_id"`
	Game     string `json:"game,omitempty"` // default: "scum"

	// Endpoints. When omitted they are derived from Game and ServerID.
	BaseURL   string `json:"base_url,omitempty"`
	BackupURL string `json:"backup_url,omitempty"`
	QueryURL  string `json:"query_url,omitempty"`

	// ProbeTimeout bounds a single status query. Default: "10s".
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}

// SeleniumConfig locates the WebDriver hub used to drive the panel.
type SeleniumConfig struct {
	Host    string `json:"host,omitempty"`    // default: "localhost"
	Port    string `json:"port,omitempty"`    // default: "4444"
	Browser string `json:"browser,omitempty"` // firefox|chrome|edge, default firefox
	// Headless is a pointer so an explicit false can be told apart from "omitted".
	Headless *bool `json:"headless,omitempty"`

	ConnectAttempts  int    `json:"connect_attempts,omitempty"`  // default: 5
	RetryDelay       string `json:"retry_delay,omitempty"`       // default: "5s"
	RequestTimeout   string `json:"request_timeout,omitempty"`   // per WebDriver HTTP call, default: "60s"
	ElementWait      string `json:"element_wait,omitempty"`      // default: "10s"
	OperationTimeout string `json:"operation_timeout,omitempty"` // login/backup, default: "3m"
}

// DiscordConfig is the primary notification channel.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"` // never logged
	RoleID     string `json:"role_id"`
}

// TelegramConfig optionally mirrors every notice to a Telegram chat.
type TelegramConfig struct {
	Token    string `json:"token"` // never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// BackupConfig is the policy table and loop timing.
type BackupConfig struct {
	// Enabled is DO_BACKUP. Omitted means false.
	Enabled bool `json:"enabled"`

	Timers TimersConfig `json:"timers"`

	// Interval is the full cycle cadence: a duration ("6h"), HH:MM ("06:00")
	// or a cron expression ("0 */6 * * *").
	Interval string `json:"interval"`

	ProbeRetryDelay string `json:"probe_retry_delay,omitempty"` // default: "60s"
	HistorySize     int    `json:"history_size,omitempty"`      // timing samples kept, default: 20
}

// TimersConfig is the per-occupancy wait before a backup.
type TimersConfig struct {
	MultiplePlayers string `json:"multiple_players"`
	SinglePlayer    string `json:"single_player"`
	NoPlayers       string `json:"no_players"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, defaults apply.
type NotifierConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile is the rotating JSON log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// OpsConfig controls the optional metrics/health HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
