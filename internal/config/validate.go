package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gpbackup/internal/schedule"
	logx "gpbackup/pkg/logx"
)

// MissingError lists every required value that was not provided.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// Validate checks required values, URLs, durations and the cycle cadence.
// All problems are reported at once.
func (c *Config) Validate() error {
	var missing []string
	req := func(v, key string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	req(c.Portal.Username, EnvUsername)
	req(c.Portal.Password, EnvPassword)
	req(c.Discord.WebhookURL, EnvWebhookURL)
	req(c.Discord.RoleID, EnvRoleID)
	req(c.Portal.ServerID, EnvServerID)
	req(c.Backup.Timers.MultiplePlayers, EnvTimerMultiple)
	req(c.Backup.Timers.SinglePlayer, EnvTimerSingle)
	req(c.Backup.Timers.NoPlayers, EnvTimerNone)
	req(c.Backup.Interval, EnvBackupTimer)

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, &MissingError{Keys: missing})
	}

	for _, u := range []struct{ key, v string }{
		{"portal.base_url", c.Portal.BaseURL},
		{"portal.backup_url", c.Portal.BackupURL},
		{"portal.query_url", c.Portal.QueryURL},
		{"discord.webhook_url", c.Discord.WebhookURL},
	} {
		if u.v == "" {
			continue
		}
		if err := checkURL(u.v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.key, err))
		}
	}

	durations := []struct{ key, v string }{
		{"backup.timers.multiple_players", c.Backup.Timers.MultiplePlayers},
		{"backup.timers.single_player", c.Backup.Timers.SinglePlayer},
		{"backup.timers.no_players", c.Backup.Timers.NoPlayers},
		{"backup.probe_retry_delay", c.Backup.ProbeRetryDelay},
		{"portal.probe_timeout", c.Portal.ProbeTimeout},
		{"selenium.retry_delay", c.Selenium.RetryDelay},
		{"selenium.request_timeout", c.Selenium.RequestTimeout},
		{"selenium.element_wait", c.Selenium.ElementWait},
		{"selenium.operation_timeout", c.Selenium.OperationTimeout},
		{"ops.read_timeout", c.Ops.ReadTimeout},
		{"ops.write_timeout", c.Ops.WriteTimeout},
		{"ops.idle_timeout", c.Ops.IdleTimeout},
	}
	if n := c.Notifier; n != nil {
		durations = append(durations,
			struct{ key, v string }{"notifier.retry_base", n.RetryBase},
			struct{ key, v string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ key, v string }{"notifier.send_timeout", n.SendTimeout},
		)
		if n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier: queue_size, rate_per_sec and retry_max must be >= 0"))
		}
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.key, d.v); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Backup.Interval) != "" {
		if _, err := schedule.Parse(c.Backup.Interval); err != nil {
			errs = append(errs, fmt.Errorf("backup.interval: %w", err))
		}
	}
	if c.Backup.HistorySize < 0 {
		errs = append(errs, errors.New("backup.history_size must be >= 0"))
	}
	if c.Selenium.ConnectAttempts < 0 {
		errs = append(errs, errors.New("selenium.connect_attempts must be >= 0"))
	}
	switch strings.ToLower(c.Selenium.Browser) {
	case "", "firefox", "chrome", "edge", "msedge":
	default:
		errs = append(errs, fmt.Errorf("selenium.browser: unsupported %q", c.Selenium.Browser))
	}
	if t := c.Telegram; t != nil && (strings.TrimSpace(t.Token) == "") != (t.ChatID == 0) {
		errs = append(errs, errors.New("telegram: token and chat_id must be set together"))
	}
	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if f := c.Logging.File; f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
		errs = append(errs, errors.New("logging.file: rotation limits must be >= 0"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
