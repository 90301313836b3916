package app

import (
	"strings"

	"gpbackup/internal/automation"
	"gpbackup/internal/automation/gportal"
	"gpbackup/internal/backup"
	"gpbackup/internal/config"
	"gpbackup/internal/metrics"
	"gpbackup/internal/notifier"
	"gpbackup/internal/schedule"
	"gpbackup/internal/status"
	"gpbackup/internal/transport/discord"
	"gpbackup/internal/transport/telegram"
	logx "gpbackup/pkg/logx"
)

// Every mapper assumes cfg passed Validate; errors are still returned rather
// than ignored.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	}
}

func mapPolicy(cfg *config.Config) (backup.Policy, error) {
	t := cfg.Backup.Timers
	multi, err := config.ParseDurationField("backup.timers.multiple_players", t.MultiplePlayers)
	if err != nil {
		return backup.Policy{}, err
	}
	single, err := config.ParseDurationField("backup.timers.single_player", t.SinglePlayer)
	if err != nil {
		return backup.Policy{}, err
	}
	none, err := config.ParseDurationField("backup.timers.no_players", t.NoPlayers)
	if err != nil {
		return backup.Policy{}, err
	}
	return backup.Policy{
		DoBackup:        cfg.Backup.Enabled,
		MultiplePlayers: multi,
		SinglePlayer:    single,
		NoPlayers:       none,
	}, nil
}

func mapOrchestrator(cfg *config.Config) (backup.Config, error) {
	policy, err := mapPolicy(cfg)
	if err != nil {
		return backup.Config{}, err
	}
	cadence, err := schedule.Parse(cfg.Backup.Interval)
	if err != nil {
		return backup.Config{}, err
	}
	retry, err := config.ParseDurationOrDefault("backup.probe_retry_delay", cfg.Backup.ProbeRetryDelay, backup.DefaultProbeRetryDelay)
	if err != nil {
		return backup.Config{}, err
	}
	opTimeout, err := config.ParseDurationOrDefault("selenium.operation_timeout", cfg.Selenium.OperationTimeout, backup.DefaultOperationTimeout)
	if err != nil {
		return backup.Config{}, err
	}
	return backup.Config{
		Policy:           policy,
		RoleID:           cfg.Discord.RoleID,
		Cadence:          cadence,
		ProbeRetryDelay:  retry,
		OperationTimeout: opTimeout,
	}, nil
}

func mapStatus(cfg *config.Config) (status.Config, error) {
	timeout, err := config.ParseDurationOrDefault("portal.probe_timeout", cfg.Portal.ProbeTimeout, status.DefaultTimeout)
	if err != nil {
		return status.Config{}, err
	}
	return status.Config{URL: cfg.Portal.QueryURL, Timeout: timeout}, nil
}

func mapSelenium(cfg *config.Config) (gportal.Config, automation.ConnectorConfig, error) {
	s := cfg.Selenium
	reqTimeout, err := config.ParseDurationOrDefault("selenium.request_timeout", s.RequestTimeout, gportal.DefaultRequestTimeout)
	if err != nil {
		return gportal.Config{}, automation.ConnectorConfig{}, err
	}
	wait, err := config.ParseDurationOrDefault("selenium.element_wait", s.ElementWait, gportal.DefaultElementWait)
	if err != nil {
		return gportal.Config{}, automation.ConnectorConfig{}, err
	}
	retry, err := config.ParseDurationOrDefault("selenium.retry_delay", s.RetryDelay, automation.DefaultRetryDelay)
	if err != nil {
		return gportal.Config{}, automation.ConnectorConfig{}, err
	}
	headless := true
	if s.Headless != nil {
		headless = *s.Headless
	}
	attempts := s.ConnectAttempts
	if attempts <= 0 {
		attempts = automation.DefaultMaxAttempts
	}
	gc := gportal.Config{
		HubURL:         gportal.HubURL(s.Host, s.Port),
		Browser:        s.Browser,
		Headless:       headless,
		BaseURL:        cfg.Portal.BaseURL,
		BackupURL:      cfg.Portal.BackupURL,
		Username:       cfg.Portal.Username,
		Password:       cfg.Portal.Password,
		ElementWait:    wait,
		RequestTimeout: reqTimeout,
	}
	cc := automation.ConnectorConfig{
		MaxAttempts: attempts,
		RetryDelay:  retry,
		DialTimeout: reqTimeout,
	}
	return gc, cc, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		QueueSize:     nc.QueueSize,
		RatePerSec:    float64(nc.RatePerSec),
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapDiscord(cfg *config.Config) discord.Config {
	return discord.Config{WebhookURL: cfg.Discord.WebhookURL}
}

// mapTelegram returns ok=false when the mirror is not configured.
func mapTelegram(cfg *config.Config) (telegram.Config, bool) {
	tc := cfg.Telegram
	if tc == nil || strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID}, true
}

func mapOps(cfg *config.Config) (metrics.ServerConfig, error) {
	o := cfg.Ops
	rt, err := config.ParseDurationField("ops.read_timeout", o.ReadTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	it, err := config.ParseDurationField("ops.idle_timeout", o.IdleTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}
