package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variable names. They match the container image's historical
// interface, so existing .env files keep working.
const (
	EnvUsername        = "USERNAME"
	EnvPassword        = "PASSWORD"
	EnvWebhookURL      = "WEBHOOK_URL"
	EnvRoleID          = "ROLE_ID"
	EnvServerID        = "SERVER_ID"
	EnvBackupTimer     = "BACKUP_TIMER" // hours
	EnvTimerMultiple   = "CONFIG_TIMER_MULTIPLE_PLAYER"
	EnvTimerSingle     = "CONFIG_TIMER_SINGLE_PLAYER"
	EnvTimerNone       = "CONFIG_TIMER_NO_PLAYER"
	EnvDoBackup        = "DO_BACKUP"
	EnvGame            = "GAME"
	EnvBaseURL         = "BASE_URL"
	EnvBackupURL       = "BACKUP_URL"
	EnvQueryURL        = "QUERY_URL"
	EnvSeleniumHost    = "SELENIUM_URL"
	EnvSeleniumPort    = "SELENIUM_PORT"
	EnvBrowser         = "BROWSER"
	EnvLogLevel        = "LOG_LEVEL"
	EnvTelegramToken   = "TELEGRAM_TOKEN"
	EnvTelegramChatID  = "TELEGRAM_CHAT_ID"
	EnvTelegramThread  = "TELEGRAM_THREAD_ID"
	EnvOpsAddr         = "OPS_ADDR"
	defaultGame        = "scum"
	defaultBaseURL     = "https://www.g-portal.com/en"
	defaultSeleniumHst = "localhost"
	defaultSeleniumPrt = "4444"
)

// applyEnv overlays environment variables onto cfg. Unset or blank variables
// leave the file value untouched.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setStr := func(k string, dst *string) {
		if v, ok := get(k); ok {
			*dst = v
		}
	}

	setStr(EnvUsername, &cfg.Portal.Username)
	setStr(EnvPassword, &cfg.Portal.Password)
	setStr(EnvServerID, &cfg.Portal.ServerID)
	setStr(EnvGame, &cfg.Portal.Game)
	setStr(EnvBaseURL, &cfg.Portal.BaseURL)
	setStr(EnvBackupURL, &cfg.Portal.BackupURL)
	setStr(EnvQueryURL, &cfg.Portal.QueryURL)
	setStr(EnvWebhookURL, &cfg.Discord.WebhookURL)
	setStr(EnvRoleID, &cfg.Discord.RoleID)
	setStr(EnvSeleniumHost, &cfg.Selenium.Host)
	setStr(EnvSeleniumPort, &cfg.Selenium.Port)
	setStr(EnvBrowser, &cfg.Selenium.Browser)
	setStr(EnvLogLevel, &cfg.Logging.Level)

	if v, ok := get(EnvOpsAddr); ok {
		cfg.Ops.Enabled = true
		cfg.Ops.Addr = v
	}

	if v, ok := get(EnvDoBackup); ok {
		cfg.Backup.Enabled = parseBool(v)
	}

	timers := []struct {
		key string
		dst *string
	}{
		{EnvTimerMultiple, &cfg.Backup.Timers.MultiplePlayers},
		{EnvTimerSingle, &cfg.Backup.Timers.SinglePlayer},
		{EnvTimerNone, &cfg.Backup.Timers.NoPlayers},
	}
	for _, t := range timers {
		v, ok := get(t.key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%s: expected minutes >= 0, got %q", t.key, v)
		}
		*t.dst = minutes(f)
	}

	if v, ok := get(EnvBackupTimer); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("%s: expected hours > 0, got %q", EnvBackupTimer, v)
		}
		cfg.Backup.Interval = hours(f)
	}

	if v, ok := get(EnvTelegramToken); ok {
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q", EnvTelegramChatID, v)
		}
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvTelegramThread); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid thread id %q", EnvTelegramThread, v)
		}
		if cfg.Telegram == nil {
			cfg.Telegram = &TelegramConfig{}
		}
		cfg.Telegram.ThreadID = id
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// applyDefaults fills derived endpoints and connection defaults.
func applyDefaults(cfg *Config) {
	p := &cfg.Portal
	if p.Game == "" {
		p.Game = defaultGame
	}
	if p.BaseURL == "" {
		p.BaseURL = defaultBaseURL
	}
	if p.ServerID != "" {
		if p.BackupURL == "" {
			p.BackupURL = fmt.Sprintf("https://www.g-portal.com/eur/server/%s/%s/system/backup", p.Game, p.ServerID)
		}
		if p.QueryURL == "" {
			p.QueryURL = fmt.Sprintf("https://api.g-portal.com/gameserver/query/%s", p.ServerID)
		}
	}
	if cfg.Selenium.Host == "" {
		cfg.Selenium.Host = defaultSeleniumHst
	}
	if cfg.Selenium.Port == "" {
		cfg.Selenium.Port = defaultSeleniumPrt
	}
	if cfg.Selenium.Browser == "" {
		cfg.Selenium.Browser = "firefox"
	}
}
