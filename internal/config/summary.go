package config

import (
	"strings"

	logx "gpbackup/pkg/logx"
)

// Summary returns safe structured fields describing the effective config.
// Secrets are masked with stars of the same length, never logged verbatim.
func (c *Config) Summary() []logx.Field {
	if c == nil {
		return nil
	}
	fields := []logx.Field{
		logx.String("portal.username", c.Portal.Username),
		logx.String("portal.password", mask(c.Portal.Password)),
		logx.String("portal.server_id", c.Portal.ServerID),
		logx.String("portal.game", c.Portal.Game),
		logx.String("portal.query_url", c.Portal.QueryURL),
		logx.String("portal.backup_url", c.Portal.BackupURL),
		logx.String("selenium", c.Selenium.Host+":"+c.Selenium.Port),
		logx.String("selenium.browser", c.Selenium.Browser),
		logx.String("discord.webhook_url", mask(c.Discord.WebhookURL)),
		logx.String("discord.role_id", c.Discord.RoleID),
		logx.Bool("backup.enabled", c.Backup.Enabled),
		logx.String("backup.timers.multiple_players", c.Backup.Timers.MultiplePlayers),
		logx.String("backup.timers.single_player", c.Backup.Timers.SinglePlayer),
		logx.String("backup.timers.no_players", c.Backup.Timers.NoPlayers),
		logx.String("backup.interval", c.Backup.Interval),
		logx.Bool("telegram.enabled", c.Telegram != nil && c.Telegram.Token != ""),
		logx.Bool("ops.enabled", c.Ops.Enabled),
	}
	if c.Ops.Enabled {
		fields = append(fields, logx.String("ops.addr", c.Ops.Addr), logx.Bool("ops.token_set", c.Ops.Token != ""))
	}
	return fields
}

func mask(s string) string {
	return strings.Repeat("*", len(s))
}
