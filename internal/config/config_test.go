package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		EnvUsername:      "operator",
		EnvPassword:      "hunter2",
		EnvWebhookURL:    "https://discord.com/api/webhooks/1/abc",
		EnvRoleID:        "987",
		EnvServerID:      "123456",
		EnvBackupTimer:   "6",
		EnvTimerMultiple: "15",
		EnvTimerSingle:   "10",
		EnvTimerNone:     "0.5",
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env[EnvDoBackup] = "yes"
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(env))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Backup.Enabled {
		t.Fatal("DO_BACKUP=yes should enable backups")
	}
	if cfg.Backup.Timers.NoPlayers != "30s" {
		t.Fatalf("no_players = %q, want 30s", cfg.Backup.Timers.NoPlayers)
	}
	if cfg.Backup.Timers.MultiplePlayers != "15m0s" {
		t.Fatalf("multiple_players = %q", cfg.Backup.Timers.MultiplePlayers)
	}
	if cfg.Backup.Interval != "6h0m0s" {
		t.Fatalf("interval = %q", cfg.Backup.Interval)
	}
	if want := "https://www.g-portal.com/eur/server/scum/123456/system/backup"; cfg.Portal.BackupURL != want {
		t.Fatalf("backup url = %q, want %q", cfg.Portal.BackupURL, want)
	}
	if want := "https://api.g-portal.com/gameserver/query/123456"; cfg.Portal.QueryURL != want {
		t.Fatalf("query url = %q, want %q", cfg.Portal.QueryURL, want)
	}
	if cfg.Selenium.Host != "localhost" || cfg.Selenium.Port != "4444" {
		t.Fatalf("selenium = %s:%s", cfg.Selenium.Host, cfg.Selenium.Port)
	}
	if m.Get() != cfg {
		t.Fatal("Get() should return the loaded config")
	}
}

func TestDoBackupDefaultsToFalse(t *testing.T) {
	t.Parallel()
	for _, v := range []string{"", "False", "0", "nope"} {
		env := baseEnv()
		env[EnvDoBackup] = v
		m := NewConfigManager("")
		m.SetLookupEnv(mapEnv(env))
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Backup.Enabled {
			t.Fatalf("DO_BACKUP=%q enabled backups", v)
		}
	}
}

func TestLoadReportsAllMissingKeys(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(map[string]string{EnvUsername: "operator"}))

	_, err := m.Load()
	var me *MissingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingError, got %v", err)
	}
	for _, k := range []string{EnvPassword, EnvWebhookURL, EnvRoleID, EnvServerID, EnvTimerNone, EnvBackupTimer} {
		if !strings.Contains(me.Error(), k) {
			t.Fatalf("missing keys %q do not mention %s", me.Error(), k)
		}
	}
	if strings.Contains(me.Error(), EnvUsername) {
		t.Fatalf("USERNAME was provided but reported missing: %s", me.Error())
	}
}

func TestInvalidTimerEnv(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env[EnvTimerSingle] = "ten"
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(env))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), EnvTimerSingle) {
		t.Fatalf("expected timer error, got %v", err)
	}
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "gpbackup.yaml")
	doc := `
portal:
  username: file-user
  password: file-pass
  server_id: "42"
  game: dayz
discord:
  webhook_url: https://discord.com/api/webhooks/1/abc
  role_id: "7"
backup:
  enabled: true
  interval: "0 */6 * * *"
  timers:
    multiple_players: 15m
    single_player: 10m
    no_players: 1m
selenium:
  host: selenium-hub
  connect_attempts: 3
ops:
  enabled: true
  addr: "127.0.0.1:9999"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookupEnv(mapEnv(map[string]string{EnvUsername: "env-user"}))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Portal.Username != "env-user" {
		t.Fatalf("env should override file, got %q", cfg.Portal.Username)
	}
	if cfg.Portal.Password != "file-pass" {
		t.Fatalf("password = %q", cfg.Portal.Password)
	}
	if want := "https://www.g-portal.com/eur/server/dayz/42/system/backup"; cfg.Portal.BackupURL != want {
		t.Fatalf("backup url = %q", cfg.Portal.BackupURL)
	}
	if cfg.Selenium.Host != "selenium-hub" || cfg.Selenium.ConnectAttempts != 3 {
		t.Fatalf("selenium = %+v", cfg.Selenium)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Addr != "127.0.0.1:9999" {
		t.Fatalf("ops = %+v", cfg.Ops)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "gpbackup.json")
	if err := os.WriteFile(path, []byte(`{"portal":{"usr":"x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookupEnv(mapEnv(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "gpbackup.json")
	if err := os.WriteFile(path, []byte(`{} {}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookupEnv(mapEnv(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env[EnvQueryURL] = "ftp://example.com/query"
	env[EnvBrowser] = "lynx"
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(env))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Backup.Interval = "whenever"
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"portal.query_url", "selenium.browser", "backup.interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestTelegramNeedsTokenAndChat(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env[EnvTelegramToken] = "123:abc"
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(env))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected telegram error, got %v", err)
	}
	env[EnvTelegramChatID] = "-100123"
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestDotenvFile(t *testing.T) {
	if _, set := os.LookupEnv(EnvRoleID); set {
		t.Skip("ROLE_ID already set in the test environment")
	}
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("ROLE_ID=5555\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv(EnvRoleID) })

	m := NewConfigManager("")
	m.SetEnvFile(envFile)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.RoleID != "5555" {
		t.Fatalf("role id = %q, want value from dotenv", cfg.Discord.RoleID)
	}

	m.SetEnvFile(filepath.Join(dir, "missing.env"))
	if _, err := m.Parse(); err != nil {
		t.Fatalf("missing dotenv file should be ignored: %v", err)
	}
}

func TestSummaryMasksSecrets(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetLookupEnv(mapEnv(baseEnv()))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := mask(cfg.Portal.Password); got != "*******" {
		t.Fatalf("mask = %q", got)
	}
	if len(cfg.Summary()) == 0 {
		t.Fatal("expected summary fields")
	}
}
