// Package discord delivers notices through a Discord channel webhook.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"gpbackup/internal/transport"
)

// contentLimit is Discord's message length limit.
const contentLimit = 2000

const DefaultTimeout = 15 * time.Second

type Config struct {
	WebhookURL string
	Username   string // optional display name override
	Timeout    time.Duration
}

// Sender posts to a webhook. Role mentions are allowed so notices can ping
// the configured role; user and @everyone mentions are not.
type Sender struct {
	session  *discordgo.Session
	id       string
	token    string
	username string
}

var _ transport.Sender = (*Sender)(nil)

// New validates the webhook URL and prepares a session. No request is made.
func New(cfg Config, hc *http.Client) (*Sender, error) {
	id, token, err := ParseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{}
	}
	cp := *hc
	cp.Timeout = timeout
	s.Client = &cp
	// the notifier owns retries
	s.MaxRestRetries = 0
	s.UserAgent = "gpbackup (https://github.com/bwmarrin/discordgo)"
	return &Sender{session: s, id: id, token: token, username: cfg.Username}, nil
}

// ParseWebhookURL extracts the webhook id and token from
// https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			id, token = parts[i+1], parts[i+2]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", errors.New("discord webhook url: expected .../webhooks/{id}/{token}")
	}
	return id, token, nil
}

func (s *Sender) Name() string { return "discord" }

func (s *Sender) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return transport.ErrEmptyMessage
	}
	params := &discordgo.WebhookParams{
		Content:  truncate(text, contentLimit),
		Username: s.username,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
		},
	}
	_, err := s.session.WebhookExecute(s.id, s.token, true, params, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return &transport.PermanentError{Err: fmt.Errorf("discord webhook: %w", err)}
		}
	}
	return fmt.Errorf("discord webhook: %w", err)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
