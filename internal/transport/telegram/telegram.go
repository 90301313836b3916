// Package telegram mirrors notices into a Telegram chat (optionally a forum
// topic) through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"gpbackup/internal/transport"
)

// textLimit stays under the Bot API's 4096 character limit.
const textLimit = 4000

const DefaultTimeout = 15 * time.Second

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string // default: https://api.telegram.org
	Timeout  time.Duration
}

type Sender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	loc      *time.Location
}

var _ transport.Sender = (*Sender)(nil)

// New creates the bot client without touching the network. A bad token
// surfaces on the first Send as a permanent error.
func New(cfg Config, hc *http.Client) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
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

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.APIURL,
		Client: &cp,
		// send-only: no poller, no handlers, no getMe
		Synchronous: true,
		Offline:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Sender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID, loc: time.UTC}, nil
}

func (s *Sender) Name() string { return "telegram" }

func (s *Sender) Send(ctx context.Context, text string) error {
	plain := Render(text, s.loc)
	if plain == "" {
		return transport.ErrEmptyMessage
	}
	for _, chunk := range splitText(plain, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(s.chat, chunk, &tele.SendOptions{
			ThreadID:              s.threadID,
			DisableWebPagePreview: true,
		})
		if err != nil {
			if isPermanent(err) {
				return &transport.PermanentError{Err: fmt.Errorf("telegram: %w", err)}
			}
			return fmt.Errorf("telegram: %w", err)
		}
	}
	return nil
}

func isPermanent(err error) bool {
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrUnauthorized)
}

var (
	reRoleMention = regexp.MustCompile(`<@&\d+>\n?`)
	reTimestamp   = regexp.MustCompile(`<t:(-?\d+)(?::[tTdDfFR])?>`)
	reBold        = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// Render turns Discord markup into plain text: role mentions are dropped,
// timestamps become absolute times in loc, bold markers are removed.
func Render(text string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	out := reRoleMention.ReplaceAllString(text, "")
	out = reTimestamp.ReplaceAllStringFunc(out, func(m string) string {
		sub := reTimestamp.FindStringSubmatch(m)
		sec, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return m
		}
		return "at " + time.Unix(sec, 0).In(loc).Format("2006-01-02 15:04 MST")
	})
	out = reBold.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			end = len(rs)
		} else {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
