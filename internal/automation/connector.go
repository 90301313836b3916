package automation

import (
	"context"
	"errors"
	"time"

	"gpbackup/internal/eventbus"
	logx "gpbackup/pkg/logx"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 5 * time.Second
	DefaultDialTimeout = 60 * time.Second
)

// EventConnectAttempt is published on the bus after every dial.
const EventConnectAttempt = "automation.connect_attempt"

// AttemptEvent is the payload of EventConnectAttempt.
type AttemptEvent struct {
	Attempt int           `json:"attempt"`
	Elapsed time.Duration `json:"elapsed"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
}

type ConnectorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// Connector opens a Session with fixed-delay retries.
type Connector struct {
	cfg    ConnectorConfig
	dialer Dialer
	log    logx.Logger
	bus    eventbus.Bus

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnector returns a Connector. bus may be nil.
func NewConnector(cfg ConnectorConfig, d Dialer, log logx.Logger, bus eventbus.Bus) *Connector {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Connector{cfg: cfg, dialer: d, log: log, bus: bus, sleep: sleepCtx}
}

// Connect dials until a session opens or MaxAttempts consecutive attempts
// failed. The returned duration is the time taken by the successful attempt.
// Cancellation of ctx is returned as is, not as a ConnectError.
func (c *Connector) Connect(ctx context.Context) (Session, time.Duration, error) {
	var last error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		start := time.Now()
		s, err := c.dialer.Dial(dctx)
		elapsed := time.Since(start)
		cancel()

		if err == nil && s == nil {
			err = errors.New("dialer returned no session")
		}
		c.publish(attempt, elapsed, err)
		if err == nil {
			c.log.Debug("session opened", logx.String("session", s.ID()), logx.Int("attempt", attempt), logx.Duration("elapsed", elapsed))
			return s, elapsed, nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		last = err
		c.log.Warn("connect attempt failed", logx.Int("attempt", attempt), logx.Int("max", c.cfg.MaxAttempts), logx.Err(err))
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, &ConnectError{Attempts: c.cfg.MaxAttempts, Err: last}
}

func (c *Connector) publish(attempt int, elapsed time.Duration, err error) {
	if c.bus == nil {
		return
	}
	ev := AttemptEvent{Attempt: attempt, Elapsed: elapsed, OK: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: EventConnectAttempt, Data: ev})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
