package notifier

import "time"

// Config controls the pipeline. Zero values select defaults.
type Config struct {
	QueueSize     int
	RatePerSec    float64
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

const (
	defaultQueueSize   = 64
	defaultRatePerSec  = 1
	defaultRetryMax    = 4
	defaultRetryBase   = time.Second
	defaultRetryMaxDly = 30 * time.Second
	defaultSendTimeout = 15 * time.Second
	defaultHistorySize = 50
)

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDly
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = c.RetryBase
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// HistoryItem is one delivered or abandoned message.
type HistoryItem struct {
	At       time.Time `json:"at"`
	Channel  string    `json:"channel"`
	Text     string    `json:"text"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Bus event types.
const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
)

// NotificationEvent is the bus payload for notifier events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
