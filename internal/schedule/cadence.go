package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a cadence string.
type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "cron"
	}
	return "interval"
}

// Cadence decides when the next full cycle starts.
//
// Supported forms:
//   - Interval duration: "6h", "90m"
//   - Interval HH:MM: "06:00" (6 hours), "00:45" (45 minutes)
//   - Cron: "0 */6 * * *", "@every 6h", "@daily"
//
// Optional prefixes "cron:" and "every:"/"interval:" force the parse mode.
type Cadence struct {
	Kind   Kind
	Every  time.Duration
	Expr   string
	Source string // "duration" | "hhmm" | "cron"

	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Every returns an interval cadence.
func Every(d time.Duration) Cadence {
	return Cadence{Kind: KindInterval, Every: d, Source: "duration"}
}

// Parse parses raw into a Cadence.
func Parse(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{}, fmt.Errorf("cadence required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	c, err := parseInterval(s)
	if err != nil {
		return Cadence{}, fmt.Errorf(
			"invalid cadence %q (use a duration like '6h', HH:MM like '06:00', or cron like '0 */6 * * *')", raw)
	}
	return c, nil
}

func parseCron(expr string) (Cadence, error) {
	if expr == "" {
		return Cadence{}, fmt.Errorf("cron expression required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Cadence{Kind: KindCron, Expr: expr, Source: "cron", sched: sched}, nil
}

func parseInterval(v string) (Cadence, error) {
	if v == "" {
		return Cadence{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Cadence{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Cadence{}, fmt.Errorf("interval must be > 0")
		}
		return Cadence{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return Cadence{}, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}

// Next returns the start of the next cycle after now.
// A zero Cadence returns now.
func (c Cadence) Next(now time.Time) time.Time {
	switch {
	case c.Kind == KindCron && c.sched != nil:
		return c.sched.Next(now)
	case c.Every > 0:
		return now.Add(c.Every)
	default:
		return now
	}
}

func (c Cadence) String() string {
	if c.Kind == KindCron {
		return "cron:" + c.Expr
	}
	return c.Every.String()
}
