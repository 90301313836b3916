package schedule

import (
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{name: "duration", raw: "6h", kind: KindInterval, source: "duration", every: 6 * time.Hour},
		{name: "prefixed interval", raw: "every:90m", kind: KindInterval, source: "duration", every: 90 * time.Minute},
		{name: "hhmm", raw: "06:30", kind: KindInterval, source: "hhmm", every: 6*time.Hour + 30*time.Minute},
		{name: "cron", raw: "0 */6 * * *", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@every 2h", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:@daily", kind: KindCron, source: "cron"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "-5m", "0s", "00:00", "01:75", "cron:", "61 * * * *"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) expected error", raw)
		}
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Every(6 * time.Hour)
	if got, want := c.Next(now), now.Add(6*time.Hour); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextCron(t *testing.T) {
	t.Parallel()
	c, err := Parse("0 */6 * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.Local)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	if got := c.Next(now); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestZeroCadenceNextIsNow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	if got := (Cadence{}).Next(now); !got.Equal(now) {
		t.Fatalf("Next = %v, want now", got)
	}
}
