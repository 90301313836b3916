package backup

import "time"

// Policy is the per-occupancy timer table.
type Policy struct {
	DoBackup        bool
	MultiplePlayers time.Duration
	SinglePlayer    time.Duration
	NoPlayers       time.Duration
}

// Decision is the policy outcome for one probe.
type Decision struct {
	WillBackup bool
	Timer      time.Duration
	// Notify is false only for an empty server with backups disabled; such a
	// cycle opens no session and goes straight to cooldown.
	Notify bool
}

// DecideTimer maps occupancy to a decision. Negative counts are treated as
// an empty server.
func DecideTimer(playerCount int, p Policy) Decision {
	if playerCount < 0 {
		playerCount = 0
	}
	var d Decision
	switch {
	case playerCount == 0 && !p.DoBackup:
		return Decision{}
	case playerCount == 0:
		d = Decision{WillBackup: true, Timer: p.NoPlayers}
	case playerCount == 1:
		d = Decision{WillBackup: p.DoBackup, Timer: p.SinglePlayer}
	default:
		d = Decision{WillBackup: p.DoBackup, Timer: p.MultiplePlayers}
	}
	if d.Timer < 0 {
		d.Timer = 0
	}
	d.Notify = playerCount > 0 || p.DoBackup
	return d
}

// Cycle is the plan for one iteration. ScheduledAt == ComputedAt + Timer.
type Cycle struct {
	ComputedAt  time.Time     `json:"computed_at"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Timer       time.Duration `json:"timer"`
	PlayerCount int           `json:"player_count"`
	WillBackup  bool          `json:"will_backup"`
	Notify      bool          `json:"notify"`
}

// NewCycle applies the policy at now.
func NewCycle(now time.Time, playerCount int, p Policy) Cycle {
	if playerCount < 0 {
		playerCount = 0
	}
	d := DecideTimer(playerCount, p)
	return Cycle{
		ComputedAt:  now,
		ScheduledAt: now.Add(d.Timer),
		Timer:       d.Timer,
		PlayerCount: playerCount,
		WillBackup:  d.WillBackup,
		Notify:      d.Notify,
	}
}

// DryRun reports whether the cycle exercises the panel without confirming.
func (c Cycle) DryRun() bool { return c.Notify && !c.WillBackup }

// PrepareSleep is how long to wait before connecting so that connect, login
// and backup finish around the scheduled instant. Never negative.
func PrepareSleep(timer, prepare time.Duration) time.Duration {
	if d := timer - prepare; d > 0 {
		return d
	}
	return 0
}

// untilInstant is the remaining wait to at, never negative.
func untilInstant(now, at time.Time) time.Duration {
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
