package backup

import (
	"time"
)

// State is the orchestrator's position in the cycle.
type State int

const (
	StateIdle State = iota
	StateProbe
	StateSchedule
	StatePrepareWait
	StateConnectLogin
	StateFinalWait
	StateBackup
	StateRecord
	StateNotifyDone
	StateCooldown
)

var stateNames = [...]string{
	StateIdle:         "IDLE",
	StateProbe:        "PROBE",
	StateSchedule:     "SCHEDULE",
	StatePrepareWait:  "PREPARE_WAIT",
	StateConnectLogin: "CONNECT_LOGIN",
	StateFinalWait:    "FINAL_WAIT",
	StateBackup:       "BACKUP",
	StateRecord:       "RECORD",
	StateNotifyDone:   "NOTIFY_DONE",
	StateCooldown:     "COOLDOWN",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Bus event types.
const (
	EventState = "backup.state"
	EventProbe = "backup.probe"
	EventCycle = "backup.cycle"
)

// StateEvent is published on every transition.
type StateEvent struct {
	CycleID string    `json:"cycle_id,omitempty"`
	State   State     `json:"state"`
	At      time.Time `json:"at"`
	// Until is the end of the wait the state represents, when known.
	Until time.Time `json:"until,omitempty"`
}

// ProbeEvent is published after every status request, including the
// refresh before connecting, so failures are visible while PROBE retries.
type ProbeEvent struct {
	CycleID string    `json:"cycle_id,omitempty"`
	OK      bool      `json:"ok"`
	Players int       `json:"players"`
	Refresh bool      `json:"refresh,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDryRun  Outcome = "dry_run"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted" // shutdown mid-cycle
)

// Report summarises one cycle. It is published as the EventCycle payload.
type Report struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Cycle          Cycle `json:"cycle"`
	ProbeFailures  int   `json:"probe_failures"`
	RefreshedCount int   `json:"refreshed_count"`

	PrepareEstimate time.Duration `json:"prepare_estimate"`
	PrepareSleep    time.Duration `json:"prepare_sleep"`
	ConnectDuration time.Duration `json:"connect_duration"`
	LoginDuration   time.Duration `json:"login_duration"`
	BackupDuration  time.Duration `json:"backup_duration"`
	SessionID       string        `json:"session_id,omitempty"`

	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	NextAt  time.Time `json:"next_at"`
}
