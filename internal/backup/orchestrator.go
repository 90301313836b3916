package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gpbackup/internal/automation"
	"gpbackup/internal/eventbus"
	"gpbackup/internal/status"
	logx "gpbackup/pkg/logx"
)

const (
	DefaultProbeRetryDelay  = 60 * time.Second
	DefaultOperationTimeout = 3 * time.Minute
)

type Prober interface {
	Probe(ctx context.Context) (status.ServerStatus, error)
}

type Connector interface {
	Connect(ctx context.Context) (automation.Session, time.Duration, error)
}

// Notifier must not block on delivery; failures stay inside it.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Estimator interface {
	RecordLogin(d time.Duration)
	RecordBackup(d time.Duration)
	RecordConnect(d time.Duration)
	Prepare() time.Duration
}

// Cadence yields the next full-cycle instant.
type Cadence interface {
	Next(now time.Time) time.Time
}

type Config struct {
	Policy           Policy
	RoleID           string
	Cadence          Cadence
	ProbeRetryDelay  time.Duration
	OperationTimeout time.Duration
}

type Deps struct {
	Prober    Prober
	Connector Connector
	Estimator Estimator
	Notifier  Notifier
	Clock     Clock
	Log       logx.Logger
	Bus       eventbus.Bus
}

// Orchestrator runs backup cycles. Run and RunCycle must not be called
// concurrently; the accessors are safe from any goroutine.
type Orchestrator struct {
	cfg    Config
	probe  Prober
	conn   Connector
	est    Estimator
	notify Notifier
	clock  Clock
	log    logx.Logger
	bus    eventbus.Bus

	mu    sync.Mutex
	state State
	last  *Report
}

func New(cfg Config, d Deps) (*Orchestrator, error) {
	switch {
	case d.Prober == nil:
		return nil, errors.New("backup: prober is required")
	case d.Connector == nil:
		return nil, errors.New("backup: connector is required")
	case d.Estimator == nil:
		return nil, errors.New("backup: estimator is required")
	case d.Notifier == nil:
		return nil, errors.New("backup: notifier is required")
	case cfg.Cadence == nil:
		return nil, errors.New("backup: cadence is required")
	}
	if cfg.ProbeRetryDelay <= 0 {
		cfg.ProbeRetryDelay = DefaultProbeRetryDelay
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Orchestrator{
		cfg:    cfg,
		probe:  d.Prober,
		conn:   d.Connector,
		est:    d.Estimator,
		notify: d.Notifier,
		clock:  d.Clock,
		log:    d.Log,
		bus:    d.Bus,
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastReport returns the most recent finished cycle, if any.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Run loops cycle after cycle until ctx is cancelled. Only cancellation ends
// it; cycle failures are logged and followed by the cooldown.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.setState("", StateIdle, time.Time{})
	for {
		rep, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			o.log.Warn("cycle failed", logx.String("cycle", rep.ID), logx.Err(err))
		}

		next := rep.NextAt
		if next.IsZero() {
			next = o.cfg.Cadence.Next(o.clock.Now())
		}
		o.setState(rep.ID, StateCooldown, next)
		wait := untilInstant(o.clock.Now(), next)
		o.log.Info("cooldown", logx.String("cycle", rep.ID), logx.Duration("wait", wait), logx.Time("next", next))
		if err := o.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunCycle runs one cycle from PROBE up to, not including, the cooldown
// sleep. The returned error is the cycle failure (*automation.ConnectError,
// *automation.StepError) or ctx.Err(); the report is filled in either case.
func (o *Orchestrator) RunCycle(ctx context.Context) (rep Report, err error) {
	rep = Report{ID: uuid.NewString(), StartedAt: o.clock.Now()}
	log := o.log.With(logx.String("cycle", rep.ID))
	defer func() {
		rep.FinishedAt = o.clock.Now()
		if err != nil {
			rep.Error = err.Error()
			if ctx.Err() != nil {
				rep.Outcome = OutcomeAborted
			}
		}
		o.finish(rep)
	}()

	// PROBE
	st, failures, err := o.probeUntilOK(ctx, log, rep.ID)
	rep.ProbeFailures = failures
	if err != nil {
		return rep, err
	}

	// SCHEDULE
	o.setState(rep.ID, StateSchedule, time.Time{})
	c := NewCycle(o.clock.Now(), st.PlayerCount, o.cfg.Policy)
	rep.Cycle = c
	rep.RefreshedCount = c.PlayerCount
	if !c.Notify {
		log.Info("server empty and backups disabled, skipping cycle")
		rep.Outcome = OutcomeSkipped
		return rep, nil
	}
	log.Info("backup scheduled",
		logx.Int("players", c.PlayerCount),
		logx.Bool("will_backup", c.WillBackup),
		logx.Duration("timer", c.Timer),
		logx.Time("at", c.ScheduledAt),
	)
	o.notify.Notify(ctx, AdvanceNotice(o.cfg.RoleID, c))

	// PREPARE_WAIT
	rep.PrepareEstimate = o.est.Prepare()
	rep.PrepareSleep = PrepareSleep(c.Timer, rep.PrepareEstimate)
	o.setState(rep.ID, StatePrepareWait, o.clock.Now().Add(rep.PrepareSleep))
	log.Debug("waiting before connect", logx.Duration("sleep", rep.PrepareSleep), logx.Duration("prepare", rep.PrepareEstimate))
	if err := o.clock.Sleep(ctx, rep.PrepareSleep); err != nil {
		return rep, err
	}

	fresh, perr := o.probe.Probe(ctx)
	if ctx.Err() != nil {
		return rep, ctx.Err()
	}
	o.probed(rep.ID, true, fresh, perr)
	if perr != nil {
		log.Warn("re-probe failed, keeping previous player count", logx.Err(perr))
	} else {
		rep.RefreshedCount = fresh.PlayerCount
	}
	o.notify.Notify(ctx, HalfTimeNotice(c, rep.RefreshedCount))

	// CONNECT_LOGIN
	o.setState(rep.ID, StateConnectLogin, time.Time{})
	sess, connectDur, err := o.conn.Connect(ctx)
	if err != nil {
		return o.failed(ctx, log, &rep, nil, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug("session close failed", logx.Err(cerr))
		}
	}()
	rep.SessionID = sess.ID()
	rep.ConnectDuration = connectDur
	o.est.RecordConnect(connectDur)

	start := o.clock.Now()
	if err := o.withTimeout(ctx, sess.Login); err != nil {
		return o.failed(ctx, log, &rep, sess, err)
	}
	rep.LoginDuration = o.clock.Now().Sub(start)
	o.est.RecordLogin(rep.LoginDuration)
	log.Info("logged in", logx.String("session", rep.SessionID), logx.Duration("took", rep.LoginDuration))

	// FINAL_WAIT
	o.setState(rep.ID, StateFinalWait, c.ScheduledAt)
	if err := o.clock.Sleep(ctx, untilInstant(o.clock.Now(), c.ScheduledAt)); err != nil {
		return rep, err
	}

	// BACKUP
	o.setState(rep.ID, StateBackup, time.Time{})
	fake := !c.WillBackup
	start = o.clock.Now()
	err = o.withTimeout(ctx, func(ctx context.Context) error { return sess.PerformBackup(ctx, fake) })
	if err != nil {
		return o.failed(ctx, log, &rep, sess, err)
	}

	// RECORD
	o.setState(rep.ID, StateRecord, time.Time{})
	rep.BackupDuration = o.clock.Now().Sub(start)
	o.est.RecordBackup(rep.BackupDuration)

	// NOTIFY_DONE
	o.setState(rep.ID, StateNotifyDone, time.Time{})
	rep.NextAt = o.cfg.Cadence.Next(o.clock.Now())
	if fake {
		rep.Outcome = OutcomeDryRun
		log.Info("dry run finished", logx.Duration("took", rep.BackupDuration), logx.Time("next", rep.NextAt))
		return rep, nil
	}
	rep.Outcome = OutcomeSuccess
	log.Info("backup completed", logx.Duration("took", rep.BackupDuration), logx.Time("next", rep.NextAt))
	o.notify.Notify(ctx, SuccessNotice(o.cfg.RoleID, rep.NextAt))
	return rep, nil
}

// probeUntilOK retries the status probe every ProbeRetryDelay. Only ctx ends
// it early.
func (o *Orchestrator) probeUntilOK(ctx context.Context, log logx.Logger, id string) (status.ServerStatus, int, error) {
	failures := 0
	for {
		o.setState(id, StateProbe, time.Time{})
		st, err := o.probe.Probe(ctx)
		if ctx.Err() != nil {
			return status.ServerStatus{}, failures, ctx.Err()
		}
		o.probed(id, false, st, err)
		if err == nil {
			log.Info("server status", logx.Int("players", st.PlayerCount), logx.Int("max", st.MaxPlayers), logx.Bool("online", st.Online))
			return st, failures, nil
		}
		failures++
		log.Error("status probe failed", logx.Int("failures", failures), logx.Duration("retry_in", o.cfg.ProbeRetryDelay), logx.Err(err))
		if err := o.clock.Sleep(ctx, o.cfg.ProbeRetryDelay); err != nil {
			return status.ServerStatus{}, failures, err
		}
	}
}

// failed closes the session, announces the failure and ends the cycle.
// Shutdown is not announced.
func (o *Orchestrator) failed(ctx context.Context, log logx.Logger, rep *Report, sess automation.Session, err error) (Report, error) {
	if ctx.Err() != nil {
		return *rep, ctx.Err()
	}
	if sess != nil {
		_ = sess.Close()
	}
	rep.Outcome = OutcomeFailed
	rep.NextAt = o.cfg.Cadence.Next(o.clock.Now())

	var se *automation.StepError
	var ce *automation.ConnectError
	switch {
	case errors.As(err, &ce):
		log.Error("could not reach the automation hub", logx.Int("attempts", ce.Attempts), logx.Err(ce.Err))
	case errors.As(err, &se):
		log.Error("automation step failed", logx.String("step", se.Step), logx.String("affordance", se.Affordance), logx.Bool("missing", errors.Is(err, automation.ErrAffordanceMissing)), logx.Err(se.Err))
	default:
		log.Error("cycle failed", logx.Err(err))
	}
	o.notify.Notify(ctx, FailureNotice(o.cfg.RoleID, rep.NextAt))
	return *rep, err
}

func (o *Orchestrator) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, o.cfg.OperationTimeout)
	defer cancel()
	if err := fn(opCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("operation exceeded %s: %w", o.cfg.OperationTimeout, err)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) setState(id string, s State, until time.Time) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()
	if changed && o.bus != nil {
		now := o.clock.Now()
		o.bus.Publish(eventbus.Event{Type: EventState, Time: now, Data: StateEvent{CycleID: id, State: s, At: now, Until: until}})
	}
}

func (o *Orchestrator) probed(id string, refresh bool, st status.ServerStatus, err error) {
	if o.bus == nil {
		return
	}
	now := o.clock.Now()
	ev := ProbeEvent{CycleID: id, OK: err == nil, Refresh: refresh, At: now}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Players = st.PlayerCount
	}
	o.bus.Publish(eventbus.Event{Type: EventProbe, Time: now, Data: ev})
}

func (o *Orchestrator) finish(rep Report) {
	o.mu.Lock()
	r := rep
	o.last = &r
	o.mu.Unlock()
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: EventCycle, Time: rep.FinishedAt, Data: rep})
	}
}
