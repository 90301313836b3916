package backup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gpbackup/internal/automation"
	"gpbackup/internal/eventbus"
	"gpbackup/internal/schedule"
	"gpbackup/internal/status"
	"gpbackup/internal/timing"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int, d time.Duration)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n, d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.advance(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type probeResult struct {
	players int
	err     error
}

type fakeProber struct {
	mu      sync.Mutex
	results []probeResult
	calls   int
	onCall  func(n int)
}

func (p *fakeProber) Probe(ctx context.Context) (status.ServerStatus, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	hook := p.onCall
	var r probeResult
	if len(p.results) > 0 {
		i := n - 1
		if i >= len(p.results) {
			i = len(p.results) - 1
		}
		r = p.results[i]
	}
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return status.ServerStatus{}, err
	}
	if r.err != nil {
		return status.ServerStatus{}, r.err
	}
	return status.ServerStatus{PlayerCount: r.players, Online: true}, nil
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSession struct {
	clock      *fakeClock
	loginTook  time.Duration
	backupTook time.Duration
	loginErr   error
	backupErr  error
	onLogin    func(ctx context.Context) error

	mu         sync.Mutex
	closed     bool
	closeCalls int
	backups    []bool
}

func (s *fakeSession) ID() string { return "sess-1" }

func (s *fakeSession) Login(ctx context.Context) error {
	if s.onLogin != nil {
		return s.onLogin(ctx)
	}
	s.clock.advance(s.loginTook)
	return s.loginErr
}

func (s *fakeSession) PerformBackup(ctx context.Context, fake bool) error {
	s.mu.Lock()
	s.backups = append(s.backups, fake)
	s.mu.Unlock()
	s.clock.advance(s.backupTook)
	return s.backupErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Backups() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.backups...)
}

type fakeConnector struct {
	clock *fakeClock
	sess  *fakeSession
	took  time.Duration
	err   error

	mu    sync.Mutex
	calls int
}

func (c *fakeConnector) Connect(ctx context.Context) (automation.Session, time.Duration, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, 0, c.err
	}
	c.clock.advance(c.took)
	return c.sess, c.took, nil
}

func (c *fakeConnector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type harness struct {
	clock  *fakeClock
	prober *fakeProber
	sess   *fakeSession
	conn   *fakeConnector
	est    *timing.Estimator
	notes  *fakeNotifier
	bus    eventbus.Bus
	cfg    Config
}

func newHarness(doBackup bool, probes ...probeResult) *harness {
	clk := &fakeClock{now: t0}
	sess := &fakeSession{clock: clk, loginTook: 10 * time.Second, backupTook: 20 * time.Second}
	return &harness{
		clock:  clk,
		prober: &fakeProber{results: probes},
		sess:   sess,
		conn:   &fakeConnector{clock: clk, sess: sess, took: 3 * time.Second},
		est:    timing.New(0),
		notes:  &fakeNotifier{},
		bus:    eventbus.New(),
		cfg: Config{
			Policy: Policy{
				DoBackup:        doBackup,
				MultiplePlayers: 15 * time.Minute,
				SinglePlayer:    10 * time.Minute,
				NoPlayers:       300 * time.Second,
			},
			RoleID:  "99",
			Cadence: schedule.Every(6 * time.Hour),
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(h.cfg, Deps{
		Prober:    h.prober,
		Connector: h.conn,
		Estimator: h.est,
		Notifier:  h.notes,
		Clock:     h.clock,
		Bus:       h.bus,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	h := newHarness(true)
	if _, err := New(h.cfg, Deps{Connector: h.conn, Estimator: h.est, Notifier: h.notes}); err == nil {
		t.Fatalf("expected error without prober")
	}
	cfg := h.cfg
	cfg.Cadence = nil
	if _, err := New(cfg, Deps{Prober: h.prober, Connector: h.conn, Estimator: h.est, Notifier: h.notes}); err == nil {
		t.Fatalf("expected error without cadence")
	}
}

func TestRunCycleEmptyServerWithBackups(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 0})
	o := h.orchestrator(t)

	rep, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	scheduled := t0.Add(300 * time.Second)
	if !rep.Cycle.ScheduledAt.Equal(scheduled) {
		t.Fatalf("ScheduledAt=%s, want %s", rep.Cycle.ScheduledAt, scheduled)
	}
	// prepare = 120s login + 120s backup + 5s connect defaults.
	if rep.PrepareEstimate != 245*time.Second || rep.PrepareSleep != 55*time.Second {
		t.Fatalf("prepare=%s sleep=%s", rep.PrepareEstimate, rep.PrepareSleep)
	}
	// 55s prepare wait, then 3s connect and 10s login leave 232s.
	if got, want := h.clock.Sleeps(), []time.Duration{55 * time.Second, 232 * time.Second}; !equalDurations(got, want) {
		t.Fatalf("sleeps=%v, want %v", got, want)
	}
	if got := h.sess.Backups(); len(got) != 1 || got[0] {
		t.Fatalf("backups=%v, want one real backup", got)
	}
	if !h.sess.Closed() {
		t.Fatalf("session left open")
	}

	next := t0.Add(320 * time.Second).Add(6 * time.Hour)
	if !rep.NextAt.Equal(next) {
		t.Fatalf("NextAt=%s, want %s", rep.NextAt, next)
	}
	want := []string{
		AdvanceNotice("99", rep.Cycle),
		HalfTimeNotice(rep.Cycle, 0),
		SuccessNotice("99", next),
	}
	got := h.notes.Texts()
	if len(got) != len(want) {
		t.Fatalf("notices=%q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notice %d=%q, want %q", i, got[i], want[i])
		}
	}
	if !strings.Contains(got[0], "<t:1768046700:R>") {
		t.Fatalf("advance notice does not reference T0+300s: %q", got[0])
	}

	if rep.Outcome != OutcomeSuccess || rep.ID == "" || rep.SessionID != "sess-1" {
		t.Fatalf("report=%+v", rep)
	}
	if rep.LoginDuration != 10*time.Second || rep.BackupDuration != 20*time.Second || rep.ConnectDuration != 3*time.Second {
		t.Fatalf("durations login=%s backup=%s connect=%s", rep.LoginDuration, rep.BackupDuration, rep.ConnectDuration)
	}
	if got := h.est.Prepare(); got != 33*time.Second {
		t.Fatalf("estimator prepare after cycle=%s, want 33s", got)
	}
	if last, ok := o.LastReport(); !ok || last.ID != rep.ID {
		t.Fatalf("LastReport=%+v ok=%v", last, ok)
	}
}

func TestRunSleepsUntilNextCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.prober.onCall = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	o := h.orchestrator(t)

	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v, want context.Canceled", err)
	}
	want := []time.Duration{55 * time.Second, 232 * time.Second, 6 * time.Hour}
	if got := h.clock.Sleeps(); !equalDurations(got, want) {
		t.Fatalf("sleeps=%v, want %v", got, want)
	}
	if h.prober.Calls() != 3 {
		t.Fatalf("probe calls=%d, want 3", h.prober.Calls())
	}
	if o.State() != StateIdle {
		t.Fatalf("state after Run=%s", o.State())
	}
}

func TestEmptyServerWithoutBackupsSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(false, probeResult{players: 0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.prober.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	o := h.orchestrator(t)

	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v", err)
	}
	if n := len(h.notes.Texts()); n != 0 {
		t.Fatalf("sent %d notices, want none", n)
	}
	if h.conn.Calls() != 0 {
		t.Fatalf("connector used on a skipped cycle")
	}
	if got, want := h.clock.Sleeps(), []time.Duration{6 * time.Hour}; !equalDurations(got, want) {
		t.Fatalf("sleeps=%v, want %v", got, want)
	}
	last, ok := o.LastReport()
	if !ok {
		t.Fatalf("no report")
	}
	// The second cycle was aborted while probing.
	if last.Outcome != OutcomeAborted {
		t.Fatalf("last outcome=%s", last.Outcome)
	}
}

func TestRunCycleSkippedReport(t *testing.T) {
	t.Parallel()
	h := newHarness(false, probeResult{players: 0})
	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Outcome != OutcomeSkipped || rep.Cycle.Notify || !rep.NextAt.IsZero() {
		t.Fatalf("report=%+v", rep)
	}
}

func TestProbeFailuresAreRetriedSilently(t *testing.T) {
	t.Parallel()
	probeErr := &status.ProbeError{URL: "http://x", Code: 502, Err: status.ErrStatus}
	h := newHarness(true,
		probeResult{err: probeErr},
		probeResult{err: probeErr},
		probeResult{err: probeErr},
		probeResult{players: 3},
	)
	notesBefore := 0
	h.clock.onSleep = func(n int, d time.Duration) {
		if n <= 3 {
			notesBefore += len(h.notes.Texts())
		}
	}
	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.ProbeFailures != 3 {
		t.Fatalf("ProbeFailures=%d", rep.ProbeFailures)
	}
	sleeps := h.clock.Sleeps()
	for i := 0; i < 3; i++ {
		if sleeps[i] != DefaultProbeRetryDelay {
			t.Fatalf("retry sleep %d=%s", i, sleeps[i])
		}
	}
	if notesBefore != 0 {
		t.Fatalf("notices sent while probing")
	}
	if rep.Cycle.PlayerCount != 3 || rep.Cycle.Timer != 15*time.Minute {
		t.Fatalf("cycle=%+v", rep.Cycle)
	}
	if !rep.Cycle.ComputedAt.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("ComputedAt=%s", rep.Cycle.ComputedAt)
	}
	got := h.notes.Texts()
	if len(got) == 0 || got[0] != AdvanceNotice("99", rep.Cycle) {
		t.Fatalf("first notice=%q", got)
	}
}

func TestLoginFailureSendsOneFailureNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 1})
	h.sess.loginErr = &automation.StepError{Step: automation.StepLogin, Affordance: "#username", Err: automation.ErrAffordanceMissing}
	o := h.orchestrator(t)

	rep, err := o.RunCycle(context.Background())
	var se *automation.StepError
	if !errors.As(err, &se) || se.Step != automation.StepLogin {
		t.Fatalf("err=%v, want login StepError", err)
	}
	if !h.sess.Closed() {
		t.Fatalf("session not closed after login failure")
	}
	if len(h.sess.Backups()) != 0 {
		t.Fatalf("backup attempted after failed login")
	}
	failures := 0
	for _, s := range h.notes.Texts() {
		if strings.Contains(s, "Backup failed.") {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("failure notices=%d, want 1 (%q)", failures, h.notes.Texts())
	}
	if rep.Outcome != OutcomeFailed || rep.NextAt.IsZero() {
		t.Fatalf("report=%+v", rep)
	}
	if got := h.notes.Texts(); got[len(got)-1] != FailureNotice("99", rep.NextAt) {
		t.Fatalf("last notice=%q", got[len(got)-1])
	}
	if snap := h.est.Snapshot(); len(snap.Login) != 0 {
		t.Fatalf("failed login recorded: %v", snap.Login)
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 2})
	h.conn.err = &automation.ConnectError{Attempts: 5, Err: errors.New("connection refused")}

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	var ce *automation.ConnectError
	if !errors.As(err, &ce) || ce.Attempts != 5 {
		t.Fatalf("err=%v", err)
	}
	got := h.notes.Texts()
	if len(got) != 3 || got[2] != FailureNotice("99", rep.NextAt) {
		t.Fatalf("notices=%q", got)
	}
	if rep.Outcome != OutcomeFailed || rep.Error == "" {
		t.Fatalf("report=%+v", rep)
	}
	if snap := h.est.Snapshot(); snap.LastConnect != 0 {
		t.Fatalf("connect recorded on failure")
	}
}

func TestBackupFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 0})
	h.sess.backupErr = &automation.StepError{Step: automation.StepBackup, Affordance: "#make_backup", Err: automation.ErrAffordanceMissing}

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if !errors.Is(err, automation.ErrAffordanceMissing) {
		t.Fatalf("err=%v", err)
	}
	if !h.sess.Closed() {
		t.Fatalf("session not closed")
	}
	got := h.notes.Texts()
	if len(got) != 3 || got[2] != FailureNotice("99", rep.NextAt) {
		t.Fatalf("notices=%q", got)
	}
	snap := h.est.Snapshot()
	if len(snap.Login) != 1 || len(snap.Backup) != 0 {
		t.Fatalf("estimator login=%v backup=%v", snap.Login, snap.Backup)
	}
}

func TestDryRunCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(false, probeResult{players: 2})

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Outcome != OutcomeDryRun {
		t.Fatalf("outcome=%s", rep.Outcome)
	}
	if got := h.sess.Backups(); len(got) != 1 || !got[0] {
		t.Fatalf("backups=%v, want one fake", got)
	}
	got := h.notes.Texts()
	if len(got) != 2 {
		t.Fatalf("notices=%q, want advance and half-time only", got)
	}
	for _, s := range got {
		if !strings.HasSuffix(s, dryRunSuffix) {
			t.Fatalf("missing dry-run suffix: %q", s)
		}
	}
	if !h.sess.Closed() {
		t.Fatalf("session not closed")
	}
}

func TestHalfTimeNoticeUsesRefreshedCount(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 2}, probeResult{players: 5})
	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.RefreshedCount != 5 {
		t.Fatalf("RefreshedCount=%d", rep.RefreshedCount)
	}
	if got := h.notes.Texts()[1]; got != HalfTimeNotice(rep.Cycle, 5) {
		t.Fatalf("half-time=%q", got)
	}
}

func TestReprobeFailureKeepsPreviousCount(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 2}, probeResult{err: errors.New("boom")})
	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.RefreshedCount != 2 {
		t.Fatalf("RefreshedCount=%d", rep.RefreshedCount)
	}
	if got := h.notes.Texts()[1]; got != HalfTimeNotice(rep.Cycle, 2) {
		t.Fatalf("half-time=%q", got)
	}
	if rep.Outcome != OutcomeSuccess {
		t.Fatalf("outcome=%s", rep.Outcome)
	}
}

func TestCancelDuringPrepareWait(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int, d time.Duration) { cancel() }

	rep, err := h.orchestrator(t).RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if rep.Outcome != OutcomeAborted {
		t.Fatalf("outcome=%s", rep.Outcome)
	}
	if h.conn.Calls() != 0 {
		t.Fatalf("connected after cancel")
	}
	if got := h.notes.Texts(); len(got) != 1 {
		t.Fatalf("notices=%q, want only the advance notice", got)
	}
}

func TestCancelDuringLoginClosesWithoutFailureNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sess.onLogin = func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := h.orchestrator(t).RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if !h.sess.Closed() {
		t.Fatalf("session not closed on shutdown")
	}
	for _, s := range h.notes.Texts() {
		if strings.Contains(s, "Backup failed.") {
			t.Fatalf("failure announced on shutdown")
		}
	}
}

func TestOperationTimeoutFailsCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 1})
	h.cfg.OperationTimeout = 20 * time.Millisecond
	h.sess.onLogin = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if rep.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%s", rep.Outcome)
	}
	got := h.notes.Texts()
	if got[len(got)-1] != FailureNotice("99", rep.NextAt) {
		t.Fatalf("last notice=%q", got[len(got)-1])
	}
}

func TestStateEventsFollowCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(true, probeResult{players: 0})
	states, unsubState := h.bus.Subscribe(64, EventState)
	defer unsubState()
	cycles, unsubCycle := h.bus.Subscribe(4, EventCycle)
	defer unsubCycle()

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	want := []State{StateProbe, StateSchedule, StatePrepareWait, StateConnectLogin, StateFinalWait, StateBackup, StateRecord, StateNotifyDone}
	var got []State
	for len(got) < len(want) {
		select {
		case ev := <-states:
			se, ok := ev.Data.(StateEvent)
			if !ok {
				t.Fatalf("payload %T", ev.Data)
			}
			if se.CycleID != rep.ID {
				t.Fatalf("event cycle id=%q, want %q", se.CycleID, rep.ID)
			}
			got = append(got, se.State)
		default:
			t.Fatalf("states=%v, want %v", got, want)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states=%v, want %v", got, want)
		}
	}

	select {
	case ev := <-cycles:
		r, ok := ev.Data.(Report)
		if !ok || r.ID != rep.ID || r.Outcome != OutcomeSuccess {
			t.Fatalf("cycle event=%+v", ev.Data)
		}
	default:
		t.Fatalf("no cycle event")
	}
}

func TestStatusEventPerAttempt(t *testing.T) {
	t.Parallel()
	statusErr := &status.ProbeError{URL: "http://x", Code: 503, Err: status.ErrStatus}
	h := newHarness(true,
		probeResult{err: statusErr},
		probeResult{err: statusErr},
		probeResult{players: 4},
		probeResult{players: 1},
	)
	events, unsub := h.bus.Subscribe(16, EventProbe)
	defer unsub()

	rep, err := h.orchestrator(t).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	want := []ProbeEvent{
		{OK: false},
		{OK: false},
		{OK: true, Players: 4},
		{OK: true, Players: 1, Refresh: true},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			pe, ok := ev.Data.(ProbeEvent)
			if !ok {
				t.Fatalf("payload %T", ev.Data)
			}
			if pe.CycleID != rep.ID || pe.OK != w.OK || pe.Players != w.Players || pe.Refresh != w.Refresh {
				t.Fatalf("event %d=%+v, want %+v", i, pe, w)
			}
			if !w.OK && pe.Error == "" {
				t.Fatalf("event %d has no error text", i)
			}
		default:
			t.Fatalf("got %d status events, want %d", i, len(want))
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if StateFinalWait.String() != "FINAL_WAIT" || State(99).String() != "UNKNOWN" {
		t.Fatalf("unexpected names")
	}
}
