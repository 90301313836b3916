// Package timing keeps a short history of how long the remote panel takes to
// log in and to run a backup, and turns it into a lead-time estimate.
package timing

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 20
	DefaultLogin    = 120 * time.Second
	DefaultBackup   = 120 * time.Second
	DefaultConnect  = 5 * time.Second
)

// Snapshot is a copy of the estimator state. Slices are oldest first.
type Snapshot struct {
	Login       []time.Duration `json:"login"`
	Backup      []time.Duration `json:"backup"`
	LastConnect time.Duration   `json:"last_connect"`
	MeanLogin   time.Duration   `json:"mean_login"`
	MeanBackup  time.Duration   `json:"mean_backup"`
	Prepare     time.Duration   `json:"prepare"`
}

// Estimator is safe for concurrent use.
type Estimator struct {
	mu          sync.Mutex
	login       ring
	backup      ring
	lastConnect time.Duration
}

// New returns an estimator keeping the most recent capacity samples per kind.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Estimator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Estimator{login: newRing(capacity), backup: newRing(capacity)}
}

func (e *Estimator) RecordLogin(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	e.login.push(d)
	e.mu.Unlock()
}

func (e *Estimator) RecordBackup(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	e.backup.push(d)
	e.mu.Unlock()
}

// RecordConnect remembers the duration of the last successful connect.
func (e *Estimator) RecordConnect(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	e.lastConnect = d
	e.mu.Unlock()
}

// Estimate is mean(login) + mean(backup) + connect, with the defaults standing
// in for an empty history.
func (e *Estimator) Estimate(connect time.Duration) time.Duration {
	if connect < 0 {
		connect = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.login.mean(DefaultLogin) + e.backup.mean(DefaultBackup) + connect
}

// Prepare estimates with the last observed connect duration (DefaultConnect
// before the first one).
func (e *Estimator) Prepare() time.Duration {
	e.mu.Lock()
	c := e.lastConnect
	e.mu.Unlock()
	if c <= 0 {
		c = DefaultConnect
	}
	return e.Estimate(c)
}

func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{
		Login:       e.login.values(),
		Backup:      e.backup.values(),
		LastConnect: e.lastConnect,
		MeanLogin:   e.login.mean(DefaultLogin),
		MeanBackup:  e.backup.mean(DefaultBackup),
	}
	e.mu.Unlock()
	s.Prepare = e.Prepare()
	return s
}

// ring is a fixed-capacity FIFO of durations.
type ring struct {
	buf  []time.Duration
	next int
	full bool
}

func newRing(n int) ring { return ring{buf: make([]time.Duration, n)} }

func (r *ring) push(d time.Duration) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) values() []time.Duration {
	n := r.len()
	out := make([]time.Duration, 0, n)
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	return append(out, r.buf[:r.next]...)
}

func (r *ring) mean(def time.Duration) time.Duration {
	n := r.len()
	if n == 0 {
		return def
	}
	var sum time.Duration
	for _, d := range r.buf[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}
