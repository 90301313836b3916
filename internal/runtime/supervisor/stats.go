package supervisor

import (
	"fmt"
	"sort"
	"time"
)

type taskStats struct {
	active    int
	starts    int
	restarts  int
	panics    int
	lastStart time.Time
	lastStop  time.Time
	lastErr   string
	lastPanic string
}

// TaskSnapshot describes one named goroutine (aggregated by name).
type TaskSnapshot struct {
	Name      string    `json:"name"`
	Active    int       `json:"active"`
	Starts    int       `json:"starts"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastStop  time.Time `json:"last_stop,omitempty"`
	LastErr   string    `json:"last_err,omitempty"`
	LastPanic string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	FirstError string         `json:"first_error,omitempty"`
	Tasks      []TaskSnapshot `json:"tasks"`
}

// Snapshot is for health output, not synchronization.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Tasks: make([]TaskSnapshot, 0, len(s.tasks))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for name, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			Name:      name,
			Active:    t.active,
			Starts:    t.starts,
			Restarts:  t.restarts,
			Panics:    t.panics,
			LastStart: t.lastStart,
			LastStop:  t.lastStop,
			LastErr:   t.lastErr,
			LastPanic: t.lastPanic,
		})
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

func (s *Supervisor) task(name string) *taskStats {
	t := s.tasks[name]
	if t == nil {
		t = &taskStats{}
		s.tasks[name] = t
	}
	return t
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	t := s.task(name)
	t.active++
	t.starts++
	if restart {
		t.restarts++
	}
	t.lastStart = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, _ time.Time, err error) {
	s.mu.Lock()
	t := s.task(name)
	if t.active > 0 {
		t.active--
	}
	t.lastStop = time.Now()
	if err != nil {
		t.lastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *Supervisor) notePanic(name string, p any) {
	s.mu.Lock()
	t := s.task(name)
	t.panics++
	t.lastPanic = fmt.Sprint(p)
	s.mu.Unlock()
}
