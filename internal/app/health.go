package app

import (
	"time"

	"gpbackup/internal/backup"
	"gpbackup/internal/notifier"
	rtsup "gpbackup/internal/runtime/supervisor"
	"gpbackup/internal/timing"
)

const healthHistory = 10

// Health is the /healthz document.
type Health struct {
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	State     string                    `json:"state"`
	LastCycle *backup.Report            `json:"last_cycle,omitempty"`
	Timing    timing.Snapshot           `json:"timing"`
	Channels  []string                  `json:"channels"`
	Notices   []notifier.HistoryItem    `json:"notices,omitempty"`
	Tasks     map[string]rtsup.Snapshot `json:"tasks"`
}

func (a *App) Health() any {
	h := Health{
		Status:   "ok",
		State:    a.orch.State().String(),
		Timing:   a.est.Snapshot(),
		Channels: a.notif.Channels(),
		Tasks:    map[string]rtsup.Snapshot{},
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	if r, ok := a.orch.LastReport(); ok {
		h.LastCycle = &r
		if r.Outcome == backup.OutcomeFailed {
			h.Status = "degraded"
		}
	}
	hist := a.notif.History()
	if len(hist) > healthHistory {
		hist = hist[len(hist)-healthHistory:]
	}
	h.Notices = hist
	if a.sup != nil {
		h.Tasks["app"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			h.Status = "failing"
		}
	}
	if sup := a.notif.Supervisor(); sup != nil {
		h.Tasks["notifier"] = sup.Snapshot()
	}
	if a.ops != nil {
		if sup := a.ops.Supervisor(); sup != nil {
			h.Tasks["ops"] = sup.Snapshot()
		}
	}
	return h
}
