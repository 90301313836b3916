// Package metrics turns bus events into Prometheus series and serves them,
// together with a health document and optional pprof, on a small ops server.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpbackup/internal/automation"
	"gpbackup/internal/backup"
	"gpbackup/internal/eventbus"
	"gpbackup/internal/notifier"
)

const namespace = "gpbackup"

var durationBuckets = []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300}

// Collectors owns a private registry; nothing is registered globally.
type Collectors struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	probeFailures   prometheus.Counter
	connectAttempts *prometheus.CounterVec
	players         prometheus.Gauge
	connectSeconds  prometheus.Histogram
	loginSeconds    prometheus.Histogram
	backupSeconds   prometheus.Histogram
	prepareSeconds  prometheus.Gauge
	nextBackup      prometheus.Gauge
	state           *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	restarts        *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	c := &Collectors{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Finished backup cycles by outcome.",
		}, []string{"outcome"}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "probe_failures_total",
			Help: "Failed server status probes.",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_attempts_total",
			Help: "WebDriver session attempts by result.",
		}, []string{"result"}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "players",
			Help: "Player count seen by the last successful probe.",
		}),
		connectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "connect_duration_seconds",
			Help: "Time to open a WebDriver session.", Buckets: durationBuckets,
		}),
		loginSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "login_duration_seconds",
			Help: "Time to log in to the panel.", Buckets: durationBuckets,
		}),
		backupSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "backup_duration_seconds",
			Help: "Time to run the backup flow.", Buckets: durationBuckets,
		}),
		prepareSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "prepare_estimate_seconds",
			Help: "Lead time used for the last cycle.",
		}),
		nextBackup: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "next_backup_timestamp_seconds",
			Help: "Unix time of the next planned cycle.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "1 for the current orchestrator state.",
		}, []string{"state"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification outcomes by channel.",
		}, []string{"channel", "result"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_restarts_total",
			Help: "Supervised task restarts.",
		}, []string{"task"}),
	}
	c.reg.MustRegister(
		c.cycles, c.probeFailures, c.connectAttempts, c.players,
		c.connectSeconds, c.loginSeconds, c.backupSeconds,
		c.prepareSeconds, c.nextBackup, c.state, c.notifications, c.restarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.setState(backup.StateIdle)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run feeds bus events into the collectors until ctx is done.
func (c *Collectors) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies a single event. Unknown types are ignored.
func (c *Collectors) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case backup.StateEvent:
		c.setState(d.State)
	case backup.ProbeEvent:
		if d.OK {
			c.players.Set(float64(d.Players))
		} else {
			c.probeFailures.Inc()
		}
	case backup.Report:
		c.observeReport(d)
	case automation.AttemptEvent:
		if d.OK {
			c.connectAttempts.WithLabelValues("ok").Inc()
		} else {
			c.connectAttempts.WithLabelValues("error").Inc()
		}
	case notifier.NotificationEvent:
		var result string
		switch ev.Type {
		case notifier.EventSent:
			result = "sent"
		case notifier.EventFailed:
			result = "failed"
		case notifier.EventDropped:
			result = "dropped"
		default:
			return
		}
		c.notifications.WithLabelValues(d.Channel, result).Inc()
	}
}

func (c *Collectors) observeReport(r backup.Report) {
	if r.Outcome != "" {
		c.cycles.WithLabelValues(string(r.Outcome)).Inc()
	}
	if r.PrepareEstimate > 0 {
		c.prepareSeconds.Set(r.PrepareEstimate.Seconds())
	}
	if r.ConnectDuration > 0 {
		c.connectSeconds.Observe(r.ConnectDuration.Seconds())
	}
	if r.LoginDuration > 0 {
		c.loginSeconds.Observe(r.LoginDuration.Seconds())
	}
	if r.BackupDuration > 0 {
		c.backupSeconds.Observe(r.BackupDuration.Seconds())
	}
	if !r.NextAt.IsZero() {
		c.nextBackup.Set(float64(r.NextAt.Unix()))
	}
}

func (c *Collectors) setState(s backup.State) {
	for st := backup.StateIdle; st <= backup.StateCooldown; st++ {
		v := 0.0
		if st == s {
			v = 1
		}
		c.state.WithLabelValues(st.String()).Set(v)
	}
}

// RestartHook counts supervisor restarts; pass it to supervisor.WithRestartHook.
func (c *Collectors) RestartHook(name string, _ error) {
	c.restarts.WithLabelValues(name).Inc()
}
