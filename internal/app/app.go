package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"gpbackup/internal/automation"
	"gpbackup/internal/automation/gportal"
	"gpbackup/internal/backup"
	"gpbackup/internal/config"
	"gpbackup/internal/eventbus"
	"gpbackup/internal/metrics"
	"gpbackup/internal/notifier"
	rtsup "gpbackup/internal/runtime/supervisor"
	"gpbackup/internal/status"
	"gpbackup/internal/timing"
	"gpbackup/internal/transport"
	"gpbackup/internal/transport/discord"
	"gpbackup/internal/transport/telegram"
	logx "gpbackup/pkg/logx"
)

type Options struct {
	ConfigPath string // optional JSON/YAML file
	EnvFile    string // optional dotenv file
	// LookupEnv replaces os.LookupEnv; used by tests.
	LookupEnv func(string) (string, bool)
}

type App struct {
	cfg  *config.Config
	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	notif   *notifier.Service
	est     *timing.Estimator
	orch    *backup.Orchestrator
	metrics *metrics.Collectors
	ops     *metrics.Server
	sd      *sdNotifier

	started time.Time
}

// New loads and validates the configuration and builds every component.
// Nothing runs until Start.
func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetEnvFile(opts.EnvFile)
	cfgm.SetLookupEnv(opts.LookupEnv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg))
	log := root.With(logx.String("comp", "app"))
	log.Info("configuration loaded", cfg.Summary()...)

	a, err := build(cfg, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.logs = logSvc
	return a, nil
}

func build(cfg *config.Config, root logx.Logger) (*App, error) {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }
	bus := eventbus.New()
	hc := &http.Client{}

	dc, err := discord.New(mapDiscord(cfg), hc)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	senders := []transport.Sender{dc}
	if tc, ok := mapTelegram(cfg); ok {
		tg, err := telegram.New(tc, hc)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		senders = append(senders, tg)
	}
	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, senders, comp("notifier"), bus)

	scfg, err := mapStatus(cfg)
	if err != nil {
		return nil, err
	}
	prober := status.NewClient(scfg, hc)

	gcfg, ccfg, err := mapSelenium(cfg)
	if err != nil {
		return nil, err
	}
	dialer := gportal.NewDialer(gcfg, comp("gportal"))
	conn := automation.NewConnector(ccfg, dialer, comp("connector"), bus)

	est := timing.New(cfg.Backup.HistorySize)

	ocfg, err := mapOrchestrator(cfg)
	if err != nil {
		return nil, err
	}
	orch, err := backup.New(ocfg, backup.Deps{
		Prober:    prober,
		Connector: conn,
		Estimator: est,
		Notifier:  notif,
		Log:       comp("backup"),
		Bus:       bus,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     comp("app"),
		bus:     bus,
		notif:   notif,
		est:     est,
		orch:    orch,
		metrics: metrics.NewCollectors(),
		sd:      newSDNotifier(comp("systemd")),
	}
	if cfg.Ops.Enabled {
		opsCfg, err := mapOps(cfg)
		if err != nil {
			return nil, err
		}
		a.ops = metrics.NewServer(opsCfg, a.metrics, a.Health, comp("ops"))
	}
	return a, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithRestartHook(a.metrics.RestartHook),
	)

	// Subscribers first so the first cycle's events are seen.
	a.sup.GoRestart("metrics.events", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	a.sup.GoRestart("systemd.status", func(c context.Context) error {
		return a.sd.RunStatus(c, a.bus)
	})
	if every := a.sd.WatchdogInterval(); every > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.RunWatchdog(c, every)
		})
	}

	a.notif.Start(a.sup.Context())
	if a.ops != nil {
		a.ops.Start(a.sup.Context())
	}

	// A panic inside a cycle restarts the loop from PROBE.
	a.sup.GoRestart("backup.loop", a.orch.Run,
		rtsup.WithRestartBackoff(5*time.Second, 5*time.Minute),
	)

	a.sd.Ready()
	a.log.Info("app started", logx.Int("pid", os.Getpid()), logx.Any("channels", a.notif.Channels()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancelling the supervisor unwinds the backup loop, which closes any
	// open WebDriver session on its way out.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("supervisor", 10*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if c.Err() != nil {
			return err
		}
		return nil
	})
	// After the loop so a failure notice raised while unwinding still goes out.
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error {
		if a.ops != nil {
			a.ops.Stop(c)
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
