package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"pushgate/internal/bridge"
	"pushgate/internal/config"
	"pushgate/internal/correlation"
	"pushgate/internal/diag"
	"pushgate/internal/eventbus"
	"pushgate/internal/notification"
	"pushgate/internal/observability/debugserver"
	"pushgate/internal/permission"
	"pushgate/internal/presenter"
	"pushgate/internal/runtime/supervisor"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	log     logx.Logger
	logs    *logx.Service

	bus        eventbus.Bus
	diag       *diag.Counters
	exporter   *diag.Exporter
	store      correlation.Store
	sweeper    *correlation.Sweeper
	gate       *permission.Gate
	presenters *presenter.Host
	sink       *scriptevents.BusSink
	tabs       *scriptevents.TabDirectory
	disp       *notification.Dispatcher

	bridge     *bridge.Server
	socket     string
	stopBridge context.CancelFunc

	debug *debugserver.Service

	sup *supervisor.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
	}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
			_ = logSvc.Close()
		}
	}()

	ec, exportOn, err := mapExportConfig(cfg)
	if err != nil {
		return nil, err
	}
	if exportOn {
		a.exporter, err = diag.StartExporter(context.Background(), ec, log.With(logx.String("comp", "diag")))
		if err != nil {
			return nil, err
		}
	}
	a.diag = diag.Global()

	cc, sweepSpec, err := mapCorrelationConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = correlation.Open(cc, log.With(logx.String("comp", "correlation")))
	if err != nil {
		return nil, err
	}
	a.sweeper, err = correlation.NewSweeper(a.store, sweepSpec, log.With(logx.String("comp", "correlation.sweeper")), func(n int) {
		a.diag.Add(context.Background(), diag.CorrelationExpired, int64(n))
	})
	if err != nil {
		return nil, fmt.Errorf("correlation.sweep: %w", err)
	}

	auth, err := a.buildAuthority(cfg.Permission)
	if err != nil {
		return nil, err
	}
	a.gate = permission.NewGate(auth, log.With(logx.String("comp", "permission")))

	p, err := openPresenter(cfg.Presenter, log.With(logx.String("comp", "presenter")))
	if err != nil {
		return nil, err
	}
	a.presenters = presenter.NewHost(p)

	a.sink = scriptevents.NewBusSink(a.bus)
	a.tabs = scriptevents.NewTabDirectory()
	a.disp = notification.New(notification.Options{
		Store:          a.store,
		Gate:           a.gate,
		Presenters:     a.presenters,
		Sink:           a.sink,
		Tabs:           a.tabs,
		Bus:            a.bus,
		Diag:           a.diag,
		Log:            log.With(logx.String("comp", "dispatcher")),
		QueueSize:      cfg.Dispatcher.QueueSize,
		IncludeContent: cfg.Events.IncludeContent,
	})

	if cfg.Bridge.Enabled {
		a.bridge = bridge.New(bridge.Deps{
			Service:     a.disp,
			Tabs:        a.tabs,
			Sink:        a.sink,
			Presenters:  a.presenters,
			Log:         log.With(logx.String("comp", "bridge")),
			EventBuffer: cfg.Events.Buffer,
		})
		a.socket = strings.TrimSpace(cfg.Bridge.Socket)
	}
	a.debug = debugserver.New(mapDebugConfig(cfg), a.stats, log.With(logx.String("comp", "debug")))
	return a, nil
}

// stats backs GET /debug/stats on the debug server.
func (a *App) stats(ctx context.Context) map[string]any {
	out := map[string]any{
		"presenter":        a.presenters.Get() != nil,
		"runtime_attached": a.sink.Available(),
		"gate_duplicates":  a.gate.Duplicates(),
		"bus_subscribers":  a.bus.Subscribers(),
		"supervisor":       a.sup.Counters(),
	}
	if n, err := a.store.Len(ctx); err != nil {
		out["correlation_error"] = err.Error()
	} else {
		out["correlation_entries"] = n
	}
	return out
}

func (a *App) buildAuthority(pc config.PermissionConfig) (permission.Authority, error) {
	return permission.FromConfig(pc, a.log.With(logx.String("comp", "permission")), func(origin string) {
		a.diag.Inc(context.Background(), diag.PermissionThrottled)
		a.log.Debug("permission request throttled", logx.String("origin", origin))
	})
}

// Service is the notification service embedders talk to.
func (a *App) Service() notification.Service { return a.disp }

// Bus carries dispatch.* and script.event events.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(Validate)

	a.disp.Start(a.sup.Context())
	a.sweeper.Start()

	if a.bridge != nil {
		bctx, cancel := context.WithCancel(a.sup.Context())
		a.stopBridge = cancel
		a.sup.Go("bridge", func(context.Context) error {
			return a.bridge.Serve(bctx, a.socket)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.debug.Start(a.sup.Context()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Bool("bridge", a.bridge != nil))
	return nil
}

// apply moves the running components from prev to next. Sections that are
// only read at startup are reported, not applied.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(next))
	}

	if slices.Contains(sections, "permission") {
		auth, err := a.buildAuthority(next.Permission)
		if err != nil {
			a.log.Warn("invalid permission config; keeping previous", logx.Err(err))
		} else {
			a.gate.SetAuthority(auth)
		}
	}

	if slices.Contains(sections, "presenter") {
		p, err := openPresenter(next.Presenter, a.log.With(logx.String("comp", "presenter")))
		if err != nil {
			a.log.Warn("presenter open failed; keeping previous", logx.String("driver", next.Presenter.Driver), logx.Err(err))
		} else if old := a.presenters.Swap(p); old != nil {
			if err := presenter.CloseQuietly(old); err != nil {
				a.log.Warn("previous presenter close failed", logx.Err(err))
			}
		}
	}

	if slices.Contains(sections, "debug") {
		if err := a.debug.Reconfigure(ctx, mapDebugConfig(next)); err != nil {
			a.log.Warn("debug server reconfigure failed", logx.Err(err))
		}
	}

	if slices.Contains(sections, "events") {
		a.disp.SetIncludeContent(next.Events.IncludeContent)
	}

	if r := config.RestartRequired(sections); len(r) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(r, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			if max <= 0 {
				max = time.Millisecond
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop intake first so queued work can drain while the rest is still up.
	step("bridge", time.Second, func(context.Context) error {
		if a.stopBridge != nil {
			a.stopBridge()
		}
		return nil
	})
	step("dispatcher", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	a.sup.Cancel()

	step("sweeper", time.Second, func(c context.Context) error { a.sweeper.Stop(c); return nil })
	step("supervisor", 4*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.closeResources(ctx)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases what newApp acquired. Each close is independent.
func (a *App) closeResources(ctx context.Context) {
	if a.presenters != nil {
		if err := a.presenters.Close(); err != nil {
			a.log.Warn("presenter close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("correlation store close failed", logx.Err(err))
		}
	}
	if a.exporter != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := a.exporter.Shutdown(sctx); err != nil {
			a.log.Warn("metrics exporter shutdown failed", logx.Err(err))
		}
		cancel()
	}
}
