package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tagbot/internal/campaign"
	"tagbot/internal/clock"
	"tagbot/internal/config"
	"tagbot/internal/directory"
	"tagbot/internal/eventbus"
	"tagbot/internal/metrics"
	rtsup "tagbot/internal/runtime/supervisor"
	"tagbot/internal/storage"
	kit "tagbot/internal/transport"
	telegram "tagbot/internal/transport/telegram/adapter"
	"tagbot/internal/transport/telegram/router"
	logx "tagbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	// runs owns campaign dispatchers. A failing session never cancels the app.
	runs *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	dir       *directory.Service
	refresher *directory.Refresher
	campaigns *campaign.Service
	collect   *metrics.Collectors
	metrics   *metrics.Server

	cmdm *router.CommandManager

	updates chan kit.Update
}

// spawnFunc adapts a function to campaign.Spawner.
type spawnFunc func(name string, fn func(ctx context.Context) error)

func (f spawnFunc) Go(name string, fn func(ctx context.Context) error) { f(name, fn) }

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := cfg.Telegram.PollTimeoutOrDefault()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled so Apply doesn't warn before
	// the target is known.
	logCfg := mapLoggingConfig(cfg)
	baseLogCfg := logCfg
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	if chatID, err := cfg.Telegram.GroupLogChatID(); err == nil && chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		store = storage.NewMemory()
		log.Warn("storage disabled; member directory is kept in memory only")
	}

	settings, err := mapCampaignSettings(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	a.dir = directory.New(directory.Options{
		Store:             store,
		Admins:            ad,
		Clock:             clock.Real(),
		Bus:               bus,
		Log:               log,
		Observe:           cfg.Directory.ObserveEnabled(),
		ObserveRatePerSec: cfg.Directory.ObserveRate(),
	})
	a.refresher = directory.NewRefresher(a.dir, cfg.Directory.RefreshSchedule, log)

	a.campaigns = campaign.NewService(campaign.Options{
		Messenger: ad,
		Roles:     ad,
		Directory: a.dir,
		Audit:     storeOrNil(store, enabled),
		Spawner: spawnFunc(func(name string, fn func(ctx context.Context) error) {
			a.runs.Go(name, fn)
		}),
		Clock:    clock.Real(),
		Bus:      bus,
		Log:      log,
		Settings: settings,
		Owners:   cfg.Telegram.OwnerUserIDs,
	})

	a.collect = metrics.NewCollectors()
	if err := a.collect.WatchDirectory(a.dir); err != nil {
		return nil, err
	}
	a.metrics = metrics.NewServer(mapMetricsConfig(cfg), a.collect.Registry(), log)

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.WorkersOrDefault())
	return a, nil
}

func storeOrNil(st storage.Store, persistent bool) storage.Store {
	if !persistent {
		return nil
	}
	return st
}

// validateRuntime checks what config.Validate cannot: the refresh schedule
// and the metrics bind policy.
func validateRuntime(cfg *config.Config) error {
	if err := directory.NewRefresher(nil, cfg.Directory.RefreshSchedule, logx.Nop()).Validate(); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.CheckBind(mapMetricsConfig(cfg)); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}

// CheckConfig loads and validates a config file without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.runs = rtsup.New(a.sup.Context(),
		rtsup.WithLogger(a.log.With(logx.String("comp", "campaign.runs"))),
		rtsup.WithStatsKey(func(string) string { return "campaign.dispatch" }),
	)
	for label, s := range map[string]*rtsup.Supervisor{"core": a.sup, "campaigns": a.runs} {
		if err := a.collect.WatchSupervisor(label, s); err != nil {
			a.log.Warn("goroutine metrics not registered", logx.String("supervisor", label), logx.Err(err))
		}
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.cmdm.SetObserver(a.dir.Observe)
	a.cmdm.Use(router.MWObserve(a.collect.ObserveCommand))
	a.cmdm.SetRegistry(a.commands(), a.sup.Go)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.sup.Go("campaign.reaper", a.campaigns.Reaper().Run)
	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.collect.Consume(c, a.bus)
	})
	a.sup.Go("directory.refresh", a.refresher.Run)
	a.metrics.Start(a.sup.Context())

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
				// Batches are frequent; keep this at debug.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

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
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into every live component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RestartRequired(oldCfg, newCfg) {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	if chatID, err := newCfg.Telegram.GroupLogChatID(); err == nil {
		a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
	}
	a.logs.Apply(mapLoggingConfig(newCfg))

	if st, err := mapCampaignSettings(newCfg); err != nil {
		a.log.Warn("invalid campaign config; keeping previous", logx.Err(err))
	} else {
		a.campaigns.Apply(st, newCfg.Telegram.OwnerUserIDs)
	}
	a.dir.Apply(newCfg.Directory.ObserveEnabled(), newCfg.Directory.ObserveRate())
	a.metrics.Reconfigure(ctx, mapMetricsConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Sessions first, so no dispatcher sends after the adapter is gone.
	if n := a.campaigns.Shutdown(); n > 0 {
		a.log.Info("campaigns cancelled", logx.Int("sessions", n))
	}
	a.sup.Cancel()

	// step bounds a shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("campaigns", 3*time.Second, func(c context.Context) error { return a.runs.Stop(c) })
	step("metrics", 1*time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	// After the supervisor: audit writes from late handlers still land.
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
