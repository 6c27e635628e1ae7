package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reposter/internal/config"
	"reposter/internal/eventbus"
	"reposter/internal/publish"
	"reposter/internal/reposter"
	"reposter/internal/runtime/supervisor"
	"reposter/internal/storage"
	"reposter/internal/ticker"
	kit "reposter/internal/transport"
	telegram "reposter/internal/transport/telegram/adapter"
	"reposter/internal/transport/telegram/router"
	logx "reposter/pkg/logx"
)

// App owns every long-running component of the bot.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *reposter.Engine
	ticker  *ticker.Service
	router  *router.Router

	updates chan kit.Update
}

// New loads the config and builds the component graph. Nothing runs until Start.
// Config and storage failures are fatal here; getenv is usually os.Getenv.
func New(cfgPath string, getenv func(string) string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath, getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollEvery(),
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(logConfig(cfg), adminSink(ad), cfg.Telegram.AdminUserID)
	log = log.With(logx.String("comp", "app"))

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.DriverName(),
		Path:        cfg.Storage.JobsPath(),
		BusyTimeout: cfg.Storage.Busy(),
		Location:    loc,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.DriverName()), logx.String("path", cfg.Storage.JobsPath()))

	pub, err := publish.New(publish.Config{RatePerMinute: cfg.Publish.RatePerMin}, ad, log.With(logx.String("comp", "publish")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	start, end := cfg.Scheduler.Hours()
	eng, err := reposter.New(reposter.Config{
		HourStart:   start,
		HourEnd:     end,
		PostingDays: cfg.Scheduler.PostingDays,
		Destination: cfg.Telegram.TargetChannel,
		Location:    loc,
	}, store, pub,
		reposter.WithLogger(log.With(logx.String("comp", "reposter"))),
		reposter.WithBus(bus),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	tick, err := ticker.New(ticker.Config{
		Interval:     cfg.Scheduler.TickEvery(),
		InitialDelay: cfg.Scheduler.FirstTickAfter(),
		Timeout:      cfg.Scheduler.TickEvery() * 5,
		Location:     loc,
	}, eng.Tick, log.With(logx.String("comp", "ticker")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := router.New(log.With(logx.String("comp", "commands")), ad,
		[]int64{cfg.Telegram.AdminUserID},
		router.WithBotUsername(ad.Username()),
		// One administrator; a small pool keeps a slow /feature from blocking /listjobs.
		router.WithWorkers(2),
		router.WithQueue(32),
		router.WithDefaultTimeout(30*time.Second),
	)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		ticker:  tick,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}, nil
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// adminSink delivers forwarded log lines as private messages.
func adminSink(s kit.Sender) logx.Sender {
	return func(ctx context.Context, chatID int64, text string) error {
		_, err := s.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	}
}

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.router.SetCommands(c, router.JobCommands(a.engine))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.ticker.Start(c)

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
				a.log.Debug("event", logx.String("type", e.Type), logx.String("job", e.JobID), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("destination", a.engine.Config().Destination),
		logx.Int("reposts_per_job", a.engine.Config().Reposts()),
	)
	return nil
}

// applyConfig applies the live-reloadable part of a new config (logging).
// Other sections take effect on the next restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(logConfig(next))

	var restart []string
	for _, s := range sections {
		if s != "logging" {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("ticker", 3*time.Second, func(c context.Context) error { a.ticker.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	if c := a.sup.Counters(); c.Active > 0 {
		a.log.Warn("goroutines still running after stop", logx.Int64("active", c.Active), logx.Int64("started", int64(c.Started)))
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
