// Package app wires config, logging, the chat adapter and the search handler
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"

	"bookbot/internal/bot"
	"bookbot/internal/config"
	"bookbot/internal/openlibrary"
	"bookbot/internal/runtime/supervisor"
	kit "bookbot/internal/transport"
	telegram "bookbot/internal/transport/telegram/adapter"
	logx "bookbot/pkg/logx"
)

const updateQueueSize = 256

// MenuCommands is published to the chat platform on start.
var MenuCommands = []kit.BotCommand{
	{Command: "start", Description: "How to use this bot"},
	{Command: "search", Description: "Search books: /search <title or author>"},
}

type App struct {
	cfgm *config.ConfigManager

	router *logx.Router
	root   logx.Logger
	log    logx.Logger

	lockPath string
	lock     *flock.Flock

	adapter kit.Adapter
	handler atomic.Pointer[bot.Handler]

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter    kit.Adapter
	routerOpts []logx.Option
}

// WithAdapter replaces the Telegram adapter (tests, other platforms).
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

// WithLogOptions passes extra options to the log router.
func WithLogOptions(opts ...logx.Option) Option {
	return func(o *options) { o.routerOpts = append(o.routerOpts, opts...) }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	router := logx.NewRouter(cfg.Logging.Logx(), o.routerOpts...)
	root := router.Configure()
	log := root.Named("app")

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
			APIURL:      cfg.Telegram.APIURL,
		}, root.Named("telegram"))
		if err != nil {
			_ = router.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	a := &App{
		cfgm:     cfgm,
		router:   router,
		root:     root,
		log:      log,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		adapter:  ad,
		updates:  make(chan kit.Update, updateQueueSize),
	}
	a.handler.Store(a.newHandler(cfg))
	return a, nil
}

func (a *App) newHandler(cfg *config.Config) *bot.Handler {
	opts := []openlibrary.Option{openlibrary.WithTimeout(cfg.Search.TimeoutOrDefault())}
	if u := strings.TrimSpace(cfg.Search.BaseURL); u != "" {
		opts = append(opts, openlibrary.WithBaseURL(u))
	}
	if cfg.Search.MaxResults > 0 {
		opts = append(opts, openlibrary.WithLimit(cfg.Search.MaxResults))
	}
	return bot.New(openlibrary.New(opts...), a.adapter, a.root.Named("bot"),
		bot.WithMaxResults(cfg.Search.MaxResults))
}

// Logger returns the root app logger.
func (a *App) Logger() logx.Logger { return a.log }

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
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance is running (lock %s is held)", a.lockPath)
	}

	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Named("config"))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		_ = a.lock.Unlock()
		return err
	}

	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, MenuCommands); err != nil {
				a.log.Warn("menu commands update failed", logx.Err(err))
			}
		})
	}

	a.sup.Go("updates.dispatch", a.dispatchLoop)
	a.sup.Go0("config.watch", func(c context.Context) {
		// Without a watcher the bot keeps running on the loaded config.
		if err := a.cfgm.Watch(c, a.applyConfig); err != nil {
			a.log.Warn("config hot reload disabled", logx.Err(err))
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started", logx.String("lock", a.lockPath))
	return nil
}

func (a *App) dispatchLoop(c context.Context) error {
	for {
		select {
		case <-c.Done():
			return nil
		case up := <-a.updates:
			a.handler.Load().Handle(c, up)
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	for _, s := range sections {
		if s == "search" {
			a.handler.Store(a.newHandler(newCfg))
			break
		}
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.router.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd stopping notification failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "lock", time.Second, func(context.Context) error { return a.lock.Unlock() })

	a.log.Info("stopped")
	return a.router.Close()
}

// step runs fn with at most max of the caller's remaining time and logs
// instead of failing so later steps still run.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	began := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			return
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(began)))
	case <-stepCtx.Done():
		a.log.Warn("stop step timed out", logx.String("step", name), logx.Duration("after", time.Since(began)))
	}
}
