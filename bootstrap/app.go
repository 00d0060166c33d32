// Package bootstrap assembles a runnable orchestrator process from a loaded
// configuration: logger, orchestrator, optional admin server, uniform
// start/stop ordering, and signal-driven shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/config"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/orchestrator"
	"github.com/kbukum/orchestra/queue"
	"github.com/kbukum/orchestra/server"
)

// Option customizes an App.
type Option func(*options)

type options struct {
	log             *logger.Logger
	gracefulTimeout time.Duration
	orchOpts        []orchestrator.Option
	extra           []component.Component
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithGracefulTimeout bounds the shutdown phase. The default is 15 seconds.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.gracefulTimeout = d }
}

// WithOrchestratorOptions forwards options to the orchestrator constructor.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.orchOpts = append(o.orchOpts, opts...) }
}

// WithComponent appends an extra component to the lifecycle, started after
// the built-in ones and stopped before them.
func WithComponent(c component.Component) Option {
	return func(o *options) { o.extra = append(o.extra, c) }
}

// App is a fully wired orchestrator process.
type App struct {
	Cfg          *config.Config
	Log          *logger.Logger
	Orchestrator *orchestrator.Orchestrator

	components      []component.Component
	gracefulTimeout time.Duration
}

// NewApp validates the configuration and wires the process together. The
// admin server is only attached when cfg.Server.Enabled is set.
func NewApp(cfg *config.Config, deliverer queue.Deliverer, opts ...Option) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := options{gracefulTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		log = logger.New(&cfg.Logging, cfg.Base.Name)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Strategy: balancer.Strategy(cfg.Balancer.Strategy),
		Health:   cfg.Health,
		Dispatch: cfg.Dispatch.DispatcherConfig(),
	}, log, deliverer, o.orchOpts...)
	if err != nil {
		return nil, err
	}

	components := []component.Component{orch}
	if cfg.Server.Enabled {
		components = append(components, server.New(cfg.Server, orch, log))
	}
	components = append(components, o.extra...)

	return &App{
		Cfg:             cfg,
		Log:             log,
		Orchestrator:    orch,
		components:      components,
		gracefulTimeout: o.gracefulTimeout,
	}, nil
}

// Start brings the components up in registration order. If one fails,
// everything already started is stopped again in reverse order.
func (a *App) Start(ctx context.Context) error {
	for i, c := range a.components {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = a.components[j].Stop(ctx)
			}
			return fmt.Errorf("starting %s: %w", c.Name(), err)
		}
		a.Log.Info("component started", logger.Fields(logger.FieldComponent, c.Name()))
	}
	return nil
}

// Stop shuts the components down in reverse order within the graceful
// timeout. All stops are attempted; the first error is returned.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var firstErr error
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			a.Log.Error("component stop failed", logger.Fields(
				logger.FieldComponent, c.Name(),
				logger.FieldError, err.Error(),
			))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Health reports the health of every managed component.
func (a *App) Health(ctx context.Context) []component.Health {
	out := make([]component.Health, 0, len(a.components))
	for _, c := range a.components {
		out = append(out, c.Health(ctx))
	}
	return out
}

// Run starts the app, blocks until SIGINT/SIGTERM or context cancellation,
// then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.Log.Info("application ready")
	a.waitForSignal(ctx)

	return a.Stop()
}

func (a *App) waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Log.Info("shutdown signal received", logger.Fields("signal", sig.String()))
	case <-ctx.Done():
		a.Log.Info("context canceled, shutting down")
	}
}
