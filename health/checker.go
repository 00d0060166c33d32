// Package health implements the background health checker: a periodic
// worker that probes every registered instance over TCP and commits the
// outcome back to the registry.
//
// A probe round never holds the registry lock across network I/O: it takes
// a snapshot under the lock, probes lock-free, then commits each status
// with a brief reacquisition.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/observability"
	"github.com/kbukum/orchestra/registry"
)

// Wire contract: the checker writes probeRequest and the instance answers
// with exactly probeOK. Anything else, including silence, is unhealthy.
const (
	probeRequest = "HEALTH_CHECK"
	probeOK      = "OK"
)

// ProbeFunc checks one instance. A nil error marks the instance HEALTHY.
type ProbeFunc func(ctx context.Context, node registry.ServiceNode) error

// CheckerConfig configures the health checker.
type CheckerConfig struct {
	// Interval between probe rounds.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// ApplyDefaults applies default values: 5s rounds, 1s probes.
func (c *CheckerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = time.Second
	}
}

// CheckerOption customizes a Checker.
type CheckerOption func(*Checker)

// WithProbe replaces the TCP probe, mainly for tests.
func WithProbe(p ProbeFunc) CheckerOption {
	return func(c *Checker) { c.probe = p }
}

// Checker periodically probes every registered instance and updates its
// health in the registry. Probe outcomes never propagate to callers; the
// registry's health flags are the only output.
type Checker struct {
	registry *registry.Registry
	cfg      CheckerConfig
	probe    ProbeFunc
	log      *logger.Logger
	metrics  *observability.Instruments

	mu      sync.Mutex
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChecker creates a health checker over the given registry.
// metrics may be nil.
func NewChecker(reg *registry.Registry, cfg CheckerConfig, log *logger.Logger, metrics *observability.Instruments, opts ...CheckerOption) *Checker {
	cfg.ApplyDefaults()
	c := &Checker{
		registry: reg,
		cfg:      cfg,
		log:      log.WithComponent("health"),
		metrics:  metrics,
	}
	c.probe = c.tcpProbe
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements component.Component.
func (c *Checker) Name() string { return "health-checker" }

// Start launches the probe loop. The first round runs immediately.
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.loop(loopCtx)

	c.log.Info("health checker started", logger.Fields(
		"interval", c.cfg.Interval.String(),
		"probe_timeout", c.cfg.ProbeTimeout.String(),
	))
	return nil
}

// Stop cancels the loop and joins the worker before returning.
func (c *Checker) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.log.Info("health checker stopped")
	return nil
}

// Health implements component.Component.
func (c *Checker) Health(ctx context.Context) component.Health {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	status := component.StatusHealthy
	msg := ""
	if !running {
		status = component.StatusUnhealthy
		msg = "health checker not running"
	}
	return component.Health{Name: c.Name(), Status: status, Message: msg}
}

// CheckNow runs a single probe round synchronously. Used by tests and by
// callers that cannot wait for the next tick.
func (c *Checker) CheckNow(ctx context.Context) {
	c.checkAll(ctx)
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.checkAll(ctx)

	for {
		select {
		case <-ticker.C:
			c.checkAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// checkAll probes a snapshot of all registered instances and commits each
// outcome. The registry lock is only held for the snapshot and for each
// individual commit.
func (c *Checker) checkAll(ctx context.Context) {
	nodes := c.registry.Snapshot()

	for _, node := range nodes {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		err := c.probe(probeCtx, node)
		cancel()

		status := registry.Healthy
		if err != nil {
			status = registry.Unhealthy
		}

		c.metrics.RecordProbe(ctx, node.Service, err == nil, time.Since(start))

		// The node may have been deregistered mid-round; NOT_FOUND here
		// is expected and ignored.
		if setErr := c.registry.SetHealth(node.ID, status); setErr == nil && err != nil {
			c.log.Warn("instance unhealthy", logger.Fields(
				logger.FieldInstanceID, node.ID,
				logger.FieldService, node.Service,
				logger.FieldAddr, node.Addr(),
				logger.FieldError, err.Error(),
			))
		}
	}
}

// tcpProbe opens a TCP connection, sends the probe request, and requires the
// byte-exact OK response within the probe deadline.
func (c *Checker) tcpProbe(ctx context.Context, node registry.ServiceNode) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", node.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", node.Addr(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := conn.Write([]byte(probeRequest)); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}

	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if string(buf[:n]) != probeOK {
		return fmt.Errorf("unexpected response %q", buf[:n])
	}
	return nil
}
