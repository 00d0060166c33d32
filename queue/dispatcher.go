package queue

import (
	"context"
	"sync"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/observability"
	"github.com/kbukum/orchestra/registry"
	"github.com/kbukum/orchestra/resilience"
)

// Deliverer performs the actual message delivery to a concrete instance.
// The transport is the caller's business; the dispatcher only cares about
// success or failure.
type Deliverer interface {
	Deliver(ctx context.Context, node registry.ServiceNode, msg *Message) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, node registry.ServiceNode, msg *Message) error

// Deliver calls the wrapped function.
func (f DelivererFunc) Deliver(ctx context.Context, node registry.ServiceNode, msg *Message) error {
	return f(ctx, node, msg)
}

// DispatcherConfig configures the dispatcher worker.
type DispatcherConfig struct {
	// Retry bounds redelivery attempts per message. The default is a single
	// attempt, i.e. no retry.
	Retry resilience.RetryConfig
	// Breaker configures the per-destination circuit breakers. The breaker
	// name is derived from the destination service.
	Breaker resilience.CircuitBreakerConfig
	// DeadLetterLimit bounds the dead-letter buffer.
	DeadLetterLimit int
}

// DefaultDispatcherConfig returns the baseline configuration: no retry,
// breaker threshold 5 with a 30s cool-down, 100 dead letters.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Retry:           resilience.RetryConfig{MaxAttempts: 1},
		Breaker:         resilience.DefaultCircuitBreakerConfig("delivery"),
		DeadLetterLimit: 100,
	}
}

// Dispatcher drains the queue from a single worker goroutine: pop the head,
// resolve the destination through the balancer, deliver through the
// destination's circuit breaker, release the load slot. A delivery failure
// dead-letters the message and never stops the loop.
type Dispatcher struct {
	queue       *Queue
	balancer    *balancer.Balancer
	deliverer   Deliverer
	deadLetters *DeadLetter
	cfg         DispatcherConfig
	log         *logger.Logger
	metrics     *observability.Instruments

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher draining q into the given deliverer.
// metrics may be nil.
func NewDispatcher(q *Queue, b *balancer.Balancer, d Deliverer, cfg DispatcherConfig, log *logger.Logger, metrics *observability.Instruments) *Dispatcher {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Dispatcher{
		queue:       q,
		balancer:    b,
		deliverer:   d,
		deadLetters: NewDeadLetter(cfg.DeadLetterLimit),
		cfg:         cfg,
		log:         log.WithComponent("dispatcher"),
		metrics:     metrics,
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
}

// Name implements component.Component.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Start launches the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.loop(loopCtx)

	d.log.Info("dispatcher started")
	return nil
}

// Stop closes the queue, waits for the worker to drain and exit, then
// returns. After Stop the dispatcher cannot be restarted.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.queue.Close()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}

	d.log.Info("dispatcher stopped")
	return nil
}

// Health implements component.Component.
func (d *Dispatcher) Health(ctx context.Context) component.Health {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	status := component.StatusHealthy
	msg := ""
	if !running {
		status = component.StatusUnhealthy
		msg = "dispatcher not running"
	}
	return component.Health{Name: d.Name(), Status: status, Message: msg}
}

// DeadLetters returns the dead-letter buffer.
func (d *Dispatcher) DeadLetters() *DeadLetter {
	return d.deadLetters
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	for {
		msg, err := d.queue.Dequeue()
		if err != nil {
			// Queue closed and drained: we're done.
			return
		}
		d.dispatch(ctx, msg)
	}
}

// dispatch resolves and delivers one message. All failure paths land in the
// dead-letter buffer; none of them propagate.
func (d *Dispatcher) dispatch(ctx context.Context, msg *Message) {
	var opts []balancer.PickOption
	if d.balancer.Strategy() == balancer.IPHash {
		// The sender is the affinity key: all messages from one service
		// keep hitting the same destination instance.
		opts = append(opts, balancer.WithHashKey(msg.From))
	}

	lease, err := d.balancer.Acquire(msg.To, opts...)
	if err != nil {
		d.deadLetter(ctx, msg, err)
		return
	}
	defer lease.Release()

	breaker := d.breakerFor(msg.To)
	err = breaker.Execute(func() error {
		return resilience.RetryFunc(ctx, d.cfg.Retry, func() error {
			return d.deliverer.Deliver(ctx, lease.Node, msg)
		})
	})
	if err != nil {
		d.deadLetter(ctx, msg, errors.DeliveryFailed(msg.To, err))
		return
	}

	d.metrics.RecordDelivered(ctx, msg.To)
	d.log.Debug("message delivered", logger.Fields(
		logger.FieldMessageID, msg.ID,
		logger.FieldService, msg.To,
		logger.FieldInstanceID, lease.Node.ID,
	))
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg *Message, cause error) {
	d.deadLetters.Add(msg, cause.Error())
	d.metrics.RecordDeadLettered(ctx, msg.To)
	d.log.Warn("message dead-lettered", logger.Fields(
		logger.FieldMessageID, msg.ID,
		logger.FieldService, msg.To,
		logger.FieldError, cause.Error(),
	))
}

func (d *Dispatcher) breakerFor(service string) *resilience.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[service]; ok {
		return cb
	}

	cfg := d.cfg.Breaker
	cfg.Name = "delivery:" + service
	if cfg.OnStateChange == nil {
		log := d.log
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state change", logger.Fields(
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			))
		}
	}
	cb := resilience.NewCircuitBreaker(cfg)
	d.breakers[service] = cb
	return cb
}
