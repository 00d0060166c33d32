// Package orchestrator composes the registry, load balancer, health checker,
// message queue, and dispatcher into one coordinated unit with a single
// lifecycle. One Orchestrator instance owns all of its parts; nothing here is
// global.
package orchestrator

import (
	"context"
	"sync"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/health"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/observability"
	"github.com/kbukum/orchestra/queue"
	"github.com/kbukum/orchestra/registry"
	"github.com/kbukum/orchestra/validation"
)

// Config configures an Orchestrator.
type Config struct {
	// Strategy selects the load balancing algorithm. Empty means round robin.
	Strategy balancer.Strategy
	// Health configures the background health checker.
	Health health.CheckerConfig
	// Dispatch configures the message dispatcher.
	Dispatch queue.DispatcherConfig
}

// Option customizes an Orchestrator.
type Option func(*options)

type options struct {
	metrics     *observability.Instruments
	checkerOpts []health.CheckerOption
}

// WithInstruments attaches metric instruments to the health checker and
// dispatcher.
func WithInstruments(m *observability.Instruments) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbe replaces the health checker's TCP probe, mainly for tests.
func WithProbe(p health.ProbeFunc) Option {
	return func(o *options) { o.checkerOpts = append(o.checkerOpts, health.WithProbe(p)) }
}

// Endpoint is the discovery result handed to callers: where one healthy
// instance of a service can be reached.
type Endpoint struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Orchestrator is the composition root. It owns the registry, the balancer
// bound to it, the message queue, and the two background workers draining
// probes and messages.
type Orchestrator struct {
	registry   *registry.Registry
	balancer   *balancer.Balancer
	queue      *queue.Queue
	checker    *health.Checker
	dispatcher *queue.Dispatcher
	log        *logger.Logger

	mu      sync.Mutex
	running bool
}

// New creates an Orchestrator delivering messages through the given
// deliverer.
func New(cfg Config, log *logger.Logger, deliverer queue.Deliverer, opts ...Option) (*Orchestrator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = balancer.RoundRobin
	}

	reg := registry.New()
	bal, err := balancer.New(reg, strategy)
	if err != nil {
		return nil, err
	}

	q := queue.NewQueue()
	return &Orchestrator{
		registry:   reg,
		balancer:   bal,
		queue:      q,
		checker:    health.NewChecker(reg, cfg.Health, log, o.metrics, o.checkerOpts...),
		dispatcher: queue.NewDispatcher(q, bal, deliverer, cfg.Dispatch, log, o.metrics),
		log:        log.WithComponent("orchestrator"),
	}, nil
}

// registration is the validated shape of a Register call.
type registration struct {
	Service string `json:"service" validate:"required"`
	Host    string `json:"host" validate:"required,hostname|ip"`
	Port    int    `json:"port" validate:"required,min=1,max=65535"`
}

// Register validates and adds a new service instance, returning its id. The
// instance starts HEALTHY; the next probe round confirms or corrects that.
func (o *Orchestrator) Register(service, host string, port int, opts ...registry.RegisterOption) (string, error) {
	in := registration{Service: service, Host: host, Port: port}
	if err := validation.Validate(in); err != nil {
		return "", err
	}

	id := o.registry.Register(service, host, port, opts...)
	o.log.Info("instance registered", logger.Fields(
		logger.FieldService, service,
		logger.FieldInstanceID, id,
		logger.FieldAddr, host,
	))
	return id, nil
}

// Deregister removes an instance. Unknown ids yield NOT_FOUND.
func (o *Orchestrator) Deregister(id string) error {
	if err := o.registry.Deregister(id); err != nil {
		return err
	}
	o.log.Info("instance deregistered", logger.Fields(logger.FieldInstanceID, id))
	return nil
}

// Discover selects one healthy instance of the named service without taking
// a load slot. An unknown service yields NOT_FOUND; a known service with no
// healthy instance yields NO_HEALTHY_INSTANCE.
func (o *Orchestrator) Discover(service string, opts ...balancer.PickOption) (Endpoint, error) {
	node, err := o.balancer.Pick(service, opts...)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{ID: node.ID, Host: node.Host, Port: node.Port}, nil
}

// Acquire selects a healthy instance and takes a load slot on it. The caller
// must release the returned lease when done with the instance.
func (o *Orchestrator) Acquire(service string, opts ...balancer.PickOption) (*balancer.Lease, error) {
	return o.balancer.Acquire(service, opts...)
}

// SendMessage queues a message for asynchronous delivery and returns its id.
// Acceptance is not a delivery confirmation; failed deliveries surface in
// DeadLetters.
func (o *Orchestrator) SendMessage(from, to string, payload []byte, opts ...queue.MessageOption) (string, error) {
	if to == "" {
		return "", errors.InvalidRegistration("to", "destination service is required")
	}

	msg := queue.NewMessage(from, to, payload, opts...)
	if err := o.queue.Enqueue(msg); err != nil {
		return "", err
	}

	o.log.Debug("message accepted", logger.Fields(
		logger.FieldMessageID, msg.ID,
		logger.FieldService, to,
	))
	return msg.ID, nil
}

// HealthStatus returns the last-known health of an instance.
func (o *Orchestrator) HealthStatus(id string) (registry.Health, error) {
	return o.registry.HealthOf(id)
}

// Services returns the names of all registered services.
func (o *Orchestrator) Services() []string {
	return o.registry.Services()
}

// Instances returns a point-in-time view of the named service's instances.
func (o *Orchestrator) Instances(service string, healthyOnly bool) ([]registry.ServiceNode, error) {
	return o.registry.Instances(service, healthyOnly)
}

// DeadLetters returns the dispatcher's dead-letter buffer.
func (o *Orchestrator) DeadLetters() *queue.DeadLetter {
	return o.dispatcher.DeadLetters()
}

// CheckNow runs one synchronous health probe round outside the normal
// schedule.
func (o *Orchestrator) CheckNow(ctx context.Context) {
	o.checker.CheckNow(ctx)
}

// Name implements component.Component.
func (o *Orchestrator) Name() string { return "orchestrator" }

// Start launches the health checker and dispatcher. If either fails to
// start, anything already started is stopped again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	if err := o.checker.Start(ctx); err != nil {
		return err
	}
	if err := o.dispatcher.Start(ctx); err != nil {
		_ = o.checker.Stop(ctx)
		return err
	}

	o.running = true
	o.log.Info("orchestrator started")
	return nil
}

// Stop shuts the workers down: the dispatcher first, which closes the queue
// and drains it, then the health checker. Both are joined before Stop
// returns.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	dispErr := o.dispatcher.Stop(ctx)
	checkErr := o.checker.Stop(ctx)
	if dispErr != nil {
		return dispErr
	}
	if checkErr != nil {
		return checkErr
	}

	o.log.Info("orchestrator stopped")
	return nil
}

// Health implements component.Component: healthy when both workers run,
// degraded when one does, unhealthy otherwise.
func (o *Orchestrator) Health(ctx context.Context) component.Health {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	if !running {
		return component.Health{Name: o.Name(), Status: component.StatusUnhealthy, Message: "orchestrator not running"}
	}

	healthy := 0
	var message string
	for _, c := range []component.Component{o.checker, o.dispatcher} {
		h := c.Health(ctx)
		if h.Status == component.StatusHealthy {
			healthy++
		} else if message == "" {
			message = h.Name + ": " + h.Message
		}
	}

	switch healthy {
	case 2:
		return component.Health{Name: o.Name(), Status: component.StatusHealthy}
	case 1:
		return component.Health{Name: o.Name(), Status: component.StatusDegraded, Message: message}
	default:
		return component.Health{Name: o.Name(), Status: component.StatusUnhealthy, Message: message}
	}
}
