package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/orchestra/balancer"
	"github.com/kbukum/orchestra/component"
	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/health"
	"github.com/kbukum/orchestra/logger"
	"github.com/kbukum/orchestra/queue"
	"github.com/kbukum/orchestra/registry"
	"github.com/kbukum/orchestra/testutil"
)

type capturingDeliverer struct {
	mu   sync.Mutex
	msgs []*queue.Message
	err  error
}

func (c *capturingDeliverer) Deliver(_ context.Context, _ registry.ServiceNode, msg *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturingDeliverer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestOrchestrator(t *testing.T, cfg Config, del queue.Deliverer, opts ...Option) *Orchestrator {
	t.Helper()
	if del == nil {
		del = &capturingDeliverer{}
	}
	// Long interval so only explicit CheckNow rounds touch instance health.
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = time.Hour
	}
	opts = append(opts, WithProbe(func(context.Context, registry.ServiceNode) error { return nil }))
	o, err := New(cfg, logger.Nop(), del, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRegisterAndDiscover(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)

	id, err := o.Register("payments", "10.0.0.1", 8080)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ep, err := o.Discover("payments")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if ep.ID != id || ep.Host != "10.0.0.1" || ep.Port != 8080 {
		t.Errorf("endpoint = %+v", ep)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)

	tests := []struct {
		name    string
		service string
		host    string
		port    int
	}{
		{"empty service", "", "10.0.0.1", 8080},
		{"empty host", "payments", "", 8080},
		{"zero port", "payments", "10.0.0.1", 0},
		{"port out of range", "payments", "10.0.0.1", 70000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Register(tc.service, tc.host, tc.port)
			if errors.CodeOf(err) != errors.ErrCodeInvalidRegistration {
				t.Errorf("error code = %v, want INVALID_REGISTRATION (err: %v)", errors.CodeOf(err), err)
			}
		})
	}
}

func TestDiscoverDistinguishesUnknownFromUnhealthy(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)

	if _, err := o.Discover("ghost"); !errors.IsNotFound(err) {
		t.Errorf("unknown service: got %v, want NOT_FOUND", err)
	}

	id, _ := o.Register("payments", "10.0.0.1", 8080)
	_ = o.registry.SetHealth(id, registry.Unhealthy)

	if _, err := o.Discover("payments"); !errors.IsNoHealthyInstance(err) {
		t.Errorf("all-unhealthy service: got %v, want NO_HEALTHY_INSTANCE", err)
	}
}

func TestDeregister(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)

	id, _ := o.Register("payments", "10.0.0.1", 8080)
	if err := o.Deregister(id); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if err := o.Deregister(id); !errors.IsNotFound(err) {
		t.Errorf("second Deregister: got %v, want NOT_FOUND", err)
	}
	if _, err := o.Discover("payments"); !errors.IsNotFound(err) {
		t.Errorf("Discover after last instance gone: got %v, want NOT_FOUND", err)
	}
}

func TestSendMessageIsDeliveredAsynchronously(t *testing.T) {
	del := &capturingDeliverer{}
	o := newTestOrchestrator(t, Config{}, del)
	testutil.StartComponent(t, o)

	_, _ = o.Register("payments", "10.0.0.1", 8080)

	id, err := o.SendMessage("orders", "payments", []byte(`{"amount":42}`))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id == "" {
		t.Fatal("SendMessage returned empty id")
	}

	waitFor(t, time.Second, func() bool { return del.count() == 1 })

	del.mu.Lock()
	defer del.mu.Unlock()
	if del.msgs[0].ID != id || del.msgs[0].From != "orders" {
		t.Errorf("delivered message = %+v", del.msgs[0])
	}
}

func TestSendMessageRequiresDestination(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)

	if _, err := o.SendMessage("orders", "", nil); errors.CodeOf(err) != errors.ErrCodeInvalidRegistration {
		t.Errorf("error = %v, want INVALID_REGISTRATION", err)
	}
}

func TestUndeliverableMessageIsDeadLettered(t *testing.T) {
	del := &capturingDeliverer{err: stderrors.New("connection refused")}
	o := newTestOrchestrator(t, Config{}, del)
	testutil.StartComponent(t, o)

	_, _ = o.Register("payments", "10.0.0.1", 8080)
	msgID, _ := o.SendMessage("orders", "payments", nil)

	waitFor(t, time.Second, func() bool { return o.DeadLetters().Len() == 1 })

	entry := o.DeadLetters().List()[0]
	if entry.Message.ID != msgID {
		t.Errorf("dead letter message id = %s, want %s", entry.Message.ID, msgID)
	}
	if entry.Reason == "" {
		t.Error("dead letter has no reason")
	}
}

func TestFailedProbeRedirectsDiscovery(t *testing.T) {
	sick := testutil.NewProbeServer(t)
	sick.SetReply("NOPE")
	well := testutil.NewProbeServer(t)

	cfg := Config{Health: health.CheckerConfig{Interval: time.Hour, ProbeTimeout: time.Second}}
	o, err := New(cfg, logger.Nop(), &capturingDeliverer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sickID, _ := o.Register("payments", sick.Host(), sick.Port())
	wellID, _ := o.Register("payments", well.Host(), well.Port())

	o.CheckNow(context.Background())

	if status, _ := o.HealthStatus(sickID); status != registry.Unhealthy {
		t.Errorf("sick instance health = %s", status)
	}

	// Discovery only ever lands on the healthy instance now.
	for i := 0; i < 5; i++ {
		ep, err := o.Discover("payments")
		if err != nil {
			t.Fatalf("Discover: %v", err)
		}
		if ep.ID != wellID {
			t.Fatalf("Discover returned unhealthy instance %s", ep.ID)
		}
	}
}

func TestIPHashStrategyNeedsKey(t *testing.T) {
	o := newTestOrchestrator(t, Config{Strategy: balancer.IPHash}, nil)
	_, _ = o.Register("payments", "10.0.0.1", 8080)
	_, _ = o.Register("payments", "10.0.0.2", 8080)

	if _, err := o.Discover("payments"); err == nil {
		t.Error("ip_hash Discover without key should fail")
	}

	first, err := o.Discover("payments", balancer.WithHashKey("client-7"))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for i := 0; i < 5; i++ {
		ep, _ := o.Discover("payments", balancer.WithHashKey("client-7"))
		if ep.ID != first.ID {
			t.Fatal("same key should map to the same instance")
		}
	}
}

func TestAcquireReleasesLoad(t *testing.T) {
	o := newTestOrchestrator(t, Config{Strategy: balancer.LeastConn}, nil)
	id, _ := o.Register("payments", "10.0.0.1", 8080)

	lease, err := o.Acquire("payments")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if load, _ := o.registry.LoadOf(id); load != 1 {
		t.Errorf("load after Acquire = %d, want 1", load)
	}

	lease.Release()
	lease.Release() // idempotent
	if load, _ := o.registry.LoadOf(id); load != 0 {
		t.Errorf("load after Release = %d, want 0", load)
	}
}

func TestLifecycleAndHealth(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, nil)
	ctx := context.Background()

	if h := o.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("health before Start = %s", h.Status)
	}

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if h := o.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("health after Start = %s (%s)", h.Status, h.Message)
	}

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if h := o.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("health after Stop = %s", h.Status)
	}
}

func TestStopDrainsPendingMessages(t *testing.T) {
	del := &capturingDeliverer{}
	o := newTestOrchestrator(t, Config{}, del)

	_, _ = o.Register("payments", "10.0.0.1", 8080)
	for i := 0; i < 20; i++ {
		if _, err := o.SendMessage("orders", "payments", nil); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := del.count(); got != 20 {
		t.Errorf("delivered %d of 20 messages before Stop returned", got)
	}

	if _, err := o.SendMessage("orders", "payments", nil); errors.CodeOf(err) != errors.ErrCodeQueueClosed {
		t.Errorf("SendMessage after Stop: got %v, want QUEUE_CLOSED", err)
	}
}
