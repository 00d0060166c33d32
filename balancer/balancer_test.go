package balancer

import (
	"testing"

	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/registry"
)

func newPool(t *testing.T, service string, hosts ...string) (*registry.Registry, []string) {
	t.Helper()
	reg := registry.New()
	ids := make([]string, 0, len(hosts))
	for _, host := range hosts {
		ids = append(ids, reg.Register(service, host, 8080))
	}
	return reg, ids
}

func TestNew_RejectsUnknownStrategy(t *testing.T) {
	reg := registry.New()
	if _, err := New(reg, Strategy("fastest")); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestPick_NotFoundVsNoHealthyInstance(t *testing.T) {
	reg := registry.New()
	b, _ := New(reg, RoundRobin)

	if _, err := b.Pick("billing"); !errors.IsNotFound(err) {
		t.Errorf("unknown service = %v, want NOT_FOUND", err)
	}

	id := reg.Register("billing", "10.0.0.1", 8080)
	_ = reg.SetHealth(id, registry.Unhealthy)

	if _, err := b.Pick("billing"); !errors.IsNoHealthyInstance(err) {
		t.Errorf("all-unhealthy service = %v, want NO_HEALTHY_INSTANCE", err)
	}
}

func TestRoundRobin_VisitsEachInstanceOnce(t *testing.T) {
	reg, _ := newPool(t, "payments", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	b, _ := New(reg, RoundRobin)

	visited := make(map[string]int)
	for i := 0; i < 3; i++ {
		node, err := b.Pick("payments")
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		visited[node.ID]++
	}

	if len(visited) != 3 {
		t.Fatalf("3 picks visited %d distinct instances, want 3", len(visited))
	}
	for id, count := range visited {
		if count != 1 {
			t.Errorf("instance %s picked %d times, want 1", id, count)
		}
	}
}

func TestRoundRobin_SkipsUnhealthy(t *testing.T) {
	reg, ids := newPool(t, "payments", "10.0.0.1", "10.0.0.2")
	_ = reg.SetHealth(ids[0], registry.Unhealthy)
	b, _ := New(reg, RoundRobin)

	for i := 0; i < 5; i++ {
		node, err := b.Pick("payments")
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if node.ID != ids[1] {
			t.Fatalf("picked unhealthy instance %s", node.ID)
		}
	}
}

func TestLeastConn_SelectsMinimumLoad(t *testing.T) {
	reg, ids := newPool(t, "payments", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	_ = reg.Acquire(ids[0])
	_ = reg.Acquire(ids[0])
	_ = reg.Acquire(ids[1])
	b, _ := New(reg, LeastConn)

	node, err := b.Pick("payments")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if node.ID != ids[2] {
		t.Errorf("picked %s, want the zero-load instance %s", node.ID, ids[2])
	}

	// The selected instance's load is <= every other healthy instance's.
	nodes, _ := reg.Instances("payments", true)
	for _, other := range nodes {
		if node.Load > other.Load {
			t.Errorf("selected load %d exceeds instance %s load %d", node.Load, other.ID, other.Load)
		}
	}
}

func TestLeastConn_TieBreaksByRegistrationOrder(t *testing.T) {
	reg, ids := newPool(t, "payments", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	b, _ := New(reg, LeastConn)

	for i := 0; i < 10; i++ {
		node, err := b.Pick("payments")
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if node.ID != ids[0] {
			t.Fatalf("equal loads must select the earliest registration, got %s", node.ID)
		}
	}
}

func TestWeighted_RespectsWeights(t *testing.T) {
	reg := registry.New()
	heavy := reg.Register("payments", "10.0.0.1", 8080, registry.WithWeight(9))
	light := reg.Register("payments", "10.0.0.2", 8080, registry.WithWeight(1))
	b, _ := New(reg, Weighted)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		node, err := b.Pick("payments")
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		counts[node.ID]++
	}

	if counts[heavy] <= counts[light] {
		t.Errorf("weight-9 instance picked %d times, weight-1 %d times", counts[heavy], counts[light])
	}
	if counts[light] == 0 {
		t.Error("weight-1 instance never picked")
	}
}

func TestIPHash_StableForKey(t *testing.T) {
	reg, _ := newPool(t, "payments", "10.0.0.1", "10.0.0.2", "10.0.0.3")
	b, _ := New(reg, IPHash)

	first, err := b.Pick("payments", WithHashKey("192.168.1.10"))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	for i := 0; i < 20; i++ {
		node, err := b.Pick("payments", WithHashKey("192.168.1.10"))
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if node.ID != first.ID {
			t.Fatal("same key selected different instances over a stable pool")
		}
	}
}

func TestIPHash_RequiresKey(t *testing.T) {
	reg, _ := newPool(t, "payments", "10.0.0.1")
	b, _ := New(reg, IPHash)

	if _, err := b.Pick("payments"); err == nil {
		t.Fatal("ip_hash without a key must fail")
	}
}

func TestAcquire_IncrementsLoadAndReleases(t *testing.T) {
	reg, ids := newPool(t, "payments", "10.0.0.1")
	b, _ := New(reg, LeastConn)

	lease, err := b.Acquire("payments")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Node.ID != ids[0] {
		t.Fatalf("unexpected node %s", lease.Node.ID)
	}
	if load, _ := reg.LoadOf(ids[0]); load != 1 {
		t.Errorf("load after acquire = %d, want 1", load)
	}

	lease.Release()
	if load, _ := reg.LoadOf(ids[0]); load != 0 {
		t.Errorf("load after release = %d, want 0", load)
	}

	// Release is idempotent.
	lease.Release()
	if load, _ := reg.LoadOf(ids[0]); load != 0 {
		t.Errorf("load after double release = %d, want 0", load)
	}
}

func TestAcquire_LeastConnRemainsMeaningful(t *testing.T) {
	reg, ids := newPool(t, "payments", "10.0.0.1", "10.0.0.2")
	b, _ := New(reg, LeastConn)

	// Without releases the pool would starve; with paired releases the load
	// accounting stays balanced across many selections.
	for i := 0; i < 100; i++ {
		lease, err := b.Acquire("payments")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		lease.Release()
	}

	for _, id := range ids {
		if load, _ := reg.LoadOf(id); load != 0 {
			t.Errorf("instance %s load = %d after balanced acquire/release, want 0", id, load)
		}
	}
}
