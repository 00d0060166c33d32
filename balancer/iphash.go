package balancer

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/registry"
)

// defaultHashReplicas is the number of virtual nodes per instance on the
// hash ring. Without virtual nodes a handful of instances can cluster on the
// ring and skew the distribution.
const defaultHashReplicas = 100

// ipHashPicker maps a caller-supplied key onto a consistent hash ring built
// from the healthy snapshot. The same key keeps selecting the same instance
// until the pool changes.
type ipHashPicker struct {
	replicas int
}

func (p *ipHashPicker) pick(nodes []registry.ServiceNode, opts pickOptions) (registry.ServiceNode, error) {
	if opts.hashKey == "" {
		return registry.ServiceNode{}, errors.InvalidRegistration("hash_key", "ip_hash strategy requires a hash key")
	}

	type ringEntry struct {
		hash uint32
		node int
	}
	ring := make([]ringEntry, 0, len(nodes)*p.replicas)
	for i, n := range nodes {
		for r := 0; r < p.replicas; r++ {
			key := fmt.Sprintf("%s#%d", n.Addr(), r)
			ring = append(ring, ringEntry{hash: crc32.ChecksumIEEE([]byte(key)), node: i})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	hash := crc32.ChecksumIEEE([]byte(opts.hashKey))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= hash })
	if idx == len(ring) {
		idx = 0 // wrap around: the ring is circular
	}
	return nodes[ring[idx].node], nil
}
