package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps keys (client_ids) to targets (dispatch
// shards) using a hash ring. The same key always maps to the same
// target as long as the target set doesn't change, which is exactly the
// affinity the App Multiplexer needs for per-client ordering.
//
// Virtual nodes: each target is mapped to N virtual nodes on the ring.
// Without virtual nodes, a handful of shards might cluster together on
// the ring, skewing load. 100 virtual nodes per shard keeps it uniform.
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	ring      []uint32
	nodes     map[uint32]Target
	fromShape string // fingerprint of the target set the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes
// per target.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func shapeOf(targets []Target) string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func (b *ConsistentHashBalancer) buildRing(targets []Target) {
	ring := make([]uint32, 0, len(targets)*b.replicas)
	nodes := make(map[uint32]Target, len(targets)*b.replicas)
	for _, target := range targets {
		for i := 0; i < b.replicas; i++ {
			key := fmt.Sprintf("%s#%d", target.ID, i)
			hash := crc32.ChecksumIEEE([]byte(key))
			ring = append(ring, hash)
			nodes[hash] = target
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })
	b.ring = ring
	b.nodes = nodes
	b.fromShape = shapeOf(targets)
}

// Pick hashes key and walks clockwise to the nearest target on the ring.
func (b *ConsistentHashBalancer) Pick(targets []Target, key string) (*Target, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("loadbalance: no targets available")
	}
	b.mu.Lock()
	if b.fromShape != shapeOf(targets) {
		b.buildRing(targets)
	}
	ring, nodes := b.ring, b.nodes
	b.mu.Unlock()

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	target := nodes[ring[idx]]
	return &target, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
