package appmux

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"devicehub/loadbalance"
)

// ShardPool runs N worker goroutines, each with its own ordered job
// queue. A loadbalance.Balancer pins a client_id to one shard, so every
// dispatch for a given device is handled by the same goroutine in
// arrival order — the ordering guarantee the App Multiplexer needs,
// without a per-client lock.
type ShardPool struct {
	log      *zap.Logger
	balancer loadbalance.Balancer
	targets  []loadbalance.Target
	queues   []chan func()
}

// NewShardPool starts n worker goroutines backed by the given balancing
// strategy. queueDepth bounds each shard's backlog.
func NewShardPool(n, queueDepth int, balancer loadbalance.Balancer, log *zap.Logger) *ShardPool {
	p := &ShardPool{
		log:      log.Named("appmux.shard"),
		balancer: balancer,
		targets:  make([]loadbalance.Target, n),
		queues:   make([]chan func(), n),
	}
	for i := 0; i < n; i++ {
		p.targets[i] = loadbalance.Target{ID: strconv.Itoa(i), Weight: 1}
		p.queues[i] = make(chan func(), queueDepth)
		go p.runWorker(i)
	}
	return p
}

func (p *ShardPool) runWorker(idx int) {
	for job := range p.queues[idx] {
		job()
	}
}

// Submit enqueues fn onto the shard pinned to clientID. It blocks if
// that shard's queue is full, providing natural backpressure on a
// slow/stuck app handler rather than unbounded memory growth.
func (p *ShardPool) Submit(clientID string, fn func()) error {
	target, err := p.balancer.Pick(p.targets, clientID)
	if err != nil {
		return fmt.Errorf("appmux: pick shard: %w", err)
	}
	idx, err := strconv.Atoi(target.ID)
	if err != nil {
		return fmt.Errorf("appmux: malformed shard id %q: %w", target.ID, err)
	}
	p.queues[idx] <- fn
	return nil
}

// Close stops accepting new work and lets every shard drain its queue
// before workers exit.
func (p *ShardPool) Close() {
	for _, q := range p.queues {
		close(q)
	}
}
