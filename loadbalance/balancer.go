// Package loadbalance provides the strategies used to pin a client_id to
// one of the App Multiplexer's dispatch shards. Each shard is a single
// worker goroutine, so once a client_id is pinned to a shard, every frame
// for that client is handled by the same goroutine in arrival order —
// which is what gives the multiplexer its per-client ordering guarantee
// without a per-client lock.
//
// Three strategies are implemented, same as the RPC-instance picker this
// package started as:
//   - ConsistentHash: default. A client_id always maps to the same shard
//     (until DispatchShards changes), which is exactly the affinity the
//     ordering guarantee needs.
//   - RoundRobin / WeightedRandom: available as configurable alternatives
//     for deployments that don't need per-client ordering and want flatter
//     load distribution instead.
package loadbalance

// Target is one dispatch shard: an opaque ID the caller uses to look up
// the actual worker, plus a Weight consulted by WeightedRandomBalancer.
type Target struct {
	ID     string
	Weight int
}

// Balancer picks a Target for a given key (typically a client_id).
type Balancer interface {
	// Pick selects one target given the available set and a key.
	// Called on every dispatch — must be goroutine-safe.
	Pick(targets []Target, key string) (*Target, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
