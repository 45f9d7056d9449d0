// Package registry provides the etcd-based implementation of OpsRegistry.
//
// etcd is a distributed key-value store with strong consistency (Raft).
// It is used here purely as a phonebook of running gateway processes:
//
//	Key:   /devicehub/gateway/{Addr}
//	Value: JSON-encoded GatewayInstance
//
// Registration uses TTL-based leases: if a gateway crashes, its lease
// expires and the entry disappears automatically — no "ghost" instances
// in an ops dashboard. This is entirely optional; a gateway with no
// etcd_endpoints configured simply never calls any of this.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/devicehub/gateway/"

// EtcdRegistry implements OpsRegistry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a new registry connected to the given etcd
// endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register publishes this gateway instance with a TTL lease and starts
// background lease renewal.
//
// leaseID is a local variable, not stored on the struct, so multiple
// goroutines sharing one EtcdRegistry never race on it.
func (r *EtcdRegistry) Register(instance GatewayInstance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, etcdPrefix+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes this gateway's entry. Called during graceful
// shutdown, before the listener closes.
func (r *EtcdRegistry) Deregister(addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, etcdPrefix+addr)
	return err
}

// Watch monitors the gateway prefix and emits the full instance list on
// every change (new registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch() <-chan []GatewayInstance {
	ctx := context.TODO()
	ch := make(chan []GatewayInstance, 1)

	go func() {
		watchChan := r.client.Watch(ctx, etcdPrefix, clientv3.WithPrefix())
		for range watchChan {
			instances, _ := r.Discover()
			ch <- instances
		}
	}()

	return ch
}

// Discover lists every currently registered gateway instance.
func (r *EtcdRegistry) Discover() ([]GatewayInstance, error) {
	ctx := context.TODO()

	resp, err := r.client.Get(ctx, etcdPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]GatewayInstance, 0)
	for _, kv := range resp.Kvs {
		var instance GatewayInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
