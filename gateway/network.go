// Package gateway implements the Connection Layer and ties together the
// Client Object table, the Reliability Engine (via clientobj.Object),
// and the App Multiplexer into one running TCP server. Each accepted
// connection is matched to a durable Client Object by its login frame,
// and inbound app frames are pinned to a dispatch shard so a device's
// frames are always handled in arrival order.
package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"devicehub/appmux"
	"devicehub/clientobj"
	"devicehub/internal/config"
	"devicehub/loadbalance"
	"devicehub/middleware"
	"devicehub/protocol"
	"devicehub/registry"
)

// Gateway is the running Connection Layer: a TCP listener, the Client
// Object table, the App Multiplexer, and the middleware chain wrapping
// every dispatch.
type Gateway struct {
	cfg  *config.GatewayConfig
	log  *zap.Logger
	apps *appmux.Registry
	mw   middleware.Middleware

	table   *registry.ClientTable
	shards  *appmux.ShardPool
	guard   *ipGuard
	bufPool *protocol.BufferPool

	ops registry.OpsRegistry

	onNewClient func(*clientobj.Object)

	listener net.Listener
	addr     atomic.Pointer[string]
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// Option customizes a Gateway at construction time.
type Option func(*Gateway)

// WithOpsRegistry makes the gateway self-register its listen address for
// ops discovery. It never participates in client_id routing.
func WithOpsRegistry(ops registry.OpsRegistry) Option {
	return func(g *Gateway) { g.ops = ops }
}

// WithNewClientCallback fires once for every freshly-created Client
// Object (not on reconnect rebind), mirroring server_generic.py's
// cb_new_client hook.
func WithNewClientCallback(cb func(*clientobj.Object)) Option {
	return func(g *Gateway) { g.onNewClient = cb }
}

// New builds a Gateway. mws are applied outermost-first around every app
// dispatch, the same Chain semantics middleware.Chain documents.
func New(cfg *config.GatewayConfig, log *zap.Logger, apps *appmux.Registry, mws []middleware.Middleware, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		log:     log.Named("gateway"),
		apps:    apps,
		mw:      middleware.Chain(mws...),
		table:   registry.NewClientTable(),
		shards:  appmux.NewShardPool(cfg.DispatchShards, cfg.RXBufferCap, pickBalancer(cfg.DispatchStrategy), log),
		guard:   newIPGuard(cfg.ReconnectFloodPerIP, time.Duration(cfg.ReconnectFloodWindowS)*time.Second),
		bufPool: protocol.NewBufferPool(64, 512),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func pickBalancer(strategy config.DispatchStrategy) loadbalance.Balancer {
	switch strategy {
	case config.DispatchRoundRobin:
		return &loadbalance.RoundRobinBalancer{}
	case config.DispatchWeightedRandom:
		return &loadbalance.WeightedRandomBalancer{}
	default:
		return loadbalance.NewConsistentHashBalancer()
	}
}

// ClientTable exposes the routing table, e.g. for a Broadcast helper.
func (g *Gateway) ClientTable() *registry.ClientTable { return g.table }

// AwaitConnection blocks until every id in ids is connected or timeout
// elapses, whichever comes first. A thin forward to ClientTable's
// method of the same name, kept here because await_connection is one
// of the Connection Layer's named operations alongside Serve/Shutdown/
// GetOrCreate.
func (g *Gateway) AwaitConnection(ctx context.Context, ids []string, timeout time.Duration) error {
	return g.table.AwaitConnection(ctx, ids, timeout)
}

// ListenAddr returns the bound address once Serve has started listening,
// or "" before that.
func (g *Gateway) ListenAddr() string {
	if p := g.addr.Load(); p != nil {
		return *p
	}
	return ""
}

func (g *Gateway) objectConfig() clientobj.Config {
	return clientobj.Config{
		RXBufferCap:         g.cfg.RXBufferCap,
		TXBufferCap:         g.cfg.TXBufferCap,
		TimeoutConnectionMS: g.cfg.TimeoutConnectionMS,
		TimeoutObjectS:      *g.cfg.TimeoutObjectS,
	}
}

// Serve listens on cfg.Hostname:cfg.Port and runs the Accept loop until
// ctx is cancelled or Shutdown is called. advertiseAddr, if non-empty and
// an OpsRegistry was configured, is the address registered for ops
// discovery.
func (g *Gateway) Serve(ctx context.Context, advertiseAddr string) error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Hostname, g.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	g.listener = listener
	boundAddr := listener.Addr().String()
	g.addr.Store(&boundAddr)
	g.log.Info("listening", zap.String("addr", addr))

	if g.ops != nil && advertiseAddr != "" {
		if err := g.ops.Register(registry.GatewayInstance{Addr: advertiseAddr}, 10); err != nil {
			g.log.Warn("ops registration failed", zap.Error(err))
		}
	}

	go func() {
		<-ctx.Done()
		g.shutdown.Store(true)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if g.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}
		g.wg.Add(1)
		go g.handleConn(conn)
	}
}

// Shutdown stops accepting new connections, forces every tracked Client
// Object closed, and waits up to timeout for in-flight connection
// goroutines to exit.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.shutdown.Store(true)
	if g.listener != nil {
		g.listener.Close()
	}
	if g.ops != nil {
		g.ops.Deregister("")
	}
	g.table.Range(func(id string, obj *clientobj.Object) bool {
		obj.Shutdown()
		return true
	})
	g.shards.Close()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("gateway: timeout waiting for connections to close")
	}
}

func (g *Gateway) onClientRemoved(clientID string) {
	g.apps.StopClient(clientID)
	g.table.Remove(clientID)
}
