// Package appmux implements the App Multiplexer: an explicit
// app-factory registry (not reflection-based dispatch) that routes
// deduplicated inbound frames to per-device App Instances, and a Reply
// function instances use to write back through the owning Client
// Object.
package appmux

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"devicehub/message"
)

// Reply is how an App Instance sends a frame back to its device. tag is
// the app-private third app-header byte; qos requests an ACK-waited send.
type Reply func(tag byte, payload []byte, qos bool) error

// AppInstance is one running instance of an App, scoped to a single
// (client_id, app_id) pair. It mirrors apphandler.py's AppInstance:
// start/pause/stop lifecycle plus a handler for inbound frames.
type AppInstance interface {
	Start(ctx context.Context) error
	Pause()
	Stop()
	Handle(ctx context.Context, d message.Dispatch, reply Reply) error
}

// Factory creates a new AppInstance for a given client_id / app_id pair.
// Apps register a Factory under their app_ident byte; this is the
// explicit registry that replaces reflection-based service dispatch.
type Factory func(clientID string, appID byte) (AppInstance, error)

type instanceKey struct {
	clientID string
	appIdent byte
	appID    byte
}

// Registry holds the app_ident -> Factory table and the live
// (client_id, app_ident, app_id) -> AppInstance instances created from
// it, mirroring apphandler.py's AppHandler.global_apps / instanced_apps
// plus App.getInstance.
type Registry struct {
	log *zap.Logger

	mu        sync.Mutex
	factories map[byte]Factory
	instances map[instanceKey]AppInstance
}

// NewRegistry creates an empty app registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:       log.Named("appmux"),
		factories: make(map[byte]Factory),
		instances: make(map[instanceKey]AppInstance),
	}
}

// RegisterFactory binds an app_ident byte to the Factory that creates
// instances of that App. Registering the same ident twice is a
// programmer error and panics, the same way double-registering a route
// would in most Go routers.
func (r *Registry) RegisterFactory(appIdent byte, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[appIdent]; exists {
		panic(fmt.Sprintf("appmux: app_ident %d already registered", appIdent))
	}
	r.factories[appIdent] = factory
}

// GetOrCreateInstance returns the existing instance for
// (clientID, appIdent, appID), creating and starting one via the
// registered Factory if none exists yet.
func (r *Registry) GetOrCreateInstance(ctx context.Context, clientID string, appIdent, appID byte) (AppInstance, error) {
	key := instanceKey{clientID: clientID, appIdent: appIdent, appID: appID}

	r.mu.Lock()
	if inst, ok := r.instances[key]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	factory, ok := r.factories[appIdent]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: app_ident %d", ErrUnknownApp, appIdent)
	}
	r.mu.Unlock()

	inst, err := factory(clientID, appID)
	if err != nil {
		return nil, fmt.Errorf("appmux: create instance: %w", err)
	}
	if err := inst.Start(ctx); err != nil {
		return nil, fmt.Errorf("appmux: start instance: %w", err)
	}

	r.mu.Lock()
	if existing, ok := r.instances[key]; ok {
		// Lost the race to create this instance; stop ours and use theirs.
		r.mu.Unlock()
		inst.Stop()
		return existing, nil
	}
	r.instances[key] = inst
	r.mu.Unlock()
	return inst, nil
}

// Dispatch routes one deduplicated frame to its App Instance, creating
// the instance on first contact.
func (r *Registry) Dispatch(ctx context.Context, d message.Dispatch, reply Reply) error {
	inst, err := r.GetOrCreateInstance(ctx, d.ClientID, d.Header.AppIdent, d.Header.AppID)
	if err != nil {
		return err
	}
	return inst.Handle(ctx, d, reply)
}

// StopClient stops and removes every app instance owned by clientID,
// called when its Client Object is evicted.
func (r *Registry) StopClient(clientID string) {
	r.mu.Lock()
	var toStop []AppInstance
	for key, inst := range r.instances {
		if key.clientID == clientID {
			toStop = append(toStop, inst)
			delete(r.instances, key)
		}
	}
	r.mu.Unlock()
	for _, inst := range toStop {
		inst.Stop()
	}
}

// PauseClient pauses every app instance owned by clientID without
// removing them, called when its Client Object's transport is detached
// on a connection that may still reconnect before the eviction TTL
// elapses.
func (r *Registry) PauseClient(clientID string) {
	r.mu.Lock()
	var toPause []AppInstance
	for key, inst := range r.instances {
		if key.clientID == clientID {
			toPause = append(toPause, inst)
		}
	}
	r.mu.Unlock()
	for _, inst := range toPause {
		inst.Pause()
	}
}

// RestartClient calls Start again on every app instance owned by
// clientID, called when its Client Object rebinds to a new transport on
// reconnect.
func (r *Registry) RestartClient(ctx context.Context, clientID string) {
	r.mu.Lock()
	var toStart []AppInstance
	for key, inst := range r.instances {
		if key.clientID == clientID {
			toStart = append(toStart, inst)
		}
	}
	r.mu.Unlock()
	for _, inst := range toStart {
		if err := inst.Start(ctx); err != nil {
			r.log.Warn("restart instance failed", zap.String("client_id", clientID), zap.Error(err))
		}
	}
}
