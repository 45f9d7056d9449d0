// Package client implements Broadcast: send one message to several
// client ids and report per-target delivery. There is no service
// discovery across servers here, since each client_id names exactly
// one Client Object this gateway process already owns — resolve a
// target, then hand off to the thing that actually sends.
package client

import (
	"context"
	"fmt"

	"devicehub/clientobj"
	"devicehub/registry"
)

// Table resolves a client_id to its Client Object, the same role
// registry.ClientTable.Get plays for the gateway's read loop.
type Table interface {
	Get(id string) (*clientobj.Object, bool)
}

// Result records one target's delivery outcome.
type Result struct {
	ClientID  string
	Delivered bool
	Err       error
}

// Broadcast sends one app frame to a fixed set of client ids.
type Broadcast struct {
	table Table
}

// NewBroadcast builds a Broadcast backed by table.
func NewBroadcast(table Table) *Broadcast {
	return &Broadcast{table: table}
}

// Send writes payload to every id in ids as an (appIdent, appID,
// appHeader) frame. When onlyWithConnection is true, a target that is
// either unknown or merely disconnected is skipped and reported
// undelivered without an error — the caller asked to be tolerant of
// absent targets, so a lookup miss is treated the same as a connection
// miss. When onlyWithConnection is false, a lookup miss is a genuine
// failure and surfaces ErrNoSuchClient, while a known-but-disconnected
// target still gets a real write attempt and whatever error
// Object.Write returns for it.
func (b *Broadcast) Send(ctx context.Context, ids []string, appIdent, appID, appHeader byte, payload []byte, qos, onlyWithConnection bool) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		obj, ok := b.table.Get(id)
		if !ok {
			if onlyWithConnection {
				results = append(results, Result{ClientID: id, Delivered: false})
			} else {
				results = append(results, Result{ClientID: id, Delivered: false, Err: fmt.Errorf("%w: %s", registry.ErrNoSuchClient, id)})
			}
			continue
		}
		if onlyWithConnection && !obj.IsConnected() {
			results = append(results, Result{ClientID: id, Delivered: false})
			continue
		}
		err := obj.Write(ctx, appIdent, appID, appHeader, payload, qos)
		results = append(results, Result{ClientID: id, Delivered: err == nil, Err: err})
	}
	return results
}
