package clientobj

import "errors"

var (
	// ErrDisconnected is returned to callers whose write was queued
	// against a transport that was then lost.
	ErrDisconnected = errors.New("clientobj: not connected")
	// ErrRemoved is returned by any operation on an object past eviction.
	ErrRemoved = errors.New("clientobj: object removed")
	// ErrWriteTimeout is returned when a QOS write exhausts its context
	// deadline without an ACK; the connection is considered unhealthy.
	ErrWriteTimeout = errors.New("clientobj: write timeout awaiting ACK")
	// ErrTransportBroken wraps a live write failure on an attached
	// transport (broken pipe, connection reset, etc.), as distinct from
	// ErrDisconnected's no-transport-attached case. It triggers an
	// immediate Detach but not object eviction — the object still holds
	// its buffered state and TTL timer, waiting for a reconnect.
	ErrTransportBroken = errors.New("clientobj: transport broken")
)
