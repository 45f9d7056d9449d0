// Package clientobj implements the Client Object: the durable per-device
// entity that survives across reconnects. It owns the bounded RX/TX
// buffers, the reliability engine's per-connection sequence state, the
// keepalive/RX-timeout watchdog, and the object-TTL eviction timer.
//
// Where the original per-connection Client mixed asyncio Events and
// plain lists, Object uses channels and a state machine guarded by a
// single mutex — there is exactly one goroutine per responsibility
// (keepalive, eviction) the way transport.ClientTransport ran exactly
// one recvLoop and one heartbeatLoop per connection. Writes run on the
// caller's goroutine, serialized by sendMu.
package clientobj

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"devicehub/protocol"
	"devicehub/reliability"
)

// State is the Client Object lifecycle state.
type State int

const (
	Created State = iota
	Connected
	Disconnected
	Closing
	Removed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closing:
		return "closing"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// AppMessage is one fully decoded, deduplicated inbound frame handed to
// the App Multiplexer.
type AppMessage struct {
	AppHeader []byte
	Payload   []byte
}

// Config carries the per-object tunables sourced from config.GatewayConfig.
type Config struct {
	RXBufferCap         int
	TXBufferCap         int
	TimeoutConnectionMS int
	// TimeoutObjectS is the post-disconnect eviction grace period; <=0
	// means the object is persistent and is never TTL-evicted.
	TimeoutObjectS int64
}

// Object is the durable per-device Client Object.
type Object struct {
	ClientID string
	cfg      Config
	log      *zap.Logger

	mu           sync.Mutex
	state        State
	framer       *protocol.Framer
	conn         io.Closer
	writeMu      sync.Mutex // serializes raw transport writes (the "output_lock")
	sendMu       sync.Mutex // single-in-flight send loop; seq order follows acquisition order
	seq          *reliability.SeqCounter
	dedup        reliability.DedupWindow
	pendingAck   bool
	pendingSeq   uint8
	ackCh        chan struct{}
	lastRXTime   time.Time
	lastTXTime   time.Time
	closing      bool
	removed      bool
	connSig      chan struct{} // closed when a transport is attached; replaced on disconnect
	cancelRun    context.CancelFunc
	evictTimer   *time.Timer

	rxQueue chan AppMessage
	txQueue chan pendingWrite
	doneCh  chan struct{} // closed once, when the object reaches Removed

	onRemoved  func(clientID string)
	onDetach   func(clientID string)
	onReattach func(clientID string)
}

type pendingWrite struct {
	appIdent  byte
	appID     byte
	appHeader byte
	payload   []byte
	qos       bool
	result    chan error
}

// New creates a Client Object in the Created state. It is not usable
// until Attach binds a transport.
func New(clientID string, cfg Config, log *zap.Logger, onRemoved func(string)) *Object {
	return &Object{
		ClientID:  clientID,
		cfg:       cfg,
		log:       log.Named("clientobj").With(zap.String("client_id", clientID)),
		state:     Created,
		seq:       reliability.NewSeqCounter(),
		connSig:   make(chan struct{}),
		rxQueue:   make(chan AppMessage, cfg.RXBufferCap),
		txQueue:   make(chan pendingWrite, cfg.TXBufferCap),
		ackCh:     make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		onRemoved: onRemoved,
	}
}

// State returns the current lifecycle state.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsConnected reports whether a transport is currently attached.
func (o *Object) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == Connected
}

// WaitConnected blocks until a transport is attached, returning nil as
// soon as it is. It returns ErrRemoved immediately if the object has
// already been evicted, or ctx.Err() if ctx ends first — the two
// outcomes a registry-level await_connection operation distinguishes
// from a successful wait.
func (o *Object) WaitConnected(ctx context.Context) error {
	for {
		o.mu.Lock()
		sig := o.connSig
		connected := o.state == Connected
		removed := o.removed
		o.mu.Unlock()
		if removed {
			return ErrRemoved
		}
		if connected {
			return nil
		}
		select {
		case <-sig:
			continue
		case <-o.doneCh:
			return ErrRemoved
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnDetach registers the callback fired when Detach transitions the
// object from Connected to Disconnected — the App Multiplexer's hook for
// pausing this client's app instances on transport loss.
func (o *Object) OnDetach(fn func(clientID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onDetach = fn
}

// OnReattach registers the callback fired when Attach rebinds an
// existing (previously detached) object to a new transport on
// reconnect — the App Multiplexer's hook for restarting this client's
// app instances. It is not fired for the object's first Attach.
func (o *Object) OnReattach(fn func(clientID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReattach = fn
}

// Attach binds a fresh transport to this Client Object, rebinding on
// reconnect: any previous keepalive goroutine is stopped first, the dedup
// window is left intact (only an inbound frame with seq==0 resets it; the
// login frame, seq 0x2c, never reaches the window), and a new keepalive
// goroutine is started. A transport
// left attached from a prior connection (reconnect-before-eviction) is
// closed so its read loop unblocks instead of leaking; DetachTransport
// recognizes that close as stale and ignores it rather than tearing down
// the transport Attach just installed.
func (o *Object) Attach(conn io.Closer, framer *protocol.Framer) {
	o.mu.Lock()
	if o.removed {
		o.mu.Unlock()
		return
	}
	if o.cancelRun != nil {
		o.cancelRun()
	}
	if o.evictTimer != nil {
		o.evictTimer.Stop()
		o.evictTimer = nil
	}
	prevConn := o.conn
	isReconnect := o.state == Disconnected || o.state == Closing
	o.conn = conn
	o.framer = framer
	o.state = Connected
	o.closing = false
	o.lastRXTime = time.Now()
	close(o.connSig) // wake any Write callers blocked waiting for a connection
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelRun = cancel
	onReattach := o.onReattach
	o.mu.Unlock()

	if prevConn != nil && prevConn != conn {
		prevConn.Close()
	}

	go o.keepaliveLoop(ctx)
	o.log.Debug("attached")
	if isReconnect && onReattach != nil {
		onReattach(o.ClientID)
	}
}

// Detach is called when the transport is lost (read error, EOF, or
// explicit close). It stops the watchdogs, drops queued data (buffers
// are cleared on transport loss), starts the object-TTL eviction timer
// unless the object is persistent, and fires onDetach so the App
// Multiplexer can pause this client's app instances.
func (o *Object) Detach() {
	o.mu.Lock()
	if o.state == Removed || o.state == Disconnected {
		o.mu.Unlock()
		return
	}
	o.state = Disconnected
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	o.connSig = make(chan struct{}) // reopen: Write callers must block again until reattached
	o.drainLocked()
	onDetach := o.onDetach
	persistent := o.cfg.TimeoutObjectS <= 0
	if persistent {
		o.log.Debug("persistent client, no eviction timer")
	} else {
		o.log.Debug("starting eviction timer", zap.Int64("timeout_object_s", o.cfg.TimeoutObjectS))
		o.evictTimer = time.AfterFunc(time.Duration(o.cfg.TimeoutObjectS)*time.Second, o.startEviction)
	}
	o.mu.Unlock()

	if onDetach != nil {
		onDetach(o.ClientID)
	}
}

// DetachTransport is what a connection's read loop calls on read error or
// EOF, naming the specific transport it was reading from. If Attach has
// already replaced that transport with a new one (the stale connection's
// Close, triggered by Attach, is what unblocked this read), it is a
// no-op: the new transport's state must not be torn down by the old
// connection's demise.
func (o *Object) DetachTransport(conn io.Closer) {
	o.mu.Lock()
	current := o.conn
	o.mu.Unlock()
	if current != conn {
		return
	}
	o.Detach()
}

func (o *Object) drainLocked() {
	for {
		select {
		case <-o.rxQueue:
		default:
			goto drainedRx
		}
	}
drainedRx:
	for {
		select {
		case pw := <-o.txQueue:
			if pw.result != nil {
				pw.result <- fmt.Errorf("clientobj: %w", ErrDisconnected)
			}
		default:
			return
		}
	}
}

// startEviction moves the object to Closing, waits the ~3s grace period
// so apps can drain in-flight work, then marks it Removed and notifies
// the owning registry.
func (o *Object) startEviction() {
	o.mu.Lock()
	if o.state != Disconnected {
		o.mu.Unlock()
		return
	}
	o.state = Closing
	o.closing = true
	o.mu.Unlock()

	o.log.Debug("closing, grace period before removal")
	time.Sleep(3 * time.Second)

	o.mu.Lock()
	o.state = Removed
	o.removed = true
	close(o.doneCh)
	cb := o.onRemoved
	o.mu.Unlock()

	o.log.Debug("removed")
	if cb != nil {
		cb(o.ClientID)
	}
}

// Shutdown forces immediate removal, used when the gateway process is
// shutting down: it skips the TTL grace sleep window entirely, but still
// cascades to the owning registry/App Multiplexer the same way
// startEviction does, so every App Instance gets its Stop() callback on
// a graceful shutdown, not just on TTL eviction.
func (o *Object) Shutdown() {
	o.mu.Lock()
	if o.removed {
		o.mu.Unlock()
		return
	}
	if o.cancelRun != nil {
		o.cancelRun()
	}
	if o.evictTimer != nil {
		o.evictTimer.Stop()
	}
	if o.conn != nil {
		o.conn.Close()
	}
	o.state = Removed
	o.removed = true
	close(o.doneCh)
	cb := o.onRemoved
	o.mu.Unlock()

	if cb != nil {
		cb(o.ClientID)
	}
}

// Done returns a channel closed once the object reaches Removed, so a
// long-lived consumer (the App Multiplexer's dispatch loop) can stop
// waiting on RXQueue instead of blocking on it forever.
func (o *Object) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doneCh
}

// Removed reports whether the object has been evicted; callers must stop
// using it once true.
func (o *Object) Removed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.removed
}

// EnqueueRX pushes a deduplicated app message onto the RX queue, dropping
// the oldest entry when the bounded queue is full.
func (o *Object) EnqueueRX(msg AppMessage) {
	select {
	case o.rxQueue <- msg:
		return
	default:
	}
	select {
	case <-o.rxQueue:
	default:
	}
	select {
	case o.rxQueue <- msg:
	default:
	}
}

// RXQueue exposes the channel for the App Multiplexer's dispatch loop.
func (o *Object) RXQueue() <-chan AppMessage { return o.rxQueue }

// TouchRX updates the RX-silence deadline; called for every line read
// (keepalive or frame).
func (o *Object) TouchRX() {
	o.mu.Lock()
	o.lastRXTime = time.Now()
	o.mu.Unlock()
}

// ObserveFrame feeds one decoded, non-ACK frame through the dedup window
// and reports whether seq is new (a seq of 0 clears the window first).
// Ordering and rotation follow the reliability engine exactly.
func (o *Object) ObserveFrame(seq uint8) (isNew bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq == 0 {
		o.dedup.Reset()
	}
	return o.dedup.MarkAndCheck(seq)
}

// ObserveAck records an ACK for the in-flight QOS write, if any, and
// wakes the waiting writer.
func (o *Object) ObserveAck(seq uint8) {
	o.mu.Lock()
	match := o.pendingAck && o.pendingSeq == seq
	if match {
		o.pendingAck = false
	}
	o.mu.Unlock()
	if match {
		select {
		case o.ackCh <- struct{}{}:
		default:
		}
	}
}

// WriteRaw serializes and writes a frame directly to the attached
// transport, serialized by the output_lock so ACKs/keepalives never
// interleave with payload bytes from the send loop. A live write
// failure (as opposed to no transport being attached at all) is
// reported as ErrTransportBroken, and the transport is torn down
// immediately rather than waiting for the read loop to notice on its
// next read.
func (o *Object) WriteRaw(f protocol.Frame) error {
	o.mu.Lock()
	framer := o.framer
	o.mu.Unlock()
	if framer == nil {
		return ErrDisconnected
	}
	o.writeMu.Lock()
	err := framer.WriteFrame(f)
	o.writeMu.Unlock()
	if err != nil {
		o.Detach()
		return fmt.Errorf("%w: %v", ErrTransportBroken, err)
	}
	return nil
}

// WriteAck emits an ACK frame for seq. ACK emission never waits for the
// send slot and never updates connection liveness bookkeeping beyond the
// raw write itself.
func (o *Object) WriteAck(seq uint8) error {
	return o.WriteRaw(protocol.Frame{Preheader: protocol.Preheader{Seq: seq, Flags: protocol.AckMarker}})
}

// SendKeepaliveNow writes one keepalive immediately, used by the
// Connection Layer right after a successful login so the peer sees
// liveness within milliseconds instead of waiting for the first
// keepaliveLoop tick.
func (o *Object) SendKeepaliveNow() error {
	o.mu.Lock()
	framer := o.framer
	o.mu.Unlock()
	if framer == nil {
		return ErrDisconnected
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	return framer.WriteKeepalive()
}

func (o *Object) keepaliveLoop(ctx context.Context) {
	interval := time.Duration(o.cfg.TimeoutConnectionMS) * time.Millisecond * 2 / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		o.mu.Lock()
		framer := o.framer
		silentFor := time.Since(o.lastRXTime)
		o.mu.Unlock()
		if framer == nil {
			return
		}
		o.writeMu.Lock()
		err := framer.WriteKeepalive()
		o.writeMu.Unlock()
		if err != nil {
			o.log.Debug("keepalive write failed", zap.Error(err))
			o.Detach()
			return
		}
		if silentFor > time.Duration(o.cfg.TimeoutConnectionMS)*time.Millisecond {
			o.log.Warn("rx timeout, closing transport")
			o.mu.Lock()
			conn := o.conn
			o.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			o.Detach()
			return
		}
	}
}
