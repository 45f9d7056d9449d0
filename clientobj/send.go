package clientobj

import (
	"context"
	"time"

	"devicehub/protocol"
)

// interFrameFloor is the minimum gap enforced between two frames
// written to the same transport.
const interFrameFloor = 50 * time.Millisecond

// ackWaitDeadline is how long a single QOS send attempt waits for its ACK
// before retrying.
const ackWaitDeadline = 1 * time.Second

// Write assigns the next outbound sequence, serializes the frame, and
// sends it. QOS frames loop — send, wait up to ackWaitDeadline for the
// matching ACK, retry — until ctx is done, at which point WriteTimeout is
// returned and the connection is considered unhealthy. Non-QOS frames are
// fire-and-forget aside from the inter-frame floor.
//
// Only one Write can be in its send loop at a time per Object (the
// "single-in-flight QOS" invariant): sendMu is held for the whole call
// and the sequence number is assigned once it is held, so sequence
// numbers follow the order in which callers acquired sendMu. sync.Mutex
// does not hand off in FIFO order, so concurrent callers are not
// guaranteed to acquire it in the order they called Write.
func (o *Object) Write(ctx context.Context, appIdent, appID, appHeader byte, payload []byte, qos bool) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	if o.Removed() {
		return ErrRemoved
	}

	select {
	case <-ctx.Done():
		// No sequence has been assigned yet at this point (Advance is
		// below), so there is no in-flight slot to account for: the
		// next caller to acquire sendMu calls Advance itself and gets
		// the very next number with no gap to skip ahead over.
		return ctx.Err()
	default:
	}

	seq := o.seq.Advance()
	frame := protocol.Frame{
		Preheader: protocol.Preheader{
			Seq:        seq,
			PayloadLen: uint16(len(payload)),
		},
		AppHeader: []byte{appIdent, appID, appHeader},
		Payload:   payload,
	}
	if qos {
		frame.Preheader.Flags = protocol.FlagQOS
	}

	if !qos {
		o.waitInterFrameFloor()
		return o.sendOnce(ctx, frame)
	}
	return o.sendQOS(ctx, frame)
}

func (o *Object) waitInterFrameFloor() {
	o.mu.Lock()
	elapsed := time.Since(o.lastTXTime)
	o.mu.Unlock()
	if elapsed < interFrameFloor {
		time.Sleep(interFrameFloor - elapsed)
	}
}

func (o *Object) markTXTime() {
	o.mu.Lock()
	o.lastTXTime = time.Now()
	o.mu.Unlock()
}

func (o *Object) sendOnce(ctx context.Context, f protocol.Frame) error {
	if err := o.awaitConnected(ctx); err != nil {
		return err
	}
	o.waitInterFrameFloor()
	err := o.WriteRaw(f)
	o.markTXTime()
	return err
}

func (o *Object) sendQOS(ctx context.Context, f protocol.Frame) error {
	for {
		if err := o.awaitConnected(ctx); err != nil {
			return ErrWriteTimeout
		}

		o.mu.Lock()
		o.pendingAck = true
		o.pendingSeq = f.Preheader.Seq
		o.mu.Unlock()

		o.waitInterFrameFloor()
		if err := o.WriteRaw(f); err != nil {
			// On write error, retry rather than giving up immediately.
			select {
			case <-ctx.Done():
				return ErrWriteTimeout
			case <-time.After(interFrameFloor):
				continue
			}
		}
		o.markTXTime()

		select {
		case <-o.ackCh:
			return nil
		case <-time.After(ackWaitDeadline):
			continue
		case <-ctx.Done():
			return ErrWriteTimeout
		}
	}
}

// awaitConnected blocks until a transport is attached or ctx is done.
func (o *Object) awaitConnected(ctx context.Context) error {
	for {
		o.mu.Lock()
		sig := o.connSig
		connected := o.state == Connected
		o.mu.Unlock()
		if connected {
			return nil
		}
		select {
		case <-sig:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
