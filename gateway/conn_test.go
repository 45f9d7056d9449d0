package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"devicehub/appmux"
	"devicehub/clientobj"
	"devicehub/protocol"
)

func newTestGatewayNoListener(t *testing.T) *Gateway {
	t.Helper()
	apps := appmux.NewRegistry(zaptest.NewLogger(t))
	return New(testConfig(), zaptest.NewLogger(t), apps, nil)
}

func attachedObject(t *testing.T, g *Gateway, clientID string) (*clientobj.Object, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	framer := protocol.NewFramer(serverConn, nil)
	obj := g.table.GetOrCreate(clientID, func() *clientobj.Object {
		return clientobj.New(clientID, g.objectConfig(), zaptest.NewLogger(t), g.onClientRemoved)
	})
	obj.Attach(serverConn, framer)
	return obj, clientConn
}

func TestHandleFrameDedupSkipsRepeatedSeq(t *testing.T) {
	g := newTestGatewayNoListener(t)
	obj, conn := attachedObject(t, g, "device-C")
	defer conn.Close()

	frame := protocol.Frame{
		Preheader: protocol.Preheader{Seq: 1, PayloadLen: 2},
		AppHeader: []byte{0, 0, 1},
		Payload:   []byte("hi"),
	}

	g.handleFrame(obj, frame)
	select {
	case msg := <-obj.RXQueue():
		if string(msg.Payload) != "hi" {
			t.Fatalf("payload = %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("first frame was not enqueued")
	}

	g.handleFrame(obj, frame)
	select {
	case <-obj.RXQueue():
		t.Fatal("duplicate seq should not be re-enqueued")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleFrameQOSSendsAck(t *testing.T) {
	g := newTestGatewayNoListener(t)
	obj, conn := attachedObject(t, g, "device-D")
	defer conn.Close()

	frame := protocol.Frame{
		Preheader: protocol.Preheader{Seq: 1, PayloadLen: 2, Flags: protocol.FlagQOS},
		AppHeader: []byte{0, 0, 1},
		Payload:   []byte("hi"),
	}
	go g.handleFrame(obj, frame)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ackFrame, err := protocol.Decode(buf[:n-1])
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ackFrame.Preheader.IsAck() {
		t.Fatalf("expected ack frame, got %+v", ackFrame.Preheader)
	}
	if ackFrame.Preheader.Seq != 1 {
		t.Fatalf("ack seq = %d, want 1", ackFrame.Preheader.Seq)
	}
}

func TestHandleFrameAckWakesPendingWrite(t *testing.T) {
	g := newTestGatewayNoListener(t)
	obj, conn := attachedObject(t, g, "device-E")
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- obj.Write(ctx, 0, 0, 1, []byte(`"hi"`), true)
	}()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	sent, err := protocol.NewFramer(conn, nil).ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	frame := protocol.Frame{Preheader: protocol.Preheader{Seq: sent.Preheader.Seq, Flags: protocol.AckMarker}}
	g.handleFrame(obj, frame)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ACK did not wake the pending write")
	}
}
