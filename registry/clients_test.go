package registry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"devicehub/clientobj"
	"devicehub/protocol"
)

func newTestObject(id string) *clientobj.Object {
	return clientobj.New(id, clientobj.Config{RXBufferCap: 2, TXBufferCap: 2, TimeoutConnectionMS: 1500}, zap.NewNop(), nil)
}

func TestClientTableGetOrCreateReturnsSameObject(t *testing.T) {
	table := NewClientTable()
	calls := 0
	newFn := func() *clientobj.Object {
		calls++
		return newTestObject("device-A")
	}

	first := table.GetOrCreate("device-A", newFn)
	second := table.GetOrCreate("device-A", newFn)

	if first != second {
		t.Fatalf("expected the same Client Object on repeated GetOrCreate")
	}
	if calls != 1 {
		t.Fatalf("newFn called %d times, want 1", calls)
	}
}

func TestClientTableRemove(t *testing.T) {
	table := NewClientTable()
	table.GetOrCreate("device-A", func() *clientobj.Object { return newTestObject("device-A") })
	table.Remove("device-A")
	if _, ok := table.Get("device-A"); ok {
		t.Fatalf("expected device-A to be gone after Remove")
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0", table.Len())
	}
}

func TestClientTableGetOrCreateRecreatesRemovedObject(t *testing.T) {
	table := NewClientTable()
	obj := newTestObject("device-A")
	table.clients["device-A"] = obj
	obj.Shutdown() // marks Removed

	replacement := table.GetOrCreate("device-A", func() *clientobj.Object { return newTestObject("device-A") })
	if replacement == obj {
		t.Fatalf("expected a fresh object once the old one was Removed")
	}
}

func TestClientTableAwaitConnectionUnknownID(t *testing.T) {
	table := NewClientTable()
	err := table.AwaitConnection(context.Background(), []string{"device-ghost"}, time.Second)
	if !errors.Is(err, ErrNoSuchClient) {
		t.Fatalf("err = %v, want ErrNoSuchClient", err)
	}
}

func TestClientTableAwaitConnectionTimesOutWhileDisconnected(t *testing.T) {
	table := NewClientTable()
	table.GetOrCreate("device-A", func() *clientobj.Object { return newTestObject("device-A") })

	start := time.Now()
	err := table.AwaitConnection(context.Background(), []string{"device-A"}, 50*time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before the timeout elapsed")
	}
}

func TestClientTableAwaitConnectionSucceedsOnceAttached(t *testing.T) {
	table := NewClientTable()
	obj := table.GetOrCreate("device-A", func() *clientobj.Object { return newTestObject("device-A") })

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		done <- table.AwaitConnection(context.Background(), []string{"device-A"}, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	obj.Attach(server, protocol.NewFramer(server, nil))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitConnection: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AwaitConnection to return")
	}
}

func TestClientTableAwaitConnectionEvictedObjectIsNoSuchClient(t *testing.T) {
	table := NewClientTable()
	obj := newTestObject("device-A")
	table.clients["device-A"] = obj
	obj.Shutdown()

	err := table.AwaitConnection(context.Background(), []string{"device-A"}, 100*time.Millisecond)
	if !errors.Is(err, ErrNoSuchClient) {
		t.Fatalf("err = %v, want ErrNoSuchClient", err)
	}
}
