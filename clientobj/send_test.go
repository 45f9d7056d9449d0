package clientobj

import (
	"bufio"
	"context"
	"testing"
	"time"

	"devicehub/protocol"
)

func TestWriteNonQOSDoesNotBlockOnAck(t *testing.T) {
	obj, client := testObject(t, defaultConfig())
	defer client.Close()

	// The connection is an unbuffered pipe, so the reader has to be
	// running before Write puts the frame on it.
	type readResult struct {
		line string
		err  error
	}
	read := make(chan readResult, 1)
	go func() {
		line, err := bufio.NewReader(client).ReadString('\n')
		read <- readResult{line, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := obj.Write(ctx, 0, 0, 1, []byte(`"hi"`), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res := <-read
	if res.err != nil {
		t.Fatalf("read frame: %v", res.err)
	}
	frame, err := protocol.Decode([]byte(res.line[:len(res.line)-1]))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Preheader.IsQOS() {
		t.Fatalf("expected non-QOS frame")
	}
}

func TestWriteQOSSucceedsOnAck(t *testing.T) {
	obj, client := testObject(t, defaultConfig())
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- obj.Write(ctx, 0, 0, 1, []byte(`"hi"`), true)
	}()

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	frame, err := protocol.Decode([]byte(line[:len(line)-1]))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if !frame.Preheader.IsQOS() {
		t.Fatalf("expected QOS frame")
	}

	obj.ObserveAck(frame.Preheader.Seq)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Write did not return after ACK observed")
	}
}

func TestWriteQOSTimesOutWithoutAck(t *testing.T) {
	obj, client := testObject(t, defaultConfig())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	go func() {
		// Drain every frame and keepalive off the wire so the writer's raw
		// writes don't block, but never send an ACK back.
		r := bufio.NewReader(client)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	err := obj.Write(ctx, 0, 0, 1, []byte(`"hi"`), true)
	if err != ErrWriteTimeout {
		t.Fatalf("err = %v, want ErrWriteTimeout", err)
	}
}
