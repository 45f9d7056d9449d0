// Package devicehub_test exercises the core login/dispatch/broadcast scenarios
// end to end: a real TCP gateway, a real (if minimal) client dialing it,
// and the example apps wired in through appmux.Registry exactly as a
// host program would.
package devicehub_test

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"devicehub/appmux"
	"devicehub/client"
	"devicehub/examples/echoapp"
	"devicehub/examples/mqttbridge"
	"devicehub/gateway"
	"devicehub/internal/config"
	"devicehub/protocol"
)

func newTestConfig() *config.GatewayConfig {
	timeout := int64(2)
	return &config.GatewayConfig{
		Hostname:            "127.0.0.1",
		Port:                0,
		TimeoutConnectionMS: 1500,
		TimeoutObjectS:      &timeout,
		RXBufferCap:         16,
		TXBufferCap:         16,
		DispatchStrategy:    config.DispatchConsistentHash,
		DispatchShards:      4,
	}
}

func startGateway(t *testing.T) (*gateway.Gateway, string) {
	t.Helper()
	log := zaptest.NewLogger(t)
	apps := appmux.NewRegistry(log)
	apps.RegisterFactory(echoapp.AppIdent, echoapp.NewFactory(log))
	apps.RegisterFactory(mqttbridge.AppIdent, mqttbridge.NewFactory(log))

	g := gateway.New(newTestConfig(), log, apps, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go g.Serve(ctx, "")

	var addr string
	for i := 0; i < 200; i++ {
		if a := g.ListenAddr(); a != "" {
			addr = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("gateway never bound a listener")
	}
	t.Cleanup(func() {
		cancel()
		g.Shutdown(2 * time.Second)
	})
	return g, addr
}

func loginLine(clientID string) []byte {
	f := protocol.Frame{Preheader: protocol.LoginPreheader, Payload: []byte(clientID)}
	f.Preheader.PayloadLen = uint16(len(clientID))
	return append(protocol.Encode(f), '\n')
}

func dataLine(seq uint8, qos bool, appIdent, appID, tag byte, payload []byte) []byte {
	var flags byte
	if qos {
		flags = protocol.FlagQOS
	}
	f := protocol.Frame{
		Preheader: protocol.Preheader{Seq: seq, PayloadLen: uint16(len(payload)), Flags: flags},
		AppHeader: []byte{appIdent, appID, tag},
		Payload:   payload,
	}
	return append(protocol.Encode(f), '\n')
}

// readFrame reads lines off conn until it decodes a non-keepalive
// frame or the deadline passes.
func readFrame(t *testing.T, conn net.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := protocol.NewFramer(conn, nil)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		return frame
	}
}

func TestLoginAndEcho(t *testing.T) {
	_, addr := startGateway(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write(loginLine("device-A"))
	conn.Write(dataLine(1, false, echoapp.AppIdent, 0, 1, []byte(`"hi"`)))

	frame := readFrame(t, conn)
	if string(frame.Payload) != `"hi"` {
		t.Fatalf("echoed payload = %q, want %q", frame.Payload, `"hi"`)
	}
	if len(frame.AppHeader) != 3 || frame.AppHeader[2] != 1 {
		t.Fatalf("app header = %v, want tag 1", frame.AppHeader)
	}
}

// TestBroadcastToMixedOnlineOfflineTargets sends to three client ids;
// offline ones return undelivered without error when onlyWithConnection
// is true.
func TestBroadcastToMixedOnlineOfflineTargets(t *testing.T) {
	g, addr := startGateway(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write(loginLine("device-online"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if obj, ok := g.ClientTable().Get("device-online"); ok && obj.IsConnected() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	go func() {
		buf := make([]byte, 128)
		conn.Read(buf)
	}()

	b := client.NewBroadcast(g.ClientTable())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results := b.Send(ctx, []string{"device-online", "device-offline-1", "device-offline-2"},
		echoapp.AppIdent, 0, 1, []byte(`[42,1.0]`), false, true)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Delivered {
		t.Fatalf("expected device-online delivered, got %+v", results[0])
	}
	if results[1].Delivered || results[2].Delivered {
		t.Fatalf("expected offline targets undelivered, got %+v / %+v", results[1], results[2])
	}
	if results[1].Err != nil || results[2].Err != nil {
		t.Fatalf("offline targets must not error, got %v / %v", results[1].Err, results[2].Err)
	}
}
