package gateway

import (
	"context"
	"net"

	"go.uber.org/zap"

	"devicehub/appmux"
	"devicehub/clientobj"
	"devicehub/message"
	"devicehub/protocol"
)

// handleConn owns one accepted TCP connection end to end: the ip-guard
// check, TCP_NODELAY (server_generic.py's connection_made does this via
// SO_TCP/TCP_NODELAY), the login handshake, and the read loop that feeds
// decoded frames to the owning Client Object.
func (g *Gateway) handleConn(conn net.Conn) {
	defer g.wg.Done()

	ip := remoteIP(conn)
	if !g.guard.Allow(ip) {
		g.log.Warn("reconnect flood, rejecting connection", zap.String("ip", ip))
		conn.Close()
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	framer := protocol.NewFramer(conn, g.bufPool)
	obj, err := g.login(conn, framer)
	if err != nil {
		g.log.Debug("login failed", zap.String("ip", ip), zap.Error(err))
		conn.Close()
		return
	}
	g.readLoop(obj, conn, framer)
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// login reads lines until the first non-keepalive one (a brand new
// connection does not start with a keepalive), decodes it, and requires
// it match the login preheader shape. The extracted client_id either
// rebinds an existing Client Object (closing its previous transport) or
// creates a new one, then attaches this connection to it.
func (g *Gateway) login(conn net.Conn, framer *protocol.Framer) (*clientobj.Object, error) {
	var line []byte
	for {
		l, keepalive, err := framer.ReadLine()
		if err != nil {
			return nil, err
		}
		if keepalive {
			continue
		}
		line = l
		break
	}

	frame, err := protocol.Decode(line)
	if err != nil {
		return nil, err
	}
	if !frame.Preheader.IsLogin() {
		return nil, errNotLoginFrame
	}
	clientID := string(frame.Payload)
	if clientID == "" {
		return nil, errEmptyClientID
	}

	isNew := false
	obj := g.table.GetOrCreate(clientID, func() *clientobj.Object {
		isNew = true
		o := clientobj.New(clientID, g.objectConfig(), g.log, g.onClientRemoved)
		o.OnDetach(g.apps.PauseClient)
		o.OnReattach(func(id string) { g.apps.RestartClient(context.Background(), id) })
		return o
	})
	obj.Attach(conn, framer)
	if isNew {
		go g.dispatchLoop(obj)
		if g.onNewClient != nil {
			g.onNewClient(obj)
		}
	}
	if err := obj.SendKeepaliveNow(); err != nil {
		g.log.Debug("immediate post-login keepalive failed", zap.String("client_id", clientID), zap.Error(err))
	}
	g.log.Info("client connected", zap.String("client_id", clientID), zap.Bool("new", isNew))
	return obj, nil
}

// readLoop is the single reader goroutine for one attached transport. It
// runs the Reliability Engine's inbound half: dedup, ACK handling and
// emission, and RX queueing.
func (g *Gateway) readLoop(obj *clientobj.Object, conn net.Conn, framer *protocol.Framer) {
	for {
		line, keepalive, err := framer.ReadLine()
		if err != nil {
			obj.DetachTransport(conn)
			conn.Close()
			return
		}
		obj.TouchRX()
		if keepalive {
			continue
		}

		frame, err := protocol.Decode(line)
		if err != nil {
			g.log.Debug("frame decode error", zap.String("client_id", obj.ClientID), zap.Error(err))
			continue
		}
		g.handleFrame(obj, frame)
	}
}

func (g *Gateway) handleFrame(obj *clientobj.Object, frame protocol.Frame) {
	if frame.Preheader.IsAck() {
		obj.ObserveAck(frame.Preheader.Seq)
		return
	}

	isNew := obj.ObserveFrame(frame.Preheader.Seq)
	if !isNew {
		if frame.Preheader.IsQOS() {
			_ = obj.WriteAck(frame.Preheader.Seq)
		}
		return
	}

	if len(frame.AppHeader) == 0 {
		g.log.Debug("dropping frame with no app header", zap.String("client_id", obj.ClientID))
		return
	}
	obj.EnqueueRX(clientobj.AppMessage{AppHeader: frame.AppHeader, Payload: frame.Payload})
	if frame.Preheader.IsQOS() {
		_ = obj.WriteAck(frame.Preheader.Seq)
	}
}

// dispatchLoop runs for the lifetime of a Client Object (across
// reconnects, since RXQueue is never replaced), pulling deduplicated app
// messages off the RX queue and submitting them to the shard pinned to
// this client_id so every frame for one device is handled by the same
// goroutine in arrival order.
func (g *Gateway) dispatchLoop(obj *clientobj.Object) {
	for {
		var msg clientobj.AppMessage
		select {
		case <-obj.Done():
			return
		case msg = <-obj.RXQueue():
		}

		header, err := message.DecodeAppHeader(msg.AppHeader)
		if err != nil {
			g.log.Debug("malformed app header", zap.String("client_id", obj.ClientID), zap.Error(err))
			continue
		}
		d := message.Dispatch{ClientID: obj.ClientID, Header: header, Payload: msg.Payload}

		err = g.shards.Submit(obj.ClientID, func() {
			g.dispatchOne(obj, d)
		})
		if err != nil {
			g.log.Warn("shard submit failed", zap.String("client_id", obj.ClientID), zap.Error(err))
		}
	}
}

func (g *Gateway) dispatchOne(obj *clientobj.Object, d message.Dispatch) {
	reply := appmux.Reply(func(tag byte, payload []byte, qos bool) error {
		return obj.Write(context.Background(), d.Header.AppIdent, d.Header.AppID, tag, payload, qos)
	})
	terminal := func(ctx context.Context, d message.Dispatch) error {
		return g.apps.Dispatch(ctx, d, reply)
	}
	handler := g.mw(terminal)
	if err := handler(context.Background(), d); err != nil {
		g.log.Warn("dispatch failed", zap.String("client_id", obj.ClientID), zap.Error(err))
	}
}
