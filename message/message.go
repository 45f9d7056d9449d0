// Package message defines the envelope exchanged between the App
// Multiplexer and App Instances: no service/method string and no
// request/response pairing, since app dispatch is fire-and-forget
// frames addressed by a 3-byte app header rather than calls awaiting a
// reply.
package message

import "fmt"

// AppHeader is the decoded form of the 3-byte inline app header that
// follows the wire preheader: which app type, which instance of it, and
// an application-private tag byte the app itself interprets.
type AppHeader struct {
	AppIdent byte // selects the App (factory-registered by this byte)
	AppID    byte // selects the App Instance within that App
	Tag      byte // app-private; e.g. the echo app's sub-command byte
}

// DecodeAppHeader parses the 3 raw app header bytes carried in a Frame.
func DecodeAppHeader(raw []byte) (AppHeader, error) {
	if len(raw) != 3 {
		return AppHeader{}, fmt.Errorf("message: app header must be 3 bytes, got %d", len(raw))
	}
	return AppHeader{AppIdent: raw[0], AppID: raw[1], Tag: raw[2]}, nil
}

// Encode renders an AppHeader back to its 3 wire bytes.
func (h AppHeader) Encode() []byte {
	return []byte{h.AppIdent, h.AppID, h.Tag}
}

// Dispatch is one inbound app frame, fully resolved to a client and app
// instance address, ready for the App Multiplexer to route.
type Dispatch struct {
	ClientID string
	Header   AppHeader
	Payload  []byte // raw JSON payload bytes; the App Instance decodes its own shape
	QOS      bool
}
