// Package devicehub is a long-lived TCP gateway that terminates
// persistent connections from resource-constrained devices and gives
// each one a reliable, in-order, deduplicated, at-least-once framed
// message channel, multiplexed across per-device "apps".
//
// The core is three pieces, wired together by package gateway:
//
//   - protocol + reliability: wire framing and the per-connection
//     reliability engine (sequence numbers, ACKs, dedup, keepalives).
//   - clientobj: the Client Object, the durable per-device entity that
//     survives a TCP reconnect.
//   - appmux: the App Multiplexer, routing deduplicated frames to
//     per-client app instances by (app_ident, app_id).
//
// Concrete apps (examples/echoapp, examples/mqttbridge), an MQTT broker
// client, and CLI startup are deliberately out of scope — external
// collaborators a host program wires in through appmux.Registry.
package devicehub
