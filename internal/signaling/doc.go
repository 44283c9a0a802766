// Package signaling implements the room's WebSocket signaling endpoint.
//
// Each accepted socket becomes a Conn registered under its client ID. Inbound
// text frames are dispatched by the engine, which maintains room membership
// and relays offer/answer/ICE payloads between peers. Outbound frames go
// through a per-connection byte-bounded queue drained by a single writer
// goroutine, so fan-out never waits on a slow peer.
//
// Media never passes through the server.
package signaling
