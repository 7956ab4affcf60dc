// Package websocket provides the WebSocket transport of the session broker.
//
// The websocket package implements:
//   - Upgrade of /api/ws/{id} requests, one connection per client id
//   - A read pump that decodes client events and hands them to the dispatcher
//   - A write pump that drains the connection's Outbox, one frame per event
//   - Connect and disconnect hooks that keep session membership current
//
// Message Protocol:
//
// Every frame is one JSON-encoded event. Client events are either a bare
// string ("ListSessions", "CreateSession", "LeaveSession") or a single-key
// object ({"JoinSession":"ABCDE"}, {"GameEvent":{"PlaceAt":{"x":0,"y":0}}}).
// Server events are single-key objects: ListSessions, GameStart, GameUpdate,
// Queue and Error. A frame that does not decode is answered with
// {"Error":"Invalid Client Event: <frame>"} and the connection stays open.
// Binary frames are ignored.
//
// Connection Lifecycle:
//
// 1. A second live connection with the same id is refused with 409
// 2. The client is registered and re-attached to a session that still lists it
// 3. Events are read, dispatched and answered until the socket closes
// 4. The client is unregistered and marked inactive in its session; the
// session is removed once no member is active
//
// Concurrency:
//
// Each connection runs a read goroutine and a write goroutine. Producers push
// onto the Outbox without blocking, so delivering to a slow client never
// stalls the dispatcher or other connections.
package websocket
