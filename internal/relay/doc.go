// Package relay connects monitor clients to management clients.
//
// Every connect, disconnect and command is handled by a single actor
// goroutine (Relay.Run) that mutates the Registry and fans the resulting
// events out through the Dispatcher before taking the next command. Each
// WebSocket connection has its own reader and writer goroutines; writes go
// through a per-connection queue so one slow client never stalls the actor.
// Commands are bounded by the queue capacity and a client that overflows it
// is evicted. Presence events are always queued, so a management client's
// view of the monitor set is either complete or the client is gone.
package relay
