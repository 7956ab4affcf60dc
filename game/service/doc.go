// Package service provides the business logic layer for the tic-tac-toe session broker.
//
// The service package implements:
//   - Session, client and player-slot types shared by every layer
//   - The JSON wire codec for client and server events
//   - The Dispatcher, which turns one client event into registry mutations
//     and a list of outbound events
//   - The narrow Evaluator/Game contract the rules engine plugs into
//
// Core Interfaces:
//
// ClientStore and SessionStore describe the two registries the Dispatcher
// works against. Evaluator produces the initial Game of a match and Game
// applies a single move, returning a new immutable Game value.
//
// Architecture:
//
// The service layer sits between the transport layer (WebSocket/HTTP/MCP) and
// the game engine. It never writes to a socket: Dispatch returns Outbound
// values and the caller delivers them once every registry lock is released.
//
// Usage:
//
//	clients := session.NewClientRegistry()
//	sessions := session.NewManager(session.NewIDGenerator(5))
//	dispatcher := service.NewDispatcher(clients, sessions, engine.NewEvaluator(), logger, nil)
//
//	for _, o := range dispatcher.Dispatch(ctx, clientID, event) {
//		clients.Send(o.Target, o.Event)
//	}
//
// Lock Ordering:
//
// When a dispatch needs both registries it always takes the client registry
// lock first and the session registry lock second.
package service
