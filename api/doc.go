// Package api provides the HTTP surface of the tic-tac-toe session broker.
//
// The api package implements:
//   - WebSocket upgrade for player connections
//   - Health checks
//   - Read-only session inspection endpoints
//   - Prometheus metrics exposition
//
// Endpoints:
//
// Players:
//   - GET /api/ws/{id} - Upgrade to a WebSocket session as client {id}
//   - GET /ws/{id} - Alias of /api/ws/{id}
//
// Operations:
//   - GET /api/health - {"status":"ok","clients":N,"sessions":N}
//   - GET /api/sessions - List sessions, newest first (?order=asc, ?limit=N)
//   - GET /api/sessions/{id} - Get a single session
//   - GET /metrics - Prometheus metrics
//
// Sessions cannot be created or changed over HTTP: all game traffic goes
// through the WebSocket protocol.
//
// Usage:
//
//	server := api.NewServer(sessions, clients, wsHandler, registry, logger)
//	http.ListenAndServe(":8000", server)
//
// Error Handling:
//
// Errors are returned as JSON with appropriate HTTP status codes:
//
//	{"error": "session not found"}
package api
