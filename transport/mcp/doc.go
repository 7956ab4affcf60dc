// Package mcp provides a Model Context Protocol server for operating the
// tic-tac-toe session broker.
//
// The mcp package implements:
//   - MCP tools backed by the broker's read-only REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//   - server_health: Live connection and session counts
//   - list_sessions: Sessions with members and slot state
//   - get_session: One session, with the board of a running match
//
// The tools only observe. Players still join and move over WebSocket.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8000")
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	http.Handle("/mcp", client.HTTPHandler())
package mcp
