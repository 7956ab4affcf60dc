// Package session provides the in-memory registries of the tic-tac-toe broker.
//
// The session package implements:
//   - ClientRegistry, the live connections keyed by caller-supplied id
//   - Manager, the session registry keyed by session id
//   - IDGenerator, random five-letter session ids
//
// Core Types:
//
// Manager owns every service.Session. Callers never see the underlying map:
// they mutate a session through Update or Upsert and read it through
// snapshots (Get, List, ListIDs). A session left without an active member
// at the end of Update or Upsert is removed before the lock is released.
//
// ClientRegistry owns every service.Client. Send encodes a server event and
// pushes it onto the client's outbox under the read lock.
//
// Session Identifiers:
//
// Generated ids are five uppercase letters (A-Z). Uniqueness is not
// enforced: with the default OverwriteExisting policy a colliding Create
// replaces the previous session. RejectExisting turns that into an error.
//
// Concurrency:
//
// Each registry has a single sync.RWMutex. When both are needed the client
// registry is locked first. Neither registry performs I/O while locked.
//
// Usage:
//
//	clients := session.NewClientRegistry()
//	sessions := session.NewManager(session.NewIDGenerator(session.DefaultIDLength))
//
//	id, _ := sessions.Create("")
//	sessions.Upsert(id, func(s *service.Session) error {
//		s.ClientStatus["alice"] = true
//		return nil
//	})
package session
