package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

// Error texts sent to clients
const (
	MsgSessionFull      = "Session is full"
	MsgInvalidSessionID = "Invalid session id"
)

// ClientStore is the client registry as used by the Dispatcher
type ClientStore interface {
	Get(id string) (Client, bool)
	Update(id string, fn func(*Client) error) error
	Remove(id string) (*Client, bool)
}

// SessionStore is the session registry as used by the Dispatcher.
//
// Update and Upsert remove the session before releasing the lock when it is
// left without an active member.
type SessionStore interface {
	Create(requestedID string) (string, error)
	Upsert(id string, fn func(*Session) error) (bool, error)
	Update(id string, fn func(*Session) error) error
	ListIDs() []string
	FindByMember(clientID string) (string, bool)
	Count() int
}

// Dispatcher applies client events to the registries
type Dispatcher struct {
	clients   ClientStore
	sessions  SessionStore
	evaluator Evaluator
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// joins orders seats so a reconnect finds the latest one
	joins atomic.Uint64
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(clients ClientStore, sessions SessionStore, evaluator Evaluator, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		clients:   clients,
		sessions:  sessions,
		evaluator: evaluator,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		metrics:   m,
	}
}

// Dispatch handles one event from sender and returns the messages to deliver.
// No registry lock is held when Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, sender string, ev ClientEvent) []Outbound {
	start := time.Now()
	defer func() {
		d.metrics.EventDispatched(string(ev.Kind), time.Since(start))
		d.metrics.SetSessions(d.sessions.Count())
	}()

	log := d.logger.With().Str("client_id", sender).Str("event", string(ev.Kind)).Logger()
	log.Debug().Msg("dispatching event")

	switch ev.Kind {
	case EventListSessions:
		return []Outbound{{Target: sender, Event: SessionsEvent(d.sessions.ListIDs())}}
	case EventCreateSession:
		return d.createSession(log, sender)
	case EventJoinSession:
		return d.joinSession(log, sender, ev.SessionID)
	case EventLeaveSession:
		d.leaveSession(log, sender)
		return nil
	case EventGameEvent:
		return d.move(log, sender, ev.Move)
	}

	log.Warn().Msg("unhandled event kind")
	d.metrics.ErrorOccurred(metrics.KindProtocol)
	return nil
}

func (d *Dispatcher) createSession(log zerolog.Logger, sender string) []Outbound {
	var out []Outbound
	err := d.clients.Update(sender, func(c *Client) error {
		id, err := d.sessions.Create("")
		if err != nil {
			return err
		}
		out, err = d.seat(c, id)
		return err
	})
	if err != nil {
		d.abandon(log, err)
		return nil
	}
	return out
}

func (d *Dispatcher) joinSession(log zerolog.Logger, sender, id string) []Outbound {
	if id == "" {
		log.Debug().Msg("join with an empty session id")
		d.metrics.ErrorOccurred(metrics.KindDomain)
		return []Outbound{{Target: sender, Event: ErrorEvent(MsgInvalidSessionID)}}
	}

	var out []Outbound
	err := d.clients.Update(sender, func(c *Client) error {
		var err error
		out, err = d.seat(c, id)
		return err
	})
	if err != nil {
		d.abandon(log, err)
		return nil
	}
	return out
}

// seat runs the join procedure for c against session id, creating the
// session when it does not exist. Called with the client lock held.
func (d *Dispatcher) seat(c *Client, id string) ([]Outbound, error) {
	previous := c.SessionID

	var out []Outbound
	_, err := d.sessions.Upsert(id, func(s *Session) error {
		out = d.admit(s, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The client moved to a new session: let go of the old one.
	if previous != "" && previous != id && c.SessionID == id {
		if err := d.sessions.Update(previous, func(s *Session) error {
			s.ClientStatus[c.ID] = false
			return nil
		}); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return out, nil
}

// admit seats c in s. Called with both locks held.
func (d *Dispatcher) admit(s *Session, c *Client) []Outbound {
	switch s.Players.Kind {
	case SlotFull:
		d.metrics.ErrorOccurred(metrics.KindDomain)
		return []Outbound{{Target: c.ID, Event: ErrorEvent(MsgSessionFull)}}

	case SlotPartial:
		waiting := *s.Players.First
		// the waiting player is never paired with itself
		if waiting.ID == c.ID {
			s.Attach(c.ID, d.joins.Add(1))
			c.SessionID = s.ID
			return []Outbound{{Target: c.ID, Event: QueueEvent(s.ID)}}
		}
		s.Players = FullPlayers(waiting, NewPlayerData(c.ID), waiting.ID)
		s.Attach(c.ID, d.joins.Add(1))
		c.SessionID = s.ID
		s.Game = d.evaluator.Initial()

		start := GameStartEvent(s.Snapshot())
		return []Outbound{
			{Target: waiting.ID, Event: start},
			{Target: c.ID, Event: start},
		}

	default:
		s.Players = PartialPlayers(NewPlayerData(c.ID))
		s.Attach(c.ID, d.joins.Add(1))
		c.SessionID = s.ID
		return []Outbound{{Target: c.ID, Event: QueueEvent(s.ID)}}
	}
}

func (d *Dispatcher) leaveSession(log zerolog.Logger, sender string) {
	err := d.clients.Update(sender, func(c *Client) error {
		if c.SessionID == "" {
			return ErrNotInSession
		}
		sessionID := c.SessionID
		c.SessionID = ""
		return d.sessions.Update(sessionID, func(s *Session) error {
			s.ClientStatus[c.ID] = false
			return nil
		})
	})
	if errors.Is(err, ErrNotInSession) {
		log.Debug().Msg("leave requested outside a session")
		return
	}
	if err != nil {
		d.abandon(log, err)
	}
}

func (d *Dispatcher) move(log zerolog.Logger, sender string, move json.RawMessage) []Outbound {
	c, ok := d.clients.Get(sender)
	if !ok {
		d.abandon(log, errors.Wrapf(ErrClientNotFound, "client %s", sender))
		return nil
	}
	if c.SessionID == "" {
		log.Debug().Msg("move outside a session ignored")
		d.metrics.MoveHandled(metrics.MoveOutOfTurn)
		return nil
	}

	var out []Outbound
	err := d.sessions.Update(c.SessionID, func(s *Session) error {
		if s.Players.Kind != SlotFull || s.Players.Active != sender || s.Game == nil {
			d.metrics.MoveHandled(metrics.MoveOutOfTurn)
			return nil
		}

		next, err := s.Game.Apply(move)
		if err != nil {
			d.metrics.MoveHandled(metrics.MoveRejected)
			d.metrics.ErrorOccurred(metrics.KindDomain)
			out = []Outbound{{Target: sender, Event: ErrorEvent(err.Error())}}
			return nil
		}

		s.Game = next
		if p, ok := next.(Positioner); ok {
			if player := s.Players.Get(sender); player != nil {
				player.CurrentPos = p.Cursor()
			}
		}
		if opponent, ok := s.Players.Opponent(sender); ok {
			s.Players.Active = opponent
		}
		d.metrics.MoveHandled(metrics.MoveAccepted)

		update := GameUpdateEvent(s.Snapshot())
		for member := range s.ClientStatus {
			out = append(out, Outbound{Target: member, Event: update})
		}
		return nil
	})
	if err != nil {
		d.abandon(log, err)
		return nil
	}
	return out
}

// Connect re-attaches a newly registered client to the session it most
// recently joined among those still listing it as a member, if any.
func (d *Dispatcher) Connect(ctx context.Context, clientID string) []Outbound {
	defer d.metrics.SetSessions(d.sessions.Count())

	log := d.logger.With().Str("client_id", clientID).Logger()

	var out []Outbound
	err := d.clients.Update(clientID, func(c *Client) error {
		sessionID, ok := d.sessions.FindByMember(clientID)
		if !ok {
			return nil
		}
		err := d.sessions.Update(sessionID, func(s *Session) error {
			s.ClientStatus[clientID] = true
			c.SessionID = s.ID
			if s.Players.Kind == SlotFull {
				out = []Outbound{{Target: clientID, Event: GameStartEvent(s.Snapshot())}}
			}
			return nil
		})
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err == nil {
			log.Info().Str("session_id", sessionID).Msg("client re-attached to session")
		}
		return err
	})
	if err != nil {
		d.abandon(log, err)
		return nil
	}
	return out
}

// Disconnect removes the client from the client registry and marks it
// inactive in its session. The session is dropped once nobody is active.
func (d *Dispatcher) Disconnect(ctx context.Context, clientID string) {
	defer d.metrics.SetSessions(d.sessions.Count())

	log := d.logger.With().Str("client_id", clientID).Logger()

	c, ok := d.clients.Remove(clientID)
	if !ok {
		return
	}
	if c.Outbox != nil {
		c.Outbox.Close()
	}
	if c.SessionID == "" {
		return
	}

	err := d.sessions.Update(c.SessionID, func(s *Session) error {
		s.ClientStatus[clientID] = false
		return nil
	})
	if err != nil {
		d.abandon(log, err)
	}
}

// abandon logs an operation that could not complete because registry state
// changed underneath it. Nothing is sent to the client.
func (d *Dispatcher) abandon(log zerolog.Logger, err error) {
	d.metrics.ErrorOccurred(metrics.KindConsistency)
	log.Warn().Err(err).Msg("operation abandoned")
}
