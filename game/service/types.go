package service

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Position is a board coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlayerData is the per-player state replicated to both participants
type PlayerData struct {
	ID         string   `json:"id"`
	CurrentPos Position `json:"current_pos"`
}

// NewPlayerData returns player data positioned at the origin
func NewPlayerData(id string) PlayerData {
	return PlayerData{ID: id}
}

// SlotKind is the fill level of a session's two player slots
type SlotKind int

const (
	SlotEmpty SlotKind = iota
	SlotPartial
	SlotFull
)

func (k SlotKind) String() string {
	switch k {
	case SlotPartial:
		return "Partial"
	case SlotFull:
		return "Full"
	default:
		return "Empty"
	}
}

// Players holds the seated players of a session.
//
// Partial uses First only. Full uses First, Second and Active, where Active is
// the id of the player allowed to move next.
type Players struct {
	Kind   SlotKind
	First  *PlayerData
	Second *PlayerData
	Active string
}

// EmptyPlayers returns the slot state of a session nobody has joined
func EmptyPlayers() Players {
	return Players{Kind: SlotEmpty}
}

// PartialPlayers returns the slot state of a session with one waiting player
func PartialPlayers(waiting PlayerData) Players {
	return Players{Kind: SlotPartial, First: &waiting}
}

// FullPlayers returns the slot state of a running match
func FullPlayers(first, second PlayerData, active string) Players {
	return Players{Kind: SlotFull, First: &first, Second: &second, Active: active}
}

// Contains reports whether id occupies one of the slots
func (p Players) Contains(id string) bool {
	return p.Get(id) != nil
}

// Get returns the slot held by id, or nil
func (p Players) Get(id string) *PlayerData {
	if p.First != nil && p.First.ID == id {
		return p.First
	}
	if p.Kind == SlotFull && p.Second != nil && p.Second.ID == id {
		return p.Second
	}
	return nil
}

// Opponent returns the id of the other seated player in a full session
func (p Players) Opponent(id string) (string, bool) {
	if p.Kind != SlotFull {
		return "", false
	}
	switch id {
	case p.First.ID:
		return p.Second.ID, true
	case p.Second.ID:
		return p.First.ID, true
	}
	return "", false
}

// IDs returns the ids of the seated players in seat order
func (p Players) IDs() []string {
	switch p.Kind {
	case SlotPartial:
		return []string{p.First.ID}
	case SlotFull:
		return []string{p.First.ID, p.Second.ID}
	}
	return nil
}

// clone copies the slot data so snapshots do not alias registry state
func (p Players) clone() Players {
	out := Players{Kind: p.Kind, Active: p.Active}
	if p.First != nil {
		first := *p.First
		out.First = &first
	}
	if p.Second != nil {
		second := *p.Second
		out.Second = &second
	}
	return out
}

// MarshalJSON encodes the slots as "Empty", {"Partial":player} or
// {"Full":[player,player,"activeID"]}.
func (p Players) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case SlotPartial:
		if p.First == nil {
			return nil, errors.New("partial players without a waiting player")
		}
		return json.Marshal(map[string]PlayerData{"Partial": *p.First})
	case SlotFull:
		if p.First == nil || p.Second == nil {
			return nil, errors.New("full players with an empty slot")
		}
		return json.Marshal(map[string][]interface{}{"Full": {*p.First, *p.Second, p.Active}})
	default:
		return []byte(`"Empty"`), nil
	}
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON
func (p *Players) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
		if tag != "Empty" {
			return errors.Newf("unknown players variant %q", tag)
		}
		*p = EmptyPlayers()
		return nil
	}

	var variant map[string]json.RawMessage
	if err := json.Unmarshal(data, &variant); err != nil {
		return errors.Wrap(err, "decode players")
	}
	if raw, ok := variant["Partial"]; ok {
		var waiting PlayerData
		if err := json.Unmarshal(raw, &waiting); err != nil {
			return errors.Wrap(err, "decode partial players")
		}
		*p = PartialPlayers(waiting)
		return nil
	}
	if raw, ok := variant["Full"]; ok {
		var tuple []json.RawMessage
		if err := json.Unmarshal(raw, &tuple); err != nil {
			return errors.Wrap(err, "decode full players")
		}
		if len(tuple) != 3 {
			return errors.Newf("full players: expected 3 elements, got %d", len(tuple))
		}
		var first, second PlayerData
		var active string
		if err := json.Unmarshal(tuple[0], &first); err != nil {
			return err
		}
		if err := json.Unmarshal(tuple[1], &second); err != nil {
			return err
		}
		if err := json.Unmarshal(tuple[2], &active); err != nil {
			return err
		}
		*p = FullPlayers(first, second, active)
		return nil
	}
	return errors.New("unknown players variant")
}

// Outbox is the outbound message queue of one connection.
// Push never blocks; it reports false once the queue is closed.
type Outbox interface {
	Push(msg []byte) bool
	Close()
}

// Client is a live connection as seen by the registries
type Client struct {
	ID string
	// SessionID is empty while the client is not in a session.
	SessionID string
	Outbox    Outbox
}

// Session is one match between at most two players.
//
// ClientStatus maps every member id to whether that member is currently
// connected to the session.
type Session struct {
	ID           string
	ClientStatus map[string]bool
	Players      Players
	Game         Game
	CreatedAt    time.Time

	// joined holds the join sequence number of each member's latest seat
	joined map[string]uint64
}

// NewSession returns an empty session with no members
func NewSession(id string) *Session {
	return &Session{
		ID:           id,
		ClientStatus: make(map[string]bool),
		Players:      EmptyPlayers(),
		CreatedAt:    time.Now(),
	}
}

// Attach marks clientID as an active member seated at join sequence seq
func (s *Session) Attach(clientID string, seq uint64) {
	if s.joined == nil {
		s.joined = make(map[string]uint64)
	}
	s.ClientStatus[clientID] = true
	s.joined[clientID] = seq
}

// JoinedAt returns the join sequence of clientID's latest seat, and whether
// clientID is a member at all
func (s *Session) JoinedAt(clientID string) (uint64, bool) {
	if _, ok := s.ClientStatus[clientID]; !ok {
		return 0, false
	}
	return s.joined[clientID], true
}

// HasActiveMember reports whether any member is marked active
func (s *Session) HasActiveMember() bool {
	for _, active := range s.ClientStatus {
		if active {
			return true
		}
	}
	return false
}

// Snapshot captures the replicated state of the session
func (s *Session) Snapshot() GameSnapshot {
	return GameSnapshot{Players: s.Players.clone(), Game: s.Game}
}

// Info returns a read-only view of the session for inspection endpoints
func (s *Session) Info() SessionInfo {
	members := make(map[string]bool, len(s.ClientStatus))
	for id, active := range s.ClientStatus {
		members[id] = active
	}
	return SessionInfo{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Members:   members,
		State:     s.Snapshot(),
	}
}

// GameSnapshot is the replicated state sent with GameStart and GameUpdate.
type GameSnapshot struct {
	Players Players
	Game    Game
	// RawGame holds the undecoded game when a snapshot is read back from JSON.
	RawGame json.RawMessage
}

type snapshotWire struct {
	Players Players         `json:"players"`
	Game    json.RawMessage `json:"game"`
}

func (g GameSnapshot) MarshalJSON() ([]byte, error) {
	wire := snapshotWire{Players: g.Players, Game: g.RawGame}
	if g.Game != nil {
		raw, err := json.Marshal(g.Game)
		if err != nil {
			return nil, errors.Wrap(err, "encode game")
		}
		wire.Game = raw
	}
	if wire.Game == nil {
		wire.Game = json.RawMessage("null")
	}
	return json.Marshal(wire)
}

func (g *GameSnapshot) UnmarshalJSON(data []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	g.Players = wire.Players
	g.Game = nil
	g.RawGame = nil
	if len(wire.Game) > 0 && string(wire.Game) != "null" {
		g.RawGame = wire.Game
	}
	return nil
}

// SessionInfo provides information about a session for the HTTP and MCP surfaces
type SessionInfo struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Members   map[string]bool `json:"members"`
	State     GameSnapshot    `json:"state"`
}
