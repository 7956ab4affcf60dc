package service

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrInvalidEvent is returned when an inbound frame is not a known ClientEvent
var ErrInvalidEvent = errors.New("invalid client event")

// ClientEventKind names the requests a client can send
type ClientEventKind string

const (
	EventListSessions  ClientEventKind = "ListSessions"
	EventCreateSession ClientEventKind = "CreateSession"
	EventJoinSession   ClientEventKind = "JoinSession"
	EventLeaveSession  ClientEventKind = "LeaveSession"
	EventGameEvent     ClientEventKind = "GameEvent"
)

// ClientEvent is one decoded inbound request.
//
// SessionID is set for JoinSession and Move for GameEvent.
type ClientEvent struct {
	Kind      ClientEventKind
	SessionID string
	Move      json.RawMessage
}

// ListSessions, CreateSession and LeaveSession carry no payload
func ListSessions() ClientEvent  { return ClientEvent{Kind: EventListSessions} }
func CreateSession() ClientEvent { return ClientEvent{Kind: EventCreateSession} }
func LeaveSession() ClientEvent  { return ClientEvent{Kind: EventLeaveSession} }

// JoinSession requests a seat in session id, creating it when missing
func JoinSession(id string) ClientEvent {
	return ClientEvent{Kind: EventJoinSession, SessionID: id}
}

// MakeMove wraps an evaluator move
func MakeMove(move json.RawMessage) ClientEvent {
	return ClientEvent{Kind: EventGameEvent, Move: move}
}

// DecodeClientEvent parses one text frame.
//
// Unit requests are bare strings ("ListSessions"); requests with a payload are
// single-key objects ({"JoinSession":"ABCDE"}, {"GameEvent":{...}}).
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ClientEvent{}, errors.Wrap(ErrInvalidEvent, "empty frame")
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return ClientEvent{}, errors.Mark(errors.Wrap(err, "decode event tag"), ErrInvalidEvent)
		}
		switch ClientEventKind(tag) {
		case EventListSessions, EventCreateSession, EventLeaveSession:
			return ClientEvent{Kind: ClientEventKind(tag)}, nil
		}
		return ClientEvent{}, errors.Wrapf(ErrInvalidEvent, "unknown unit event %q", tag)
	}

	var variant map[string]json.RawMessage
	if err := json.Unmarshal(data, &variant); err != nil {
		return ClientEvent{}, errors.Mark(errors.Wrap(err, "decode event"), ErrInvalidEvent)
	}
	if len(variant) != 1 {
		return ClientEvent{}, errors.Wrapf(ErrInvalidEvent, "expected one variant, got %d", len(variant))
	}

	for tag, payload := range variant {
		switch ClientEventKind(tag) {
		case EventJoinSession:
			var id string
			if err := json.Unmarshal(payload, &id); err != nil {
				return ClientEvent{}, errors.Mark(errors.Wrap(err, "decode session id"), ErrInvalidEvent)
			}
			if id == "" {
				return ClientEvent{}, errors.Wrap(ErrInvalidEvent, "empty session id")
			}
			return JoinSession(id), nil
		case EventGameEvent:
			if len(payload) == 0 || string(payload) == "null" {
				return ClientEvent{}, errors.Wrap(ErrInvalidEvent, "missing move")
			}
			return MakeMove(append(json.RawMessage(nil), payload...)), nil
		}
		return ClientEvent{}, errors.Wrapf(ErrInvalidEvent, "unknown event %q", tag)
	}
	return ClientEvent{}, ErrInvalidEvent
}

// MarshalJSON encodes the event in the form DecodeClientEvent accepts
func (e ClientEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventListSessions, EventCreateSession, EventLeaveSession:
		return json.Marshal(string(e.Kind))
	case EventJoinSession:
		return json.Marshal(map[string]string{string(e.Kind): e.SessionID})
	case EventGameEvent:
		return json.Marshal(map[string]json.RawMessage{string(e.Kind): e.Move})
	}
	return nil, errors.Wrapf(ErrInvalidEvent, "cannot encode %q", e.Kind)
}

// ServerEventKind names the messages the broker sends
type ServerEventKind string

const (
	ServerListSessions ServerEventKind = "ListSessions"
	ServerGameStart    ServerEventKind = "GameStart"
	ServerGameUpdate   ServerEventKind = "GameUpdate"
	ServerQueue        ServerEventKind = "Queue"
	ServerError        ServerEventKind = "Error"
)

// ServerEvent is one outbound message
type ServerEvent struct {
	Kind      ServerEventKind
	Sessions  []string
	State     GameSnapshot
	SessionID string
	Message   string
}

// SessionsEvent lists joinable session ids
func SessionsEvent(ids []string) ServerEvent {
	if ids == nil {
		ids = []string{}
	}
	return ServerEvent{Kind: ServerListSessions, Sessions: ids}
}

// GameStartEvent announces a filled session to both players
func GameStartEvent(state GameSnapshot) ServerEvent {
	return ServerEvent{Kind: ServerGameStart, State: state}
}

// GameUpdateEvent replicates the state after an accepted move
func GameUpdateEvent(state GameSnapshot) ServerEvent {
	return ServerEvent{Kind: ServerGameUpdate, State: state}
}

// QueueEvent tells a player it is waiting for an opponent in session id
func QueueEvent(id string) ServerEvent {
	return ServerEvent{Kind: ServerQueue, SessionID: id}
}

// ErrorEvent reports a failed request to the requester
func ErrorEvent(msg string) ServerEvent {
	return ServerEvent{Kind: ServerError, Message: msg}
}

// MarshalJSON encodes the event as a single-key object keyed by its kind
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch e.Kind {
	case ServerListSessions:
		payload = e.Sessions
		if e.Sessions == nil {
			payload = []string{}
		}
	case ServerGameStart, ServerGameUpdate:
		payload = e.State
	case ServerQueue:
		payload = e.SessionID
	case ServerError:
		payload = e.Message
	default:
		return nil, errors.Newf("unknown server event %q", e.Kind)
	}
	return json.Marshal(map[string]interface{}{string(e.Kind): payload})
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var variant map[string]json.RawMessage
	if err := json.Unmarshal(data, &variant); err != nil {
		return errors.Wrap(err, "decode server event")
	}
	if len(variant) != 1 {
		return errors.Newf("expected one variant, got %d", len(variant))
	}
	for tag, payload := range variant {
		out := ServerEvent{Kind: ServerEventKind(tag)}
		var err error
		switch out.Kind {
		case ServerListSessions:
			err = json.Unmarshal(payload, &out.Sessions)
		case ServerGameStart, ServerGameUpdate:
			err = json.Unmarshal(payload, &out.State)
		case ServerQueue:
			err = json.Unmarshal(payload, &out.SessionID)
		case ServerError:
			err = json.Unmarshal(payload, &out.Message)
		default:
			return errors.Newf("unknown server event %q", tag)
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s payload", tag)
		}
		*e = out
	}
	return nil
}

// Outbound is a server event addressed to one client
type Outbound struct {
	Target string
	Event  ServerEvent
}
