// Package api defines the wire types shared by the server and the Go
// client: the room snapshot, the tagged event frames pushed on the room
// stream, and the request/response bodies of every endpoint.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/Ryusuke-Natsui/soroban-tempo/anzan"
)

// Room lifecycle states. Transitions are waiting→scheduled→waiting (rematch)
// or any non-closed state→closed (terminal).
const (
	StatusWaiting   = "waiting"
	StatusScheduled = "scheduled"
	StatusClosed    = "closed"
)

// Event types pushed on the room stream. The first frame after subscribing
// is always a full state snapshot.
const (
	EventState          = "state"
	EventStartScheduled = "start_scheduled"
)

// Event is one tagged frame on the room stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StartScheduled is the delta event announcing an agreed start instant. It,
// not the accompanying snapshot, is the client's trigger to resync its clock
// and schedule playback.
type StartScheduled struct {
	StartAt int64 `json:"startAt"`
	Round   int   `json:"round"`
}

// Participant is one session's public view within a room.
type Participant struct {
	SessionID  string  `json:"sessionId"`
	Nickname   string  `json:"nickname"`
	JoinedAt   int64   `json:"joinedAt"`
	IsHost     bool    `json:"isHost"`
	LastResult *Result `json:"lastResult"`
}

// Result is one submitted answer. The answer is kept as the exact string the
// user typed; the correctness flag is computed client-side and stored as
// submitted.
type Result struct {
	SessionID   string `json:"sessionId"`
	Nickname    string `json:"nickname"`
	Answer      string `json:"answer"`
	Correct     bool   `json:"correct"`
	SubmittedAt int64  `json:"submittedAt"`
	Round       int    `json:"round"`
}

// RoomState is the full snapshot sent on subscribe and after every mutation;
// it superset-replaces whatever the client has cached.
type RoomState struct {
	RoomID        string         `json:"roomId"`
	HostSessionID string         `json:"hostSessionId"`
	CreatedAt     int64          `json:"createdAt"`
	ExpiresAt     int64          `json:"expiresAt"`
	ClosedAt      *int64         `json:"closedAt"`
	Settings      anzan.Settings `json:"settings"`
	Status        string         `json:"status"`
	Round         int            `json:"round"`
	Participants  []Participant  `json:"participants"`
	Results       []Result       `json:"results"`
}

type CreateRoomRequest struct {
	Nickname string         `json:"nickname"`
	Settings anzan.Settings `json:"settings"`
}

type CreateRoomResponse struct {
	RoomID    string    `json:"roomId"`
	SessionID string    `json:"sessionId"`
	JoinURL   string    `json:"joinUrl"`
	State     RoomState `json:"state"`
}

type JoinRequest struct {
	Nickname string `json:"nickname"`
}

type JoinResponse struct {
	SessionID string    `json:"sessionId"`
	State     RoomState `json:"state"`
}

type StartRequest struct {
	SessionID string `json:"sessionId"`
	StartAt   int64  `json:"startAt"`
}

type ResultRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	Correct   bool   `json:"correct"`
}

// SessionRequest covers the host-only bodies (rematch, close).
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type TimeResponse struct {
	ServerNow int64 `json:"serverNow"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Error is a non-2xx reply as seen by a client.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}
