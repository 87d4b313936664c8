package client

import (
	"context"
	"sync"
)

// Session tracks one participant's round-local state and enforces the
// single-shot submit guard: once a result has been accepted for a round,
// further submits are swallowed until a rematch bumps the round.
type Session struct {
	client    *Client
	roomID    string
	sessionID string

	mu        sync.Mutex
	round     int
	submitted bool
}

func NewSession(c *Client, roomID, sessionID string, round int) *Session {
	return &Session{
		client:    c,
		roomID:    roomID,
		sessionID: sessionID,
		round:     round,
	}
}

func (s *Session) SessionID() string {
	return s.sessionID
}

// ObserveRound resets the guard when a snapshot announces a new round.
func (s *Session) ObserveRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round != s.round {
		s.round = round
		s.submitted = false
	}
}

// Submit sends the result at most once per round. A repeat call in the same
// round is a no-op; a transport failure releases the guard since nothing
// reached the server.
func (s *Session) Submit(ctx context.Context, answer string, correct bool) error {
	s.mu.Lock()
	if s.submitted {
		s.mu.Unlock()
		return nil
	}
	s.submitted = true
	s.mu.Unlock()

	if err := s.client.SubmitResult(ctx, s.roomID, s.sessionID, answer, correct); err != nil {
		s.mu.Lock()
		s.submitted = false
		s.mu.Unlock()

		return err
	}

	return nil
}
