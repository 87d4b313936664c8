package main

import (
	"strings"
	"sync"
	"time"

	"github.com/Ryusuke-Natsui/soroban-tempo/anzan"
	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

const maxNicknameLength = 10

// room is the unit of coordination: one immutable host session, any number
// of guests, a seed+settings pair that every participant generates from, and
// the subscriber set fed by the hub. All mutation happens with mu held; the
// store exclusively owns room values.
type room struct {
	mu sync.Mutex

	id            string
	hostSessionID string
	createdAt     int64
	closedAt      *int64
	status        string
	round         int
	settings      anzan.Settings

	order        []string
	participants map[string]*participant
	results      []api.Result
	subscribers  map[string]*subscriber
}

type participant struct {
	sessionID  string
	nickname   string
	joinedAt   int64
	lastResult *api.Result
}

// closed reports whether the room has reached its terminal state. Callers
// hold mu.
func (r *room) closed() bool {
	return r.closedAt != nil
}

// stateLocked builds the full snapshot pushed to clients, participants in
// join order. Callers hold mu.
func (r *room) stateLocked(ttl time.Duration) api.RoomState {
	parts := make([]api.Participant, 0, len(r.order))
	for _, sid := range r.order {
		p := r.participants[sid]
		parts = append(parts, api.Participant{
			SessionID:  p.sessionID,
			Nickname:   p.nickname,
			JoinedAt:   p.joinedAt,
			IsHost:     p.sessionID == r.hostSessionID,
			LastResult: p.lastResult,
		})
	}

	results := make([]api.Result, len(r.results))
	copy(results, r.results)

	return api.RoomState{
		RoomID:        r.id,
		HostSessionID: r.hostSessionID,
		CreatedAt:     r.createdAt,
		ExpiresAt:     r.createdAt + ttl.Milliseconds(),
		ClosedAt:      r.closedAt,
		Settings:      r.settings,
		Status:        r.status,
		Round:         r.round,
		Participants:  parts,
		Results:       results,
	}
}

// clearResultsLocked wipes the scoreboard and every participant's last
// result; stale-round results are superseded wholesale, never merged.
func (r *room) clearResultsLocked() {
	r.results = nil
	for _, p := range r.participants {
		p.lastResult = nil
	}
}

func sanitizeNickname(v, fallback string) string {
	v = strings.TrimSpace(v)
	if runes := []rune(v); len(runes) > maxNicknameLength {
		v = string(runes[:maxNicknameLength])
	}
	if v == "" {
		return fallback
	}

	return v
}
