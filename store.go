package main

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Ryusuke-Natsui/soroban-tempo/anzan"
	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

// No ambiguous characters, so room IDs stay human-typeable.
const roomIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomIDLength = 8

// roomStore owns every live room. Lookups take the store lock; mutation is
// serialized by the per-room mutex, so no two operations on the same room
// interleave while different rooms proceed independently. The reaper takes
// the same per-room lock before deleting, so an in-flight mutation never
// observes a half-deleted room.
type roomStore struct {
	mu    sync.RWMutex
	rooms map[string]*room

	clock clockwork.Clock
	ttl   time.Duration
	done  chan struct{}
}

func newRoomStore(clock clockwork.Clock, ttl, reapInterval time.Duration) *roomStore {
	s := &roomStore{
		rooms: make(map[string]*room),
		clock: clock,
		ttl:   ttl,
		done:  make(chan struct{}),
	}

	if reapInterval > 0 {
		go s.reaperLoop(reapInterval)
	}

	return s
}

// teardown stops the reaper and releases every subscriber channel.
func (s *roomStore) teardown() {
	close(s.done)

	s.mu.Lock()
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.rooms = make(map[string]*room)
	s.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.closeSubscribersLocked()
		r.mu.Unlock()
	}
}

// now is the server clock in epoch milliseconds, the unit used throughout
// the protocol.
func (s *roomStore) now() int64 {
	return s.clock.Now().UnixMilli()
}

// newRoomID generates a short crypto-random identifier, collision-checked
// against the live set.
func (s *roomStore) newRoomID() string {
	for {
		buf := make([]byte, roomIDLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, roomIDLength)
		for i := range out {
			out[i] = roomIDAlphabet[int(buf[i])%len(roomIDAlphabet)]
		}
		id := string(out)

		s.mu.RLock()
		_, exists := s.rooms[id]
		s.mu.RUnlock()

		if !exists {
			return id
		}
	}
}

func (s *roomStore) get(id string) (*room, error) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()

	if !ok {
		return nil, errRoomNotFound
	}

	return r, nil
}

// createRoom validates the settings, mints the room and the host's session
// token, and registers the room.
func (s *roomStore) createRoom(nickname string, settings anzan.Settings) (string, api.RoomState, error) {
	if err := settings.Validate(); err != nil {
		return "", api.RoomState{}, err
	}
	// startAt is only ever assigned by a start call.
	settings.StartAt = nil

	id := s.newRoomID()
	sessionID := uuid.NewString()
	now := s.now()

	r := &room{
		id:            id,
		hostSessionID: sessionID,
		createdAt:     now,
		status:        api.StatusWaiting,
		round:         1,
		settings:      settings,
		order:         []string{sessionID},
		participants: map[string]*participant{
			sessionID: {
				sessionID: sessionID,
				nickname:  sanitizeNickname(nickname, "Host"),
				joinedAt:  now,
			},
		},
		subscribers: make(map[string]*subscriber),
	}

	s.mu.Lock()
	s.rooms[id] = r
	s.mu.Unlock()

	log.Debug().Str("room", id).Msg("created room")

	r.mu.Lock()
	defer r.mu.Unlock()

	return sessionID, r.stateLocked(s.ttl), nil
}

func (s *roomStore) snapshot(id string) (api.RoomState, error) {
	r, err := s.get(id)
	if err != nil {
		return api.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return api.RoomState{}, errRoomNotFound
	}

	return r.stateLocked(s.ttl), nil
}

// join issues a fresh session token. Nicknames may duplicate; there is no
// identity beyond the token.
func (s *roomStore) join(id, nickname string) (string, api.RoomState, error) {
	r, err := s.get(id)
	if err != nil {
		return "", api.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return "", api.RoomState{}, errRoomNotFound
	}

	sessionID := uuid.NewString()
	r.participants[sessionID] = &participant{
		sessionID: sessionID,
		nickname:  sanitizeNickname(nickname, "Guest"),
		joinedAt:  s.now(),
	}
	r.order = append(r.order, sessionID)

	state := r.stateLocked(s.ttl)
	r.publishLocked(api.EventState, state)

	log.Debug().Str("room", id).Msg("participant joined")

	return sessionID, state, nil
}

// start schedules the synchronized start. The instant must be at least one
// second out so every client has time to resync; prior results are cleared.
// The snapshot goes out first, then the start_scheduled delta that clients
// treat as the authoritative trigger.
func (s *roomStore) start(id, sessionID string, startAt int64) (api.RoomState, error) {
	r, err := s.get(id)
	if err != nil {
		return api.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return api.RoomState{}, errRoomNotFound
	}
	if sessionID != r.hostSessionID {
		return api.RoomState{}, errHostOnly
	}
	if startAt < s.now()+1000 {
		return api.RoomState{}, errStartTooSoon
	}

	r.status = api.StatusScheduled
	at := startAt
	r.settings.StartAt = &at
	r.clearResultsLocked()

	state := r.stateLocked(s.ttl)
	r.publishLocked(api.EventState, state)
	r.publishLocked(api.EventStartScheduled, api.StartScheduled{StartAt: startAt, Round: r.round})

	log.Debug().Str("room", id).Int64("startAt", startAt).Msg("start scheduled")

	return state, nil
}

// submitResult upserts the session's result: at most one per session, with a
// later submission in the same round replacing the earlier one. Accepted in
// any non-closed status, since clients submit when their local presentation
// ends.
func (s *roomStore) submitResult(id, sessionID, answer string, correct bool) (api.RoomState, error) {
	r, err := s.get(id)
	if err != nil {
		return api.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return api.RoomState{}, errRoomNotFound
	}

	p, ok := r.participants[sessionID]
	if !ok {
		return api.RoomState{}, errUnknownParticipant
	}

	entry := api.Result{
		SessionID:   sessionID,
		Nickname:    p.nickname,
		Answer:      answer,
		Correct:     correct,
		SubmittedAt: s.now(),
		Round:       r.round,
	}
	p.lastResult = &entry

	replaced := false
	for i := range r.results {
		if r.results[i].SessionID == sessionID {
			r.results[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		r.results = append(r.results, entry)
	}

	state := r.stateLocked(s.ttl)
	r.publishLocked(api.EventState, state)

	return state, nil
}

// rematch returns a scheduled room to waiting for another round: the round
// counter bumps, startAt and all results are cleared.
func (s *roomStore) rematch(id, sessionID string) (api.RoomState, error) {
	r, err := s.get(id)
	if err != nil {
		return api.RoomState{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return api.RoomState{}, errRoomNotFound
	}
	if sessionID != r.hostSessionID {
		return api.RoomState{}, errHostOnly
	}

	r.status = api.StatusWaiting
	r.round++
	r.settings.StartAt = nil
	r.clearResultsLocked()

	state := r.stateLocked(s.ttl)
	r.publishLocked(api.EventState, state)

	return state, nil
}

// closeRoom marks the room terminal, pushes the final snapshot, then
// terminates every subscriber channel.
func (s *roomStore) closeRoom(id, sessionID string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return errRoomNotFound
	}
	if sessionID != r.hostSessionID {
		return errHostOnly
	}

	now := s.now()
	r.closedAt = &now
	r.status = api.StatusClosed

	r.publishLocked(api.EventState, r.stateLocked(s.ttl))
	r.closeSubscribersLocked()

	log.Debug().Str("room", id).Msg("closed room")

	return nil
}

func (s *roomStore) reaperLoop(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.reapExpired()
		}
	}
}

// reapExpired deletes rooms past their TTL or already closed, releasing all
// subscriber handles.
func (s *roomStore) reapExpired() {
	threshold := s.now() - s.ttl.Milliseconds()

	s.mu.RLock()
	candidates := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		candidates = append(candidates, r)
	}
	s.mu.RUnlock()

	for _, r := range candidates {
		r.mu.Lock()
		expired := r.createdAt < threshold || r.closed()
		if expired {
			r.closeSubscribersLocked()
		}
		r.mu.Unlock()

		if expired {
			s.mu.Lock()
			delete(s.rooms, r.id)
			s.mu.Unlock()

			log.Debug().Str("room", r.id).Msg("reaped room")
		}
	}
}
