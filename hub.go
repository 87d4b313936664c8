package main

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

const subscriberBuffer = 8

// subscriber is one open push channel. The hub is pure fan-out: it holds no
// business logic and validates nothing beyond participant membership.
type subscriber struct {
	sessionID string
	send      chan api.Event
}

// publishLocked fans one tagged event out to every open channel. Writes are
// fire-and-forget: a full buffer means a slow or dead consumer, which gets
// pruned instead of stalling the room's next mutation. Callers hold r.mu.
func (r *room) publishLocked(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("marshal event")
		return
	}

	evt := api.Event{Type: eventType, Data: data}
	for sid, sub := range r.subscribers {
		select {
		case sub.send <- evt:
		default:
			delete(r.subscribers, sid)
			close(sub.send)
		}
	}
}

// closeSubscribersLocked terminates every open channel; used when the room
// closes or is reaped. Callers hold r.mu.
func (r *room) closeSubscribersLocked() {
	for sid, sub := range r.subscribers {
		delete(r.subscribers, sid)
		close(sub.send)
	}
}

// subscribe registers a push channel for a known participant, with the full
// snapshot queued as the first frame. A session resubscribing replaces (and
// closes) its previous channel.
func (s *roomStore) subscribe(id, sessionID string) (*subscriber, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return nil, errRoomNotFound
	}
	if _, ok := r.participants[sessionID]; !ok {
		return nil, errUnknownParticipant
	}

	if old, ok := r.subscribers[sessionID]; ok {
		delete(r.subscribers, sessionID)
		close(old.send)
	}

	sub := &subscriber{
		sessionID: sessionID,
		send:      make(chan api.Event, subscriberBuffer),
	}

	data, err := json.Marshal(r.stateLocked(s.ttl))
	if err != nil {
		return nil, err
	}
	sub.send <- api.Event{Type: api.EventState, Data: data}

	r.subscribers[sessionID] = sub

	return sub, nil
}

// unsubscribe drops the channel when the connection goes away. Disconnects
// are normal events; the participant entry itself stays.
func (s *roomStore) unsubscribe(id string, sub *subscriber) {
	r, err := s.get(id)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.subscribers[sub.sessionID]; ok && cur == sub {
		delete(r.subscribers, sub.sessionID)
		close(sub.send)
	}
}
