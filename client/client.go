// Package client implements the room protocol from the participant's side:
// the REST mutations, the live event stream, clock sampling, and the
// fixed-tempo playback runner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Ryusuke-Natsui/soroban-tempo/anzan"
	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

// Client talks to one server. It also serves as the probe source for
// timesync.Sampler via ServerNow.
type Client struct {
	base string
	http *http.Client
}

func New(base string) *Client {
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{},
	}
}

// ServerNow fetches the server's current instant in epoch milliseconds.
func (c *Client) ServerNow(ctx context.Context) (int64, error) {
	var out api.TimeResponse
	if err := c.do(ctx, http.MethodGet, "/api/time", nil, &out); err != nil {
		return 0, err
	}

	return out.ServerNow, nil
}

func (c *Client) CreateRoom(ctx context.Context, nickname string, settings anzan.Settings) (*api.CreateRoomResponse, error) {
	var out api.CreateRoomResponse
	req := api.CreateRoomRequest{Nickname: nickname, Settings: settings}
	if err := c.do(ctx, http.MethodPost, "/api/rooms", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Room(ctx context.Context, roomID string) (*api.RoomState, error) {
	var out api.RoomState
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+roomID, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Join(ctx context.Context, roomID, nickname string) (*api.JoinResponse, error) {
	var out api.JoinResponse
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/join", api.JoinRequest{Nickname: nickname}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Start(ctx context.Context, roomID, sessionID string, startAt int64) (*api.RoomState, error) {
	var out api.RoomState
	req := api.StartRequest{SessionID: sessionID, StartAt: startAt}
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/start", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) SubmitResult(ctx context.Context, roomID, sessionID, answer string, correct bool) error {
	req := api.ResultRequest{SessionID: sessionID, Answer: answer, Correct: correct}

	return c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/result", req, nil)
}

func (c *Client) Rematch(ctx context.Context, roomID, sessionID string) (*api.RoomState, error) {
	var out api.RoomState
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/rematch", api.SessionRequest{SessionID: sessionID}, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) CloseRoom(ctx context.Context, roomID, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/close", api.SessionRequest{SessionID: sessionID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var body api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			body.Error = resp.Status
		}

		return &api.Error{Status: resp.StatusCode, Message: body.Error}
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// EventStream is one live subscription to a room. Its channel closes when
// the connection drops or the room is closed; without a preceding closed
// snapshot consumers must still treat that as closure.
type EventStream struct {
	conn   *websocket.Conn
	events chan api.Event
	done   chan struct{}
	once   sync.Once
}

// Events subscribes to a room's push stream. The first frame is always a
// full state snapshot.
func (c *Client) Events(ctx context.Context, roomID, sessionID string) (*EventStream, error) {
	wsBase := c.base
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	url := fmt.Sprintf("%s/api/rooms/%s/events?sessionId=%s", wsBase, roomID, sessionID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var body api.ErrorResponse
			if jerr := json.NewDecoder(resp.Body).Decode(&body); jerr == nil && body.Error != "" {
				return nil, &api.Error{Status: resp.StatusCode, Message: body.Error}
			}
			return nil, &api.Error{Status: resp.StatusCode, Message: resp.Status}
		}

		return nil, err
	}

	s := &EventStream{
		conn:   conn,
		events: make(chan api.Event, 8),
		done:   make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

func (s *EventStream) readLoop() {
	defer close(s.events)

	for {
		var evt api.Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			return
		}

		// Closing the connection only interrupts the read; done frees a
		// delivery stalled on a consumer that stopped draining.
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

// Events yields frames until the stream ends.
func (s *EventStream) Events() <-chan api.Event {
	return s.events
}

func (s *EventStream) Close() error {
	s.once.Do(func() { close(s.done) })

	return s.conn.Close()
}
