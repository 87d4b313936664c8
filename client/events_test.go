package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

func newPushServer(t *testing.T, frames int) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < frames; i++ {
			if err := conn.WriteJSON(api.Event{Type: api.EventState, Data: []byte(`{}`)}); err != nil {
				return
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestEventStreamDeliversFrames(t *testing.T) {
	c := newPushServer(t, 3)

	stream, err := c.Events(context.Background(), "ROOM2345", "sess")
	require.NoError(t, err)
	defer stream.Close()

	for i := 0; i < 3; i++ {
		select {
		case evt, ok := <-stream.Events():
			require.True(t, ok)
			require.Equal(t, api.EventState, evt.Type)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestEventStreamCloseUnblocksAbandonedReader(t *testing.T) {
	// Push far more frames than the stream buffers so the reader is stuck
	// mid-delivery when the consumer walks away without draining.
	c := newPushServer(t, 64)

	stream, err := c.Events(context.Background(), "ROOM2345", "sess")
	require.NoError(t, err)

	select {
	case _, ok := <-stream.Events():
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first frame")
	}

	require.NoError(t, stream.Close())

	// The channel must still terminate: buffered frames drain, then it
	// closes once the reader goroutine exits.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream never terminated after close")
		}
	}
}
