package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ryusuke-Natsui/soroban-tempo/api"
	"github.com/Ryusuke-Natsui/soroban-tempo/client"
)

func newTestServer(t *testing.T) (*httptest.Server, *client.Client) {
	t.Helper()

	cfg := &Config{roomTTL: 24 * time.Hour}
	store := newRoomStore(clockwork.NewRealClock(), cfg.roomTTL, 0)
	t.Cleanup(store.teardown)

	mux := httprouter.New()
	registerRoutes(cfg, store, mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, client.New(srv.URL)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestServeTime(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/time")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var out api.TimeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.InDelta(t, time.Now().UnixMilli(), out.ServerNow, 5000)
}

func TestServeCreateRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/rooms", api.CreateRoomRequest{
		Nickname: "Alice",
		Settings: testSettings(),
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out api.CreateRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.RoomID, roomIDLength)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "/room/"+out.RoomID, out.JoinURL)
	assert.Equal(t, api.StatusWaiting, out.State.Status)
}

func TestServeCreateRoomRejectsBadSettings(t *testing.T) {
	srv, _ := newTestServer(t)

	bad := testSettings()
	bad.Seed = ""

	resp := postJSON(t, srv.URL+"/api/rooms", api.CreateRoomRequest{Settings: bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "seed required", out.Error)
}

func TestServeCreateRoomRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeRoomStateNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/NOSUCHRM")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStartErrors(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)
	joined, err := c.Join(ctx, created.RoomID, "Bob")
	require.NoError(t, err)

	serverNow, err := c.ServerNow(ctx)
	require.NoError(t, err)

	_, err = c.Start(ctx, created.RoomID, joined.SessionID, serverNow+1500)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = c.Start(ctx, created.RoomID, created.SessionID, serverNow+200)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "1000ms")
}

func TestServeResultUnknownSession(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)

	err = c.SubmitResult(ctx, created.RoomID, "bogus", "42", true)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestServeCloseThenEverythingIs404(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)
	require.NoError(t, c.CloseRoom(ctx, created.RoomID, created.SessionID))

	_, err = c.Room(ctx, created.RoomID)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Join(ctx, created.RoomID, "Bob")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestServeEventsRejectsBeforeUpgrade(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)

	_, err = c.Events(ctx, "NOSUCHRM", created.SessionID)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Events(ctx, created.RoomID, "bogus")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "unknown participant", apiErr.Message)
}

func TestServeEventsFirstFrame(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)

	stream, err := c.Events(ctx, created.RoomID, created.SessionID)
	require.NoError(t, err)
	defer stream.Close()

	select {
	case evt := <-stream.Events():
		assert.Equal(t, api.EventState, evt.Type)

		var state api.RoomState
		require.NoError(t, json.Unmarshal(evt.Data, &state))
		assert.Equal(t, created.RoomID, state.RoomID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first frame")
	}
}

func TestServeRoomQR(t *testing.T) {
	srv, c := newTestServer(t)
	ctx := context.Background()

	created, err := c.CreateRoom(ctx, "Alice", testSettings())
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/rooms/" + created.RoomID + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	resp, err = http.Get(srv.URL + "/api/rooms/NOSUCHRM/qr")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeHomePages(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/", "/room/ABCD2345"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html", path)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), path)

		resp.Body.Close()
	}
}

func TestServeHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), releaseVersion)
}

func TestServeRobots(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/robots.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "User-agent")
}
