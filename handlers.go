package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/Ryusuke-Natsui/soroban-tempo/api"
)

const maxBodySize = 1 << 20

func writeJSON(cfg *Config, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func apiError(cfg *Config, w http.ResponseWriter, err error) {
	writeJSON(cfg, w, statusFor(err), api.ErrorResponse{Error: err.Error()})
}

// decodeBody parses a JSON body into dst. An empty body decodes to the zero
// value, matching clients that omit optional fields entirely.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}

	return nil
}

// serveTime is the clock probe endpoint: a pure, immediate reply with the
// server's current instant. No auth, no body.
func serveTime(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, api.TimeResponse{ServerNow: store.now()})
	}
}

func serveCreateRoom(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.CreateRoomRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		sessionID, state, err := store.createRoom(req.Nickname, req.Settings)
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusCreated, api.CreateRoomResponse{
			RoomID:    state.RoomID,
			SessionID: sessionID,
			JoinURL:   cfg.prefix + "/room/" + state.RoomID,
			State:     state,
		})
	}
}

func serveRoomState(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		state, err := store.snapshot(ps.ByName("roomid"))
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, state)
	}
}

func serveJoinRoom(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req api.JoinRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		sessionID, state, err := store.join(ps.ByName("roomid"), req.Nickname)
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, api.JoinResponse{SessionID: sessionID, State: state})
	}
}

func serveStartRoom(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req api.StartRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		state, err := store.start(ps.ByName("roomid"), req.SessionID, req.StartAt)
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, state)
	}
}

func serveSubmitResult(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req api.ResultRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		if _, err := store.submitResult(ps.ByName("roomid"), req.SessionID, req.Answer, req.Correct); err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, api.OKResponse{OK: true})
	}
}

func serveRematchRoom(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req api.SessionRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		state, err := store.rematch(ps.ByName("roomid"), req.SessionID)
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, state)
	}
}

func serveCloseRoom(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req api.SessionRequest
		if err := decodeBody(w, r, &req); err != nil {
			apiError(cfg, w, err)
			return
		}

		if err := store.closeRoom(ps.ByName("roomid"), req.SessionID); err != nil {
			apiError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, api.OKResponse{OK: true})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveEvents is the long-lived push stream. Membership is checked before
// the upgrade so rejections surface as plain 403/404 responses; afterwards
// the subscriber channel feeds the socket until either side goes away.
func serveEvents(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		sessionID := r.URL.Query().Get("sessionId")

		sub, err := store.subscribe(roomID, sessionID)
		if err != nil {
			apiError(cfg, w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			store.unsubscribe(roomID, sub)
			log.Debug().Err(err).Msg("upgrade error")
			return
		}

		go writePump(conn, sub)

		// Inbound frames are ignored; reading only detects disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		store.unsubscribe(roomID, sub)
		_ = conn.Close()
	}
}

func writePump(conn *websocket.Conn, sub *subscriber) {
	defer conn.Close()

	for evt := range sub.send {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}

	// Channel closed by the hub: the room is gone. Say goodbye properly so
	// clients can distinguish closure from a network drop, though they must
	// treat both the same.
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// serveRoomQR renders the join URL as a PNG QR code for sharing.
func serveRoomQR(cfg *Config, store *roomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		if _, err := store.snapshot(roomID); err != nil {
			apiError(cfg, w, err)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/room/" + roomID

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerAPI wires every protocol endpoint under prefix/api.
func registerAPI(cfg *Config, store *roomStore, mux *httprouter.Router) {
	prefix := strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(prefix+"/api/time", serveTime(cfg, store))
	mux.POST(prefix+"/api/rooms", serveCreateRoom(cfg, store))
	mux.GET(prefix+"/api/rooms/:roomid", serveRoomState(cfg, store))
	mux.POST(prefix+"/api/rooms/:roomid/join", serveJoinRoom(cfg, store))
	mux.POST(prefix+"/api/rooms/:roomid/start", serveStartRoom(cfg, store))
	mux.POST(prefix+"/api/rooms/:roomid/result", serveSubmitResult(cfg, store))
	mux.POST(prefix+"/api/rooms/:roomid/rematch", serveRematchRoom(cfg, store))
	mux.POST(prefix+"/api/rooms/:roomid/close", serveCloseRoom(cfg, store))
	mux.GET(prefix+"/api/rooms/:roomid/events", serveEvents(cfg, store))
	mux.GET(prefix+"/api/rooms/:roomid/qr", serveRoomQR(cfg, store))
}
