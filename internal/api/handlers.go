package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/medconnect/signal-server/internal/server"
	"github.com/teris-io/shortid"
)

type PresenceResponse struct {
	UserIds []string `json:"user_ids"`
}

func (s *SignalApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SignalApp) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *SignalApp) presence(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, PresenceResponse{
		UserIds: s.ss.Presence().Snapshot(),
	})
}

func (s *SignalApp) serveWs(w http.ResponseWriter, r *http.Request) {
	// identity is optional on the signaling socket; an unverified
	// connection starts anonymous and may identify over the wire
	user, identified := SessionUser(r.Context())

	connId, err := shortid.Generate()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(connId, user, identified, conn, s.ss, s.log)

	s.ss.RegisterClient(client)
	go client.Write()
	go client.Read()
}
