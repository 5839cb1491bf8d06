package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"dreamteam/internal/market"
)

const liveWriteTimeout = 10 * time.Second

type liveFrame struct {
	Offers []market.Offer `json:"offers"`
	At     time.Time      `json:"at"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(s.cfg.CORSOrigins, "*") {
				return true
			}
			return slices.Contains(s.cfg.CORSOrigins, origin)
		},
	}
}

// handleMarketLive streams the transfer list. A frame goes out on connect
// and then whenever a poll sees the list change.
func (s *Server) handleMarketLive(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("live upgrade failed", "user_id", user.ID, "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("live reader closed", "user_id", user.ID, "err", err)
				}
				return
			}
		}
	}()

	ctx := r.Context()
	ticker := time.NewTicker(s.cfg.LiveEvery)
	defer ticker.Stop()

	var last []byte
	for {
		offers, err := s.market.Offers(ctx)
		if err != nil {
			s.log.Error("live offers failed", "user_id", user.ID, "err", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "offers unavailable"),
				time.Now().Add(liveWriteTimeout))
			return
		}
		snapshot, err := json.Marshal(offers)
		if err != nil {
			s.log.Error("live encode failed", "err", err)
			return
		}
		if !bytes.Equal(snapshot, last) {
			last = snapshot
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(liveFrame{Offers: offers, At: time.Now().UTC()}); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
