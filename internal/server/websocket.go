package server

import (
	"sync"
	"time"

	"prompt-master/internal/game"
	"prompt-master/internal/replica"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = time.Minute
	pingPeriod   = 30 * time.Second
	maxWSMessage = 4096
)

type wsClient struct {
	conn   *websocket.Conn
	gameID int64
	userID string
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

type wsHub struct {
	mu     sync.Mutex
	groups map[int64]map[*wsClient]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{groups: make(map[int64]map[*wsClient]struct{})}
}

func (h *wsHub) Add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[client.gameID]
	if group == nil {
		group = make(map[*wsClient]struct{})
		h.groups[client.gameID] = group
	}
	group[client] = struct{}{}
}

func (h *wsHub) Remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.close()
	group := h.groups[client.gameID]
	if group == nil {
		return
	}
	delete(group, client)
	if len(group) == 0 {
		delete(h.groups, client.gameID)
	}
}

func (h *wsHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, group := range h.groups {
		n += len(group)
	}
	return n
}

func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, group := range h.groups {
		for client := range group {
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			client.close()
		}
	}
}

// handleWebsocket streams a viewer-specific snapshot after every change the
// game's replica observes.
func (s *Server) handleWebsocket(c *gin.Context) {
	var uri gameURI
	if !bindURI(c, &uri) {
		return
	}
	viewer := identity(c).UserID
	if _, err := s.store.GetGame(c.Request.Context(), uri.ID); err != nil {
		writeError(c, err)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade failed game_id=%d error=%v", uri.ID, err)
		return
	}
	client := &wsClient{conn: conn, gameID: uri.ID, userID: viewer, done: make(chan struct{})}
	rep, release := s.replicas.Acquire(uri.ID)
	s.ws.Add(client)
	log.Infof("ws connected game_id=%d user_id=%s remote=%s", uri.ID, viewer, c.ClientIP())
	defer func() {
		s.ws.Remove(client)
		release()
	}()

	go s.readWS(client)
	s.writeWS(client, rep)
}

func (s *Server) readWS(client *wsClient) {
	defer close(client.done)
	client.conn.SetReadLimit(maxWSMessage)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			log.Debugf("ws disconnected game_id=%d user_id=%s error=%v", client.gameID, client.userID, err)
			return
		}
	}
}

func (s *Server) writeWS(client *wsClient, rep *replica.Replica) {
	updates, stop := rep.Watch()
	defer stop()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-client.done:
			return
		case state := <-updates:
			remaining := game.Remaining(state.Game, s.machine.RoundDuration(), s.now())
			payload := snapshot(state.Game, state.Participants, client.userID, remaining)
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(payload); err != nil {
				log.Debugf("ws write failed game_id=%d error=%v", client.gameID, err)
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
