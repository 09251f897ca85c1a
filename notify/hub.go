// notify/hub.go
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/timer"
)

// idleHeartbeats is how many heartbeat intervals a silent session survives.
const idleHeartbeats = 3

// Hub pushes notifications to the websocket sessions of a player.
type Hub struct {
	upgrader  websocket.Upgrader
	sessions  *Manager
	heartbeat time.Duration
	timers    *timer.TimerManager
}

// NewHub evicts sessions silent for idleHeartbeats intervals when heartbeat
// is positive.
func NewHub(heartbeat time.Duration) *Hub {
	h := &Hub{
		sessions:  NewManager(),
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	if heartbeat > 0 {
		h.timers = timer.NewTimerManager(0)
		h.timers.AddTimer(heartbeat, heartbeat, h.evictIdle)
	}
	return h
}

func (h *Hub) evictIdle() {
	limit := time.Duration(idleHeartbeats) * h.heartbeat
	for _, s := range h.sessions.All() {
		if time.Since(s.LastActive()) > limit {
			logger.Log.Infof("Evicting idle session %s of %s", s.ID, s.UserID)
			h.sessions.Remove(s.ID)
			s.Close()
		}
	}
}

func msgIDFor(t Type) uint16 {
	if t == TypeNumbersReady {
		return MsgTypeNumbersReady
	}
	return MsgTypeGameResult
}

func (h *Hub) Notify(ctx context.Context, n Notification) error {
	sessions := h.sessions.GetByUserID(n.UserID)
	if len(sessions) == 0 {
		return ErrNoRecipient
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	delivered := 0
	for _, s := range sessions {
		if err := s.Send(msgIDFor(n.Type), data); err != nil {
			logger.Log.Warnf("push to session %s failed: %v", s.ID, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return ErrDelivery
	}
	return nil
}

// Online is the number of connected sessions.
func (h *Hub) Online() int {
	return h.sessions.Count()
}

// ServeWS upgrades the request and keeps the session registered for userID
// until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	wsConn := NewWSConnection(conn)
	if h.heartbeat > 0 {
		wsConn.SetHeartbeat(h.heartbeat)
	}
	sess := NewSession(uuid.New().String(), userID, wsConn)
	h.sessions.Add(sess)

	logger.Log.Infof("New connection from %s, user %s, session ID: %s", wsConn.RemoteAddr(), userID, sess.ID)

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.ID)
		h.sessions.Remove(sess.ID)
		wsConn.Close()
	}()

	for {
		packet, err := wsConn.ReadPacket()
		if err != nil {
			return
		}
		switch packet.MsgID {
		case MsgTypeHeartbeat:
			sess.Touch()
			if err := sess.Send(MsgTypeHeartbeat, nil); err != nil {
				return
			}
		default:
			logger.Log.Debugf("Unknown message type: %d", packet.MsgID)
		}
	}
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	if h.timers != nil {
		h.timers.Stop()
	}
	for _, s := range h.sessions.All() {
		s.Close()
	}
}
