package handlers

import (
	"context"
	"net/http"
	"time"

	"forum/internal/reconcile"
	"forum/internal/svc"
	"forum/internal/thread"
	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	snapshotTimeout = 10 * time.Second
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

type ThreadHandler struct {
	svc *svc.ServiceContext
}

func NewThreadHandler(sc *svc.ServiceContext) *ThreadHandler {
	return &ThreadHandler{svc: sc}
}

type threadPayload struct {
	TopicID    string        `json:"topic_id"`
	State      string        `json:"state"`
	ReplyCount int           `json:"reply_count"`
	Forest     thread.Forest `json:"forest"`
	Warning    string        `json:"warning,omitempty"`
}

func payload(v reconcile.View) threadPayload {
	p := threadPayload{
		TopicID:    v.TopicID,
		State:      v.State.String(),
		ReplyCount: v.Forest.Size(),
		Forest:     v.Forest,
	}
	if p.Forest == nil {
		p.Forest = thread.Forest{}
	}
	if v.Fault != nil && v.Fault.Persistent {
		p.Warning = "connection to the discussion is unstable; showing the last known replies"
	}
	return p
}

// GetThread returns the current reply forest of a topic.
func (h *ThreadHandler) GetThread(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Topics.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()
	forest, err := h.svc.Reconciler.Snapshot(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, payload(reconcile.View{TopicID: id, State: reconcile.Live, Forest: forest}))
}

// StreamThread upgrades to a WebSocket and pushes a payload every time the
// topic's forest or subscription state changes.
func (h *ThreadHandler) StreamThread(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.Topics.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("failed to upgrade the websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	obs := h.svc.Reconciler.Observe(id)
	defer obs.Close()

	// The client sends nothing; reading only notices the close and pongs.
	gone := make(chan struct{})
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case v, ok := <-obs.Views():
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(payload(v)); err != nil {
				zap.L().Debug("websocket write failed", zap.String("topic_id", id), zap.Error(err))
				return
			}
		}
	}
}
