package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"

	"github.com/scorelend/backend/internal/http/middleware"
)

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWebSocket subscribes the authenticated caller to their own score
// channel. Clients may send "ping" and get "pong" back; other frames are ignored.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		client := NewClient(conn)
		h.hub.Subscribe(ScoreChannel(userID), client)
		h.hub.metrics.WSClientConnected()
		defer h.hub.metrics.WSClientDisconnected()

		go h.writer(client)
		h.reader(client)
	}).ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) reader(client *Client) {
	defer func() {
		h.hub.UnsubscribeAll(client)
		client.close()
	}()

	for {
		var raw string
		if err := websocket.Message.Receive(client.conn, &raw); err != nil {
			return
		}
		if strings.EqualFold(strings.TrimSpace(raw), "ping") {
			client.send([]byte("pong"))
		}
	}
}

func (h *Handler) writer(client *Client) {
	for payload := range client.out {
		if err := websocket.Message.Send(client.conn, string(payload)); err != nil {
			return
		}
	}
}
