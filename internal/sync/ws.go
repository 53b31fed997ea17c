package sync

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mangasync/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // extension pages connect from their own origin
	},
}

// WSHandler subscribes a websocket to the caller's change feed. Browsers
// cannot set headers on the upgrade, so the token may come as ?token=.
func WSHandler(hub *Hub, tokens auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := auth.BearerToken(c.Request)
		if raw == "" {
			raw = strings.TrimSpace(c.Query("token"))
		}
		claims, err := tokens.Parse(raw)
		if raw == "" || err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		sub := hub.Subscribe(claims.UserID)
		defer sub.Close()
		hub.track("websocket", 1)
		defer hub.track("websocket", -1)
		log.Printf("[ws] client subscribed as %s", claims.UserID)

		_ = ws.WriteJSON(ControlMessage{Type: WelcomeMessageType, Transport: "websocket", UserID: claims.UserID})

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			case <-gone:
				log.Println("[ws] client disconnected")
				return
			}
		}
	}
}
