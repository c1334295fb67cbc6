package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
)

const registerTimeout = 5 * time.Second

// ServeWs subscribes the connection to its session and blocks until it closes.
// The first frame the client sees is a "subscribed" acknowledgement.
func ServeWs(hub *Hub, c *websocket.Conn, sessionID, userID string) {
	client := NewClient(hub, c, sessionID, userID)

	ack, _ := json.Marshal(map[string]interface{}{
		"type":       MessageSubscribed,
		"session_id": sessionID,
	})
	client.trySend(ack)

	select {
	case hub.register <- client:
	case <-hub.done:
		c.Close()
		return
	case <-time.After(registerTimeout):
		hub.logger.Warn("Client", "Hub did not accept registration", map[string]interface{}{"session_id": sessionID})
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(writeWait))
		c.Close()
		return
	}

	go client.writePump()
	client.readPump()
}
