package websocket

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWs registers the connection and blocks until it closes. greeting
// frames are queued ahead of anything the hub delivers.
func ServeWs(hub *Hub, c *websocket.Conn, userID uuid.UUID, greeting ...Envelope) {
	client := &Client{Hub: hub, Conn: c, UserID: userID, Send: make(chan []byte, 256), connectedAt: time.Now()}
	for _, env := range greeting {
		frame, err := encode(env.Type, env.Data)
		if err != nil {
			continue
		}
		client.Send <- frame
	}
	if !hub.join(client) {
		c.Close()
		return
	}

	go client.writePump()
	client.readPump()
}
