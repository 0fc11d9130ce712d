package websocket

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Signals are tiny JSON objects.
	maxSignalSize = 512
)

// Signal types a tab may send.
const (
	SignalConnectivity = "connectivity"
	SignalVisibility   = "visibility"
	// SignalPing asks for an application level pong carrying server time,
	// for tabs that cannot see protocol pings.
	SignalPing = "ping"

	EventPong = "pong"
)

// Client is one open status socket of a user.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	UserID uuid.UUID

	// Buffered channel of outbound frames. Only the hub closes it.
	Send chan []byte

	connectedAt time.Time
}

// readPump reads tab signals until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
		c.Hub.logger.Debug(hubModule, "Status socket closed", map[string]interface{}{
			"user_id":  c.UserID,
			"duration": time.Since(c.connectedAt).Round(time.Second).String(),
		})
	}()
	c.Conn.SetReadLimit(maxSignalSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn(hubModule, "Unexpected websocket close", map[string]interface{}{
					"user_id": c.UserID,
					"error":   err.Error(),
				})
			}
			return
		}
		c.handle(raw)
	}
}

// handle routes one inbound frame. Malformed and unknown frames are dropped.
func (c *Client) handle(raw []byte) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return
	}
	switch s.Type {
	case SignalPing:
		frame, err := encode(EventPong, map[string]interface{}{"server_time": time.Now().UTC()})
		if err != nil {
			return
		}
		select {
		case c.Send <- frame:
		default:
		}
	case SignalConnectivity, SignalVisibility:
		s.UserID = c.UserID
		c.Hub.signal(s)
	default:
		c.Hub.logger.Debug(hubModule, "Unknown signal dropped", map[string]interface{}{
			"user_id": c.UserID,
			"type":    s.Type,
		})
	}
}

// writePump writes queued frames and keeps the connection alive with
// protocol pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
