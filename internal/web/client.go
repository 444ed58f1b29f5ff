package web

import (
	"log"

	"github.com/gorilla/websocket"
)

type client struct {
	srv    *Server
	conn   *websocket.Conn
	send   chan []byte
	synced bool
}

// readPump consumes messages from the client until the connection drops.
// Settings messages adjust the hub, single bytes toggle pause, everything
// else is treated as a button press/release pair.
func (c *client) readPump() {
	defer func() {
		c.srv.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if len(msg) == 0 {
			continue
		}

		switch {
		case msg[0] == settingsMarker && len(msg) >= 3:
			c.srv.applySetting(msg[1], msg[2])
			// The first settings message doubles as the client hello:
			// answer it with the current frame and caches so the viewer
			// has something to draw before the next update.
			if !c.synced {
				c.synced = true
				c.srv.enc.sync <- c
			}
		case len(msg) == 1:
			c.srv.requestPause(msg[0] == 0)
		case len(msg) >= 2:
			c.srv.setButton(msg[0], msg[1] != 0)
		}
	}
}

// writePump owns all writes on the connection. It exits when the hub closes
// the send channel or a write fails.
func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			log.Printf("[web] client write failed: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
