package wserv

import (
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/gorilla/websocket"
)

// Events pushed to clients.
const (
	EventConnected      = "connected"
	EventUploadProgress = "upload_progress"
	EventUploadComplete = "upload_complete"
	EventFileDeleted    = "file_deleted"
	EventHeartbeatAck   = "heartbeat_ack"
)

// Events accepted from clients.
const (
	EventHeartbeat = "heartbeat"
)

type Message struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type ClientConnection struct {
	ID   string
	User *fdmodel.User
	Conn *websocket.Conn
	Send chan Message
	Hub  *Hub
}

func (c *ClientConnection) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	_ = c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("Websocket read error for %s: %s", c.ID, err)
			}
			break
		}

		c.handleMessage(msg)
	}
}

func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(20 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *ClientConnection) handleMessage(msg Message) {
	switch msg.Event {
	case EventHeartbeat:
		c.Send <- Message{
			Event:     EventHeartbeatAck,
			Timestamp: time.Now(),
		}
	default:
		// Clients only listen; anything else is ignored.
	}
}
