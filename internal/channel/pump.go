package channel

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// incoming is the minimal control-message protocol the fabric interprets
// from client text frames (spec.md §4.2).
type incoming struct {
	Type string `json:"type"`
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ch *Channel) {
	defer ch.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleControlMessage(raw, ch)
	}
}

func (c *Client) handleControlMessage(raw []byte, ch *Channel) {
	var msg incoming
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(map[string]interface{}{"type": "echo", "original": string(raw)})
		return
	}

	switch msg.Type {
	case "ping":
		c.reply(map[string]interface{}{"type": "pong", "message": "pong"})
	case "get_stats":
		c.reply(map[string]interface{}{"type": "stats", "data": ch.fabric.Stats()})
	default:
		var original interface{}
		if err := json.Unmarshal(raw, &original); err != nil {
			original = string(raw)
		}
		c.reply(map[string]interface{}{"type": "echo", "original": original})
	}
}

func (c *Client) reply(v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(frame, c.channel.fabric)
}
