package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roasbeef/driftwatch/internal/bus"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings are sent. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize limits inbound frames; queries are short text.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// The UI is loopback-only and unauthenticated; origin checks add
	// nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and runs the per-connection relay
// pair until either side fails.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		gw:   g,
		conn: conn,
	}
	client.run()
}

// wsClient is one browser connection.
type wsClient struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
}

// run greets the client, then drives the inbound and outbound relays as two
// concurrently scheduled units. Whichever finishes first cancels the other
// through the shared context; run returns once both are down.
func (c *wsClient) run() {
	defer c.conn.Close()

	log.Infof("Client %s connected", c.id)
	defer log.Infof("Client %s disconnected", c.id)

	// Greet before relaying: a connected notice, then the watched root.
	greetings := []bus.Event{
		{Kind: bus.KindSystem, Payload: "connected to driftwatch"},
		{Kind: bus.KindProjectRoot, Payload: c.gw.cfg.Root},
	}
	for _, ev := range greetings {
		if err := c.writeEvent(ev); err != nil {
			log.Debugf("Client %s greeting failed: %v", c.id, err)
			return
		}
	}

	// Subscribe after the greeting so the outbound relay starts at
	// "now"; anything published before this point is not replayed.
	sub := c.gw.cfg.Bus.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		c.readPump()
	}()

	c.writePump(ctx, sub)
}

// writeEvent sends one encoded event as a text frame.
func (c *wsClient) writeEvent(ev bus.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump relays bus publications to the peer and keeps the connection
// alive with pings. It returns on the first write failure, on context
// cancellation, or when the subscription closes.
func (c *wsClient) writePump(ctx context.Context, sub *bus.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return

		case ev, ok := <-sub.Events():
			if !ok {
				// Bus shut down underneath us.
				c.conn.SetWriteDeadline(
					time.Now().Add(writeWait),
				)
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			// Queries flow inward only; echoing them back would
			// show every client its own input twice.
			if ev.Kind == bus.KindUserQuery {
				continue
			}

			if err := c.writeEvent(ev); err != nil {
				log.Debugf("Client %s write failed: %v",
					c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

// readPump republishes each inbound text frame, verbatim, as a UserQuery.
// It returns on the first read failure or disconnect.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {

				log.Debugf("Client %s read failed: %v",
					c.id, err)
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		// No inbound schema: the whole frame is the query.
		c.gw.cfg.Bus.Publish(bus.Event{
			Kind:    bus.KindUserQuery,
			Payload: string(data),
		})
	}
}
