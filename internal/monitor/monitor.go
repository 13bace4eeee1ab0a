// Package monitor implements the (added) SPEC_FULL §4.10/§6 admin
// introspection surface: a gin engine exposing a JSON dump of the
// parsed configuration and a websocket feed of parse diagnostics,
// grounded on the teacher's websocket hub/connection pair and gin
// handler registration style.
package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jaydave/sslproxy-core/internal/dump"
	"github.com/jaydave/sslproxy-core/internal/global"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one diagnostic broadcast to every connected websocket client
// (config.Diagnostic's file/line/message, flattened for JSON).
type Event struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Hub fans Events out to every connected admin client, the same
// register/unregister/broadcast shape as the teacher's websocket Hub,
// generalized from raw byte messages to typed Events.
type Hub struct {
	g *global.Global

	register   chan *client
	unregister chan *client
	broadcast  chan Event
	clients    map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub builds a Hub serving a snapshot of g's parsed configuration.
func NewHub(g *global.Global) *Hub {
	return &Hub{
		g:          g,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, 64),
		clients:    make(map[*client]bool),
	}
}

// Run drives the Hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
				}
			}
		}
	}
}

// Publish queues a diagnostic for broadcast to every connected client.
func (h *Hub) Publish(ev Event) { h.broadcast <- ev }

// Routes registers the two debug endpoints on engine.
func (h *Hub) Routes(engine *gin.Engine) {
	engine.GET("/debug/global", h.handleGlobalDump)
	engine.GET("/debug/ws", h.handleWebsocket)
}

func (h *Hub) handleGlobalDump(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config_file": h.g.ConfigFile,
		"listeners":   len(h.g.Listeners),
		"dump":        dump.Global(h.g),
	})
}

func (h *Hub) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	cl := &client{conn: conn, send: make(chan Event, 32)}
	h.register <- cl

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
