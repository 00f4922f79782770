package mode

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/khaledhikmat/vs-liveness/service/display"
	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

const clientBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub pushes display events to every connected websocket client. Slow
// clients drop events rather than stall the display.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mutex      sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, clientBuffer),
	}
}

// run serves the hub until canxCtx is cancelled, then disconnects everyone.
func (h *hub) run(canxCtx context.Context) {
	for {
		select {
		case <-canxCtx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mutex.Unlock()
			lgr.Logger.Info("websocket client connected", slog.Int("total", total))

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			lgr.Logger.Info("websocket client disconnected", slog.Int("total", total))

		case message := <-h.broadcast:
			h.mutex.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					lgr.Logger.Warn("websocket client is behind, dropping event")
				}
			}
			h.mutex.RUnlock()
		}
	}
}

func (h *hub) publish(e display.Event) {
	message, err := json.Marshal(e)
	if err != nil {
		lgr.Logger.Error("marshaling display event", slog.String("id", e.ID), lgr.Err(err))
		return
	}

	select {
	case h.broadcast <- message:
	default:
		lgr.Logger.Warn("broadcast channel is full, dropping event", slog.String("id", e.ID))
	}
}

// serve upgrades the request and streams events to the client, starting with
// the current display snapshot.
func (h *hub) serve(canxCtx context.Context, doc display.IService, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.Warn("failed to upgrade to websocket", lgr.Err(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	if err := conn.WriteJSON(map[string]any{"snapshot": doc.Snapshot()}); err != nil {
		conn.Close()
		return
	}

	select {
	case h.register <- c:
	case <-canxCtx.Done():
		conn.Close()
		return
	}

	go c.writePump()

	// Reads only detect the disconnect.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-canxCtx.Done():
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					lgr.Logger.Warn("websocket read", lgr.Err(err))
				}
				return
			}
		}
	}()
}

func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			lgr.Logger.Warn("websocket write", lgr.Err(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
