package web

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// hub tracks connected clients and fans broadcast messages out to them.
// The clients map is only touched from run, so registration and removal go
// through channels. Settings are read by the frame encoder every frame and
// written from client read pumps, hence the mutex.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	direct     chan directSend

	mu       sync.Mutex
	settings settings
}

// directSend targets one client, used for the initial sync batch.
type directSend struct {
	c    *client
	msgs [][]byte
}

type settings struct {
	compression   bool
	framePatching bool
	frameSkipping bool
	frameCaching  bool
	patchRatio    int
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan directSend, 4),
		settings: settings{
			compression:   true,
			framePatching: true,
			frameSkipping: true,
			frameCaching:  true,
			patchRatio:    2,
		},
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Printf("[web] client disconnected, %d remaining", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client, drop it rather than stall the others.
					delete(h.clients, c)
					close(c.send)
				}
			}
		case d := <-h.direct:
			if _, ok := h.clients[d.c]; ok {
				for _, msg := range d.msgs {
					select {
					case d.c.send <- msg:
					default:
					}
				}
			}
		}
	}
}

// sendAll queues a message for every client without blocking the caller.
func (h *hub) sendAll(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *hub) snapshot() settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
