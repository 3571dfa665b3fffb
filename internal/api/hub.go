package api

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/yegors/livecaptions/internal/transcription"
	"github.com/yegors/livecaptions/pkg/logger"
)

// clientBuffer is how many messages a client may lag before it is dropped
const clientBuffer = 64

// MessageTypeCaption tags caption messages on the live feed
const MessageTypeCaption = "caption"

// Message is one frame on the live feed
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans captions out to websocket clients. It is a transcription sink.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  *logger.Logger
}

var _ transcription.Sink = (*Hub)(nil)

type client struct {
	send chan *Message
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  log.Named("ws-hub"),
	}
}

// ServeHTTP upgrades the request and streams messages until either side closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv := websocket.Server{
		// Origins are checked by the CORS middleware
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
	srv.ServeHTTP(w, r)
}

func (h *Hub) serve(ws *websocket.Conn) {
	defer ws.Close()

	c := &client{
		send: make(chan *Message, clientBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		return
	}
	defer h.unregister(c)

	// Clients only listen; reading detects their disconnect
	go func() {
		var discard string
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				c.stop()
				return
			}
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := websocket.JSON.Send(ws, msg); err != nil {
				h.logger.Debug("Dropping websocket client", logger.Error(err))
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("Websocket client connected", logger.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("Websocket client disconnected", logger.Int("clients", n))
}

// Broadcast queues msg for every client. Clients whose buffer is full are
// disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(msg *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Websocket client too slow, disconnecting")
			delete(h.clients, c)
			c.stop()
		}
	}
}

// Emit broadcasts a caption
func (h *Hub) Emit(_ context.Context, r transcription.Result) error {
	h.Broadcast(&Message{Type: MessageTypeCaption, Data: r})
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}
