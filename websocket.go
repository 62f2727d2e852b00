package main

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the control server is meant for local dashboards; same-origin policy
	// is left to the deployment
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHub fans decoded events out to WebSocket clients and to the chunked
// /events and plain /stream HTTP clients. It implements Sink; a slow client
// loses messages rather than stalling the sink goroutine.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
	dropped uint64
}

func NewStreamHub() *StreamHub {
	return &StreamHub{clients: make(map[string]chan []byte)}
}

func (h *StreamHub) Name() string { return "stream" }

func (h *StreamHub) subscribe() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *StreamHub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Publish broadcasts the event JSON to every connected client.
func (h *StreamHub) Publish(ev *Event) error {
	b, err := ev.Record.MarshalJSON()
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.dropped++
		}
	}
	return nil
}

func (h *StreamHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	return nil
}

// ServeWS is the WebSocket event channel at /.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: upgrade failed: %v", err)
		return
	}
	id, ch := h.subscribe()
	defer h.unsubscribe(id)
	defer conn.Close()

	// drain client frames so pings are answered and closes noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// ServeEvents streams chunked JSON lines at /events.
func (h *StreamHub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	h.serveHTTPStream(w, r, "application/json")
}

// ServeStream streams plain lines at /stream.
func (h *StreamHub) ServeStream(w http.ResponseWriter, r *http.Request) {
	h.serveHTTPStream(w, r, "text/plain")
}

func (h *StreamHub) serveHTTPStream(w http.ResponseWriter, r *http.Request, contentType string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "%s\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
