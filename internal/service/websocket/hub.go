// Package websocket fans committed detection results out to live viewers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"detectionapi/internal/logger"
	"detectionapi/internal/model"
	"detectionapi/internal/service"
)

const (
	writeWait = 10 * time.Second

	// broadcastBuffer is how many events may wait for a slow viewer before new ones are dropped.
	broadcastBuffer = 64
)

var (
	// ErrHubClosed is returned when broadcasting after the hub has stopped.
	ErrHubClosed = errors.New("websocket hub closed")
	// ErrHubBusy is returned when the broadcast queue is full and the event was dropped.
	ErrHubBusy = errors.New("websocket hub queue full")
)

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     *logger.Logger
}

var _ service.Notifier = (*HubService)(nil)

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mutex.Lock()
		defer h.mutex.Unlock()
		closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		for client := range h.clients {
			client.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
			client.Close()
			delete(h.clients, client)
		}
		h.logger.Info("WebSocket hub stopped")
	})
}

// Register adds a viewer. After the hub stops the connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a text frame for every connected viewer. It never waits on viewers:
// when the queue is full the frame is dropped with ErrHubBusy.
func (h *HubService) Broadcast(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		return ErrHubBusy
	}
}

// Notify broadcasts a committed record as a detection event.
func (h *HubService) Notify(ctx context.Context, record *model.ResultRecord) error {
	message, err := json.Marshal(model.NewResultEvent(record))
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, message)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
