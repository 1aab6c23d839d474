package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go-relayer/internal/metrics"
	"go-relayer/internal/relayer"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamSendBuffer = 256
)

type streamClient struct {
	id        string
	requestID string // empty receives every event
	send      chan []byte
}

// StreamHub fans request lifecycle events out to websocket clients.
// A client whose buffer is full misses events rather than slowing the reconciler.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	logger  logrus.FieldLogger
}

var _ relayer.Notifier = (*StreamHub)(nil)

// NewStreamHub creates an empty hub
func NewStreamHub(logger logrus.FieldLogger) *StreamHub {
	return &StreamHub{clients: make(map[*streamClient]struct{}), logger: logger}
}

func (h *StreamHub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.WSClients.Inc()
}

func (h *StreamHub) unregister(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		metrics.WSClients.Dec()
	}
	h.mu.Unlock()
}

// ClientCount number of connected clients
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify queues event for every interested client
func (h *StreamHub) Notify(ctx context.Context, event relayer.RequestEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.requestID != "" && client.requestID != event.RequestID {
			continue
		}
		select {
		case client.send <- payload:
			metrics.EventsPublished.WithLabelValues("websocket", string(event.Status)).Inc()
		default:
			metrics.EventsFailed.WithLabelValues("websocket").Inc()
			h.logger.WithFields(logrus.Fields{
				"client_id":  client.id,
				"request_id": event.RequestID,
			}).Warn("[Stream] Client buffer full, event dropped")
		}
	}
	return nil
}

// StreamHandler upgrades /ws/requests connections and attaches them to the hub
type StreamHandler struct {
	hub      *StreamHub
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(hub *StreamHub, logger logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleStream streams lifecycle events, optionally only for ?request_id=
// GET /ws/requests
func (h *StreamHandler) HandleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		h.logger.WithError(err).Warn("[Stream] WebSocket upgrade failed")
		return
	}

	client := &streamClient{
		id:        uuid.NewString(),
		requestID: c.Query("request_id"),
		send:      make(chan []byte, streamSendBuffer),
	}
	h.hub.register(client)
	h.logger.WithFields(logrus.Fields{
		"client_id":  client.id,
		"request_id": client.requestID,
	}).Info("[Stream] Client connected")

	done := make(chan struct{})
	go h.writeLoop(conn, client, done)
	h.readLoop(conn, client)

	h.hub.unregister(client)
	close(done)
	h.logger.WithField("client_id", client.id).Info("[Stream] Client disconnected")
}

// readLoop discards client messages and returns when the connection fails
func (h *StreamHandler) readLoop(conn *websocket.Conn, client *streamClient) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithFields(logrus.Fields{
					"client_id": client.id,
					"error":     err.Error(),
				}).Debug("[Stream] Read error")
			}
			return
		}
	}
}

func (h *StreamHandler) writeLoop(conn *websocket.Conn, client *streamClient, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(gin.H{"type": "connected", "client_id": client.id}); err != nil {
		return
	}

	for {
		select {
		case payload := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
