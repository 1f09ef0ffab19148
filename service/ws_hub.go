package main

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/osu-rework/performance-service/service/observability"
	"github.com/osu-rework/performance-service/service/store"
)

const maxEventClients = 200

// EventHub fans processing events out to websocket clients. The processor
// publishes on a Redis channel; the hub subscribes and broadcasts each payload
// verbatim. Single goroutine owns the client set, connections come and go via
// channels.
type EventHub struct {
	rdb        *redis.Client
	logger     zerolog.Logger
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func NewEventHub(rdb *redis.Client, logger zerolog.Logger) *EventHub {
	return &EventHub{
		rdb:        rdb,
		logger:     logger,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run subscribes to the event channel and serves the hub loop until ctx ends.
func (h *EventHub) Run(ctx context.Context) {
	sub := h.rdb.Subscribe(ctx, store.EventsChannel)
	defer sub.Close()
	events := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			if len(h.clients) >= maxEventClients {
				conn.Close()
				h.logger.Warn().Int("max", maxEventClients).Msg("event client rejected, hub full")
				continue
			}
			h.clients[conn] = struct{}{}
			observability.WSClients.Set(float64(len(h.clients)))

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				observability.WSClients.Set(float64(len(h.clients)))
			}

		case msg, ok := <-events:
			if !ok {
				h.shutdown()
				return
			}
			h.broadcastPayload([]byte(msg.Payload))
		}
	}
}

func (h *EventHub) broadcastPayload(payload []byte) {
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
	observability.WSClients.Set(float64(len(h.clients)))
}

func (h *EventHub) shutdown() {
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	observability.WSClients.Set(0)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	a.hub.register <- conn

	// drain the read side so we notice disconnects
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.unregister <- conn
				return
			}
		}
	}()
}
