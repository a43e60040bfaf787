package websocket

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"enricher-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans run progress out to websocket clients. Each run with at least one
// listener holds a single pub/sub subscription.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	jwtSecret   []byte
	cancelFuncs map[uuid.UUID]context.CancelFunc
}

func NewHub(redisClient *redis.Client, jwtSecret string) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		jwtSecret:   []byte(jwtSecret),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// HandleWebSocket serves GET /api/v1/ingests/{id}/events.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	if h.redisClient == nil {
		http.Error(w, "Progress events require Redis", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(runID, conn)

	go func() {
		defer h.unregisterConnection(runID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// authorized accepts any caller when no secret is configured. Browsers cannot
// set headers on a websocket handshake, so the token may also come as ?token=.
func (h *Hub) authorized(r *http.Request) bool {
	if len(h.jwtSecret) == 0 {
		return true
	}

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if tokenStr == "" {
		return false
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil && token.Valid
}

func (h *Hub) registerConnection(runID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[runID] = append(h.connections[runID], conn)

	if len(h.connections[runID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[runID] = cancel
		go h.subscribeToPubSub(ctx, runID)
	}

	log.Printf("WebSocket connected: run %s (total: %d)", runID, len(h.connections[runID]))
}

func (h *Hub) unregisterConnection(runID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[runID]
	for i, c := range conns {
		if c == conn {
			h.connections[runID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[runID]) == 0 {
		delete(h.connections, runID)
		if cancel, ok := h.cancelFuncs[runID]; ok {
			cancel()
			delete(h.cancelFuncs, runID)
		}
	}

	log.Printf("WebSocket disconnected: run %s", runID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, runID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, services.ProgressChannel(runID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(runID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(runID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[runID] {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
