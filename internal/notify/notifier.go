package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const eventsChannel = "wallet_events"

// Message is the hint pushed to UIs when a balance, ledger or order row
// changed. It carries enough to refresh a view, nothing authoritative.
type Message struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	At        int64  `json:"at"`
}

// Hub fans balance-change hints out to connected websocket clients and to a
// Redis pub/sub channel for other service instances. Delivery is best
// effort: wallet correctness never depends on a hint arriving.
type Hub struct {
	clients map[string]map[*websocket.Conn]bool
	mu      sync.Mutex
	redis   *redis.Client
	log     *logrus.Logger
}

func NewHub(redisClient *redis.Client, log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]bool),
		redis:   redisClient,
		log:     log,
	}
}

func (h *Hub) RegisterConnection(accountID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*websocket.Conn]bool)
	}
	h.clients[accountID][conn] = true
}

func (h *Hub) UnregisterConnection(accountID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[accountID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(h.clients, accountID)
		}
	}
}

// BalanceChanged pushes a refresh hint for the account to local websocket
// clients and publishes it for other instances. Errors are logged and
// swallowed.
func (h *Hub) BalanceChanged(ctx context.Context, accountID string, balance int64) {
	message := Message{
		Type:      "balance_update",
		AccountID: accountID,
		Balance:   balance,
		At:        time.Now().Unix(),
	}
	payload, _ := json.Marshal(message)

	if h.redis != nil {
		if err := h.redis.Publish(ctx, eventsChannel, payload).Err(); err != nil {
			h.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Warn("balance hint publish failed")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients[accountID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Debug("dropping dead websocket client")
			conn.Close()
			delete(h.clients[accountID], conn)
		}
	}
}
