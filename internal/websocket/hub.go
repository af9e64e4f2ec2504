package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/scout-progress/internal/domain"
)

// Message types
const (
	MessageTypeProfileUpdate = "profile_update"
	MessageTypeBadgeUpdate   = "badge_update"
	MessageTypeSubscribe     = "subscribe"
	MessageTypeUnsubscribe   = "unsubscribe"
	MessageTypeSubscribed    = "subscribed"
	MessageTypeUnsubscribed  = "unsubscribed"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	MemberID  string      `json:"member_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BadgeWatcher delivers fresh badge summaries whenever one of the member's
// submissions is verified
type BadgeWatcher interface {
	WatchBadges(memberID string, fn func(domain.BadgeSummary)) (unsubscribe func())
}

// Hub maintains the set of active clients and fans out profile and badge
// updates to the clients following each member
type Hub struct {
	// Subscribed clients by member ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Badge watches, one per member with at least one subscriber
	watches map[string]func()

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	watcher BadgeWatcher
	mu      sync.RWMutex
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	memberID string
}

// NewHub creates a new Hub. watcher may be nil, in which case only profile
// updates are pushed.
func NewHub(watcher BadgeWatcher, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		watches:     make(map[string]func()),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		watcher:     watcher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.stopWatches()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for memberID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						h.removeLocked(client, memberID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.allClients[req.client] {
				h.addLocked(req.client, req.memberID)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "member_id", req.memberID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			h.removeLocked(req.client, req.memberID)
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "member_id", req.memberID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) addLocked(client *Client, memberID string) {
	if _, ok := h.clients[memberID]; !ok {
		h.clients[memberID] = make(map[*Client]bool)
	}
	h.clients[memberID][client] = true

	if _, watching := h.watches[memberID]; !watching && h.watcher != nil {
		h.watches[memberID] = h.watcher.WatchBadges(memberID, h.BroadcastBadges)
	}
}

func (h *Hub) removeLocked(client *Client, memberID string) {
	clients, ok := h.clients[memberID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) > 0 {
		return
	}
	delete(h.clients, memberID)
	if stop, ok := h.watches[memberID]; ok {
		stop()
		delete(h.watches, memberID)
	}
}

func (h *Hub) stopWatches() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for memberID, stop := range h.watches {
		stop()
		delete(h.watches, memberID)
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients following its member
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[message.MemberID]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// PublishProfile pushes a committed profile to the member's subscribers
func (h *Hub) PublishProfile(profile domain.Profile) {
	profile.ActivityLog = nil
	h.enqueue(&Message{
		Type:      MessageTypeProfileUpdate,
		MemberID:  profile.MemberID,
		Data:      profile,
		Timestamp: time.Now(),
	})
}

// BroadcastBadges pushes a recomputed badge summary to the member's subscribers
func (h *Hub) BroadcastBadges(summary domain.BadgeSummary) {
	h.enqueue(&Message{
		Type:      MessageTypeBadgeUpdate,
		MemberID:  summary.MemberID,
		Data:      summary,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe makes client follow a member
func (h *Hub) Subscribe(client *Client, memberID string) {
	h.subscribe <- &subscriptionRequest{client: client, memberID: memberID}
}

// Unsubscribe stops client following a member
func (h *Hub) Unsubscribe(client *Client, memberID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, memberID: memberID}
}

// SubscriberCount returns the number of clients following a member
func (h *Hub) SubscriberCount(memberID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[memberID])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
