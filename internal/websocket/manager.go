package websocket

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"confidential-storage/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager fans workflow status events out to the owner's connections.
type Manager struct {
	clients        map[string]*Client
	ownerIndex     map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	done           chan struct{}
	stopOnce       sync.Once
}

func NewManager(maxConnPerUser int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		ownerIndex:     make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		done:           make(chan struct{}),
	}
}

func (m *Manager) SetMaxMessageSize(n int64) {
	m.maxMessageSize = n
}

func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)

		case <-m.done:
			m.closeAll()
			return
		}
	}
}

// Stop ends Run and closes every connection's send queue.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Add hands c to Run. It reports false once the manager has stopped.
func (m *Manager) Add(c *Client) bool {
	select {
	case m.Register <- c:
		return true
	case <-m.done:
		return false
	}
}

// Remove hands c back to Run; after Stop it returns at once.
func (m *Manager) Remove(c *Client) {
	select {
	case m.Unregister <- c:
	case <-m.done:
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.ownerIndex[client.Owner] == nil {
		m.ownerIndex[client.Owner] = make(map[string]bool)
	}

	if len(m.ownerIndex[client.Owner]) >= m.maxConnPerUser {
		slog.Warn("max connections reached", "owner", client.Owner)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.ownerIndex[client.Owner][client.ID] = true

	slog.Debug("websocket client registered", "client", client.ID, "owner", client.Owner)

	if hello, err := NewMessage(TypeHello, &HelloPayload{ClientID: client.ID, Owner: client.Owner}); err == nil {
		if b, err := json.Marshal(hello); err == nil {
			client.Send <- b
		}
	}
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.ownerIndex[client.Owner], client.ID)

		if len(m.ownerIndex[client.Owner]) == 0 {
			delete(m.ownerIndex, client.Owner)
		}

		close(client.Send)
		slog.Debug("websocket client unregistered", "client", client.ID)
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.ownerIndex = make(map[string]map[string]bool)
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.reply(clientMsg.Client, TypeError, &ErrorPayload{Error: "malformed message"})
		return
	}

	switch msg.Type {
	case TypePing:
		m.reply(clientMsg.Client, TypePong, nil)
	default:
		m.reply(clientMsg.Client, TypeError, &ErrorPayload{Error: "unsupported message type " + string(msg.Type)})
	}
}

func (m *Manager) reply(client *Client, msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return
	}
	if err := m.SendToClient(client.ID, msg); err != nil {
		slog.Warn("websocket reply failed", "client", client.ID, "error", err)
	}
}

// Notify pushes a workflow transition to every connection of owner.
func (m *Manager) Notify(owner common.Address, event *domain.StatusEvent) {
	msg, err := NewMessage(TypeStatus, event)
	if err != nil {
		slog.Warn("status event encoding failed", "error", err)
		return
	}
	if err := m.BroadcastToOwner(owner.Hex(), msg); err != nil {
		slog.Warn("status broadcast failed", "owner", owner.Hex(), "error", err)
	}
}

func (m *Manager) BroadcastToOwner(owner string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.ownerIndex[normalizeOwner(owner)]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			slog.Warn("websocket send buffer full, closing connection", "client", clientID)
			go m.Remove(client)
		}
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		slog.Warn("websocket send buffer full", "client", clientID)
	}

	return nil
}

func (m *Manager) GetOwnerConnections(owner string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.ownerIndex[normalizeOwner(owner)]; exists {
		return len(clients)
	}
	return 0
}
