package wserv

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/gorilla/websocket"
)

// Hub pushes file lifecycle events to connected clients over websockets.
// Clients connect with their api token and receive events for files they
// own. The hub implements the transfer service's Notifier interface.
type Hub struct {
	clients         map[string]*ClientConnection
	clientsByUserID map[int][]*ClientConnection
	register        chan *ClientConnection
	unregister      chan *ClientConnection
	userBroadcast   chan UserMessage
	mu              sync.RWMutex
	userStor        stor.UserStor
}

// UserMessage targets every connection belonging to one user.
type UserMessage struct {
	UserID  int     `json:"user_id"`
	Message Message `json:"message"`
}

func NewHub(userStor stor.UserStor) *Hub {
	return &Hub{
		clients:         make(map[string]*ClientConnection),
		clientsByUserID: make(map[int][]*ClientConnection),
		register:        make(chan *ClientConnection),
		unregister:      make(chan *ClientConnection),
		userBroadcast:   make(chan UserMessage, 100),
		userStor:        userStor,
	}
}

// Run owns the connection maps. It must be started once, before the first
// websocket upgrade.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.clientsByUserID[client.User.ID] = append(h.clientsByUserID[client.User.ID], client)
			h.mu.Unlock()
			log.Infof("Client connected: %s (user %d)", client.ID, client.User.ID)

		case client := <-h.unregister:
			h.removeClient(client)

		case userMessage := <-h.userBroadcast:
			h.sendToUserClients(userMessage)
		}
	}
}

func (h *Hub) removeClient(client *ClientConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	delete(h.clients, client.ID)
	close(client.Send)

	userClients := h.clientsByUserID[client.User.ID]
	for i, c := range userClients {
		if c.ID == client.ID {
			h.clientsByUserID[client.User.ID] = append(userClients[:i], userClients[i+1:]...)
			break
		}
	}

	if len(h.clientsByUserID[client.User.ID]) == 0 {
		delete(h.clientsByUserID, client.User.ID)
	}

	log.Infof("Client disconnected: %s", client.ID)
}

func (h *Hub) sendToUserClients(userMessage UserMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clientsByUserID[userMessage.UserID] {
		select {
		case client.Send <- userMessage.Message:
		default:
			// Channel full, drop the event rather than block the hub.
			log.Warnf("Dropping event for slow client %s", client.ID)
		}
	}
}

// UploadProgress implements the transfer Notifier.
func (h *Hub) UploadProgress(ownerID int, sessionUUID string, received, total int) {
	h.broadcastToUser(ownerID, Message{
		Event:     EventUploadProgress,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"session_uuid": sessionUUID,
			"received":     received,
			"total":        total,
		},
	})
}

// UploadComplete implements the transfer Notifier.
func (h *Hub) UploadComplete(ownerID int, record *fdmodel.FileRecord) {
	h.broadcastToUser(ownerID, Message{
		Event:     EventUploadComplete,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"uuid":              record.UUID,
			"original_filename": record.OriginalFilename,
			"size":              record.Size,
			"share_code":        record.ShareCode,
			"download_url":      record.DownloadURL(),
		},
	})
}

// FileDeleted implements the transfer Notifier.
func (h *Hub) FileDeleted(ownerID int, recordUUID string) {
	h.broadcastToUser(ownerID, Message{
		Event:     EventFileDeleted,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"uuid": recordUUID},
	})
}

func (h *Hub) broadcastToUser(userID int, msg Message) {
	select {
	case h.userBroadcast <- UserMessage{UserID: userID, Message: msg}:
	default:
		log.Warnf("Event queue full, dropping %s for user %d", msg.Event, userID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the request, upgrades it and starts the read and
// write pumps for the new connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.validateAuthAndGetUser(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Websocket upgrade failed: %s", err)
		return
	}

	client := &ClientConnection{
		ID:   fmt.Sprintf("ws-%d-%d", user.ID, time.Now().UnixNano()),
		User: user,
		Conn: conn,
		Send: make(chan Message, 256),
		Hub:  h,
	}

	h.register <- client

	client.Send <- Message{
		Event:     EventConnected,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"user_id": user.ID},
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) validateAuthAndGetUser(r *http.Request) (*fdmodel.User, error) {
	token, err := getAuthToken(r)
	if err != nil {
		return nil, err
	}

	return h.userStor.GetUserByAPIToken(token)
}

func getAuthToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return extractTokenFromAuthHeader(authHeader)
	}

	// Browsers cannot set headers on websocket connects, so the token can
	// also come through the query string.
	token := r.URL.Query().Get("api_token")
	if token == "" {
		return "", fmt.Errorf("api_token is empty")
	}

	return token, nil
}

func extractTokenFromAuthHeader(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	if parts[1] == "" {
		return "", fmt.Errorf("bearer token is empty")
	}

	return parts[1], nil
}
