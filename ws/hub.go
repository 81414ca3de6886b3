// Package ws is the realtime endpoint: websocket clients subscribe to collections and receive their change events.
package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/metrics"
)

const (
	maxMessageSize = 4096
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second
)

// TokenParser validates access tokens, see auth.Service.
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

type Hub struct {
	sub    gateway.Subscriber
	tokens TokenParser
	// anonymous clients are rejected if set
	requireAuth bool

	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration

	// Registered clients.
	clients map[*Client]struct{}

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	done   chan struct{}
	logger hclog.Logger

	// mutex for manipulating the clients
	sync.RWMutex
}

// NewHub creates the hub. With tokens set, clients may authenticate with an access token (query parameter
// access_token or bearer authorization header); requireAuth rejects clients without a valid token.
func NewHub(sub gateway.Subscriber, tokens TokenParser, requireAuth bool) *Hub {
	return &Hub{
		sub:         sub,
		tokens:      tokens,
		requireAuth: requireAuth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     globals.AppLogger.Named("ws"),
	}
}

// WithKeepalive overrides the ping period and the pong timeout.
func (h *Hub) WithKeepalive(ping, pong time.Duration) *Hub {
	h.pingPeriod = ping
	h.pongWait = pong
	return h
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Run is the main hub event loop handling register and unregister events.
func (h *Hub) Run() {
	h.logger.Info("start hub run loop")
	for {
		select {
		case client := <-h.Register:
			h.Lock()
			h.clients[client] = struct{}{}
			h.Unlock()
			metrics.WebsocketClients.Inc()
			h.logger.Debug("registered client", "clients", h.NoClients())

		case client := <-h.Unregister:
			h.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				metrics.WebsocketClients.Dec()
			}
			h.Unlock()
			// close connection (probably already is closed, just to make sure)
			client.conn.Close()
			h.logger.Debug("unregistered client", "clients", h.NoClients())

		case <-h.done:
			h.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
				metrics.WebsocketClients.Dec()
			}
			h.Unlock()
			return
		}
	}
}

// Close stops the run loop and closes all connections.
func (h *Hub) Close() {
	close(h.done)
}

func bearer(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	if a := r.Header.Get("Authorization"); strings.HasPrefix(a, "Bearer ") {
		return strings.TrimPrefix(a, "Bearer ")
	}
	return ""
}

// ServeHTTP handles incoming websockets.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var claims *auth.Claims
	if token := bearer(r); token != "" && h.tokens != nil {
		var err error
		claims, err = h.tokens.ParseToken(token)
		if err != nil {
			h.logger.Debug("rejecting client with invalid token", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}
	if claims == nil && h.requireAuth {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP request to Websocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}

	c := NewClient(h, conn, claims)
	select {
	case h.Register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	defer func() {
		c.unsubscribeAll()
		select {
		case h.Unregister <- c:
		case <-h.done:
		}
	}()
	c.Add(2)
	go c.ReadLoop()
	go c.WriteLoop()
	<-c.doneChan
	// wait for the loops and the subscription watchers
	c.Wait()
}
