package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/types"
)

const (
	sendChannelSize  = 256
	maxSubscriptions = 64
)

// private collections are never streamed to clients
var private = map[string]bool{
	gateway.AuthUsers:      true,
	gateway.PasswordResets: true,
}

// Client is a middleman between the websocket connection and the change feed.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	claims *auth.Claims

	subsLock sync.Mutex
	subs     map[string]*gateway.Subscription

	doneChan chan struct{}
	logger   hclog.Logger

	// WaitGroup which keeps track of the running read/write loops
	sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims) *Client {
	logger := hub.logger
	if claims != nil {
		logger = logger.With("user", claims.Subject)
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		claims:   claims,
		subs:     make(map[string]*gateway.Subscription),
		doneChan: make(chan struct{}),
		logger:   logger,
	}
}

// Closed is closed when the connection is gone.
func (c *Client) Closed() <-chan struct{} {
	return c.doneChan
}

// send queues a message without blocking once the client is gone. Messages for a client whose queue is full are
// dropped.
func (c *Client) send(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("could not marshal message", "event", event, "error", err)
		return
	}
	msg, err := json.Marshal(types.WebsocketMessage{Event: event, Data: raw})
	if err != nil {
		c.logger.Error("could not marshal message", "event", event, "error", err)
		return
	}
	select {
	case <-c.doneChan:
	case c.Send <- msg:
	default:
		c.logger.Warn("send queue full, dropping message", "event", event)
	}
}

func (c *Client) sendError(ref, message string) {
	c.send(types.WireMessageTypeError, types.ErrorMessage{Ref: ref, Message: message})
}

func (c *Client) subscribe(msg types.SubscribeMessage) {
	if msg.Ref == "" {
		c.sendError("", "missing ref")
		return
	}
	if !gateway.Known(msg.Collection) || private[msg.Collection] {
		c.sendError(msg.Ref, "unknown collection")
		return
	}
	mask, err := gateway.MaskFromEvents(msg.Events)
	if err != nil {
		c.sendError(msg.Ref, err.Error())
		return
	}
	prog, err := compileWhere(msg.Where)
	if err != nil {
		c.sendError(msg.Ref, "invalid where expression: "+err.Error())
		return
	}
	var filter *gateway.Filter
	if msg.Column != "" {
		f := gateway.Eq(msg.Column, msg.Value)
		filter = &f
	}

	c.subsLock.Lock()
	if _, ok := c.subs[msg.Ref]; ok {
		c.subsLock.Unlock()
		c.sendError(msg.Ref, "ref already in use")
		return
	}
	if len(c.subs) >= maxSubscriptions {
		c.subsLock.Unlock()
		c.sendError(msg.Ref, "too many subscriptions")
		return
	}
	ref := msg.Ref
	s, err := c.hub.sub.Subscribe(msg.Collection, filter, mask, func(ev gateway.ChangeEvent) {
		if !c.RunFilterRecord(ev.Record, prog) {
			return
		}
		c.send(types.WireMessageTypeChange, types.ChangeMessage{
			Ref:        ref,
			Event:      ev.Event,
			Collection: ev.Collection,
			Record:     ev.Record,
		})
	})
	if err != nil {
		c.subsLock.Unlock()
		c.logger.Error("could not subscribe", "collection", msg.Collection, "error", err)
		c.sendError(ref, "could not subscribe")
		return
	}
	c.subs[ref] = s
	c.subsLock.Unlock()

	c.Add(1)
	go c.watch(ref, s)
	c.logger.Debug("subscribed", "ref", ref, "collection", msg.Collection)
	c.send(types.WireMessageTypeSubscribed, types.AckMessage{Ref: ref})
}

// watch reports a subscription dropped by the feed, so the client can subscribe again.
func (c *Client) watch(ref string, s *gateway.Subscription) {
	defer c.Done()
	select {
	case <-c.doneChan:
		return
	case <-s.Done():
	}
	c.subsLock.Lock()
	current, ok := c.subs[ref]
	if ok && current == s {
		delete(c.subs, ref)
	}
	c.subsLock.Unlock()
	if ok && current == s {
		c.sendError(ref, "subscription dropped")
	}
}

func (c *Client) unsubscribe(ref string) {
	c.subsLock.Lock()
	s, ok := c.subs[ref]
	delete(c.subs, ref)
	c.subsLock.Unlock()
	if !ok {
		c.sendError(ref, "unknown ref")
		return
	}
	c.hub.sub.Unsubscribe(s)
	c.send(types.WireMessageTypeUnsubscribed, types.AckMessage{Ref: ref})
}

func (c *Client) unsubscribeAll() {
	c.subsLock.Lock()
	subs := c.subs
	c.subs = make(map[string]*gateway.Subscription)
	c.subsLock.Unlock()
	for _, s := range subs {
		c.hub.sub.Unsubscribe(s)
	}
}

// NoSubscriptions returns the number of active subscriptions.
func (c *Client) NoSubscriptions() int {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	return len(c.subs)
}

// ReadLoop pumps messages from the websocket connection to the change feed.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("ws closed unexpectedly", "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		err = json.Unmarshal(raw, &message)
		if err != nil {
			c.logger.Debug("could not unmarshal ws message", "error", err)
			c.sendError("", "invalid message")
			continue
		}
		data := make(map[string]interface{})
		if len(message.Data) > 0 {
			err = json.Unmarshal(message.Data, &data)
			if err != nil {
				c.sendError("", "invalid message data")
				continue
			}
		}

		switch message.Event {
		case types.WireMessageTypeSubscribe:
			msg := types.SubscribeMessage{}
			err = mapstructure.WeakDecode(data, &msg)
			if err != nil {
				c.sendError("", "invalid subscribe message")
				continue
			}
			c.subscribe(msg)

		case types.WireMessageTypeUnsubscribe:
			msg := types.UnsubscribeMessage{}
			err = mapstructure.WeakDecode(data, &msg)
			if err != nil {
				c.sendError("", "invalid unsubscribe message")
				continue
			}
			c.unsubscribe(msg.Ref)

		default:
			c.sendError("", "unknown event")
		}
	}
}

// WriteLoop pumps messages to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop")
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
