package types

import "encoding/json"

const (
	WireMessageTypeSubscribe    = "subscribe"
	WireMessageTypeUnsubscribe  = "unsubscribe"
	WireMessageTypeSubscribed   = "subscribed"
	WireMessageTypeUnsubscribed = "unsubscribed"
	WireMessageTypeChange       = "change"
	WireMessageTypeError        = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// The different types of messages transferred between the realtime endpoint and its clients.

// SubscribeMessage asks for change notifications of one collection, optionally narrowed by an equality filter
// (Column = Value) and an expression over the columns of the changed row (Where). Events lists "insert", "update"
// and/or "delete", empty means all of them.
type SubscribeMessage struct {
	Ref        string   `json:"ref" mapstructure:"ref"`
	Collection string   `json:"collection" mapstructure:"collection"`
	Column     string   `json:"column,omitempty" mapstructure:"column"`
	Value      string   `json:"value,omitempty" mapstructure:"value"`
	Events     []string `json:"events,omitempty" mapstructure:"events"`
	Where      string   `json:"where,omitempty" mapstructure:"where"`
}

type UnsubscribeMessage struct {
	Ref string `json:"ref" mapstructure:"ref"`
}

// AckMessage confirms a subscribe or unsubscribe.
type AckMessage struct {
	Ref string `json:"ref"`
}

// ChangeMessage is sent for every change matching a subscription. The record is the row after the change (the
// row before the change for deletes).
type ChangeMessage struct {
	Ref        string                 `json:"ref"`
	Event      string                 `json:"event"`
	Collection string                 `json:"collection"`
	Record     map[string]interface{} `json:"record,omitempty"`
}

type ErrorMessage struct {
	Ref     string `json:"ref,omitempty"`
	Message string `json:"message"`
}
