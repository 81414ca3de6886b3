package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Row is a record as stored in a collection, keyed by column name.
type Row map[string]interface{}

// String returns the value of column as a string ("" if absent or nil).
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case *string:
		if s == nil {
			return ""
		}
		return *s
	}
	return fmt.Sprint(v)
}

type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "IN"
)

// Filter is a single column condition. For OpIn, Value must be a slice.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

func Eq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

func Neq(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpNeq, Value: value}
}

func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

func Gte(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpGte, Value: value}
}

func Lt(column string, value interface{}) Filter {
	return Filter{Column: column, Op: OpLt, Value: value}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
}

// Matches evaluates an equality filter against a row, used to route change events. Other operators are not
// supported for subscriptions and never match.
func (f Filter) Matches(r Row) bool {
	switch f.Op {
	case OpEq, "":
		return r.String(f.Column) == fmt.Sprint(f.Value)
	case OpNeq:
		return r.String(f.Column) != fmt.Sprint(f.Value)
	}
	return false
}

type Order struct {
	Column string
	Desc   bool
}

// Query describes a select: columns from collection where filters order by orders limit n.
type Query struct {
	Collection string
	Columns    []string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

func From(collection string) *Query {
	return &Query{Collection: collection}
}

func (q *Query) Select(columns ...string) *Query {
	q.Columns = append(q.Columns, columns...)
	return q
}

func (q *Query) Where(filters ...Filter) *Query {
	q.Filters = append(q.Filters, filters...)
	return q
}

func (q *Query) OrderBy(column string, desc bool) *Query {
	q.Orders = append(q.Orders, Order{Column: column, Desc: desc})
	return q
}

func (q *Query) LimitTo(n int) *Query {
	q.Limit = n
	return q
}

func (q *Query) String() string {
	sb := strings.Builder{}
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	sb.WriteString(fmt.Sprintf("select %s from %s", cols, q.Collection))
	for i, f := range q.Filters {
		if i == 0 {
			sb.WriteString(" where ")
		} else {
			sb.WriteString(" and ")
		}
		sb.WriteString(f.String())
	}
	return sb.String()
}

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// EventMask selects the change events a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete
	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

func (m EventMask) Has(event string) bool {
	switch event {
	case EventInsert:
		return m&MaskInsert != 0
	case EventUpdate:
		return m&MaskUpdate != 0
	case EventDelete:
		return m&MaskDelete != 0
	}
	return false
}

// MaskFromEvents builds a mask from event names, an empty list selects all events.
func MaskFromEvents(events []string) (EventMask, error) {
	if len(events) == 0 {
		return MaskAll, nil
	}
	var m EventMask
	for _, e := range events {
		switch strings.ToLower(e) {
		case EventInsert:
			m |= MaskInsert
		case EventUpdate:
			m |= MaskUpdate
		case EventDelete:
			m |= MaskDelete
		case "*":
			m |= MaskAll
		default:
			return 0, fmt.Errorf("unknown event %q", e)
		}
	}
	return m, nil
}

// ChangeEvent is published for every applied mutation. Record holds the row after the change, or before it for
// deletes.
type ChangeEvent struct {
	Event      string `json:"event"`
	Collection string `json:"collection"`
	Record     Row    `json:"record,omitempty"`
}

// Store is the request/response part of the gateway contract.
type Store interface {
	Select(ctx context.Context, q *Query) ([]Row, error)
	Insert(ctx context.Context, collection string, row Row) (Row, error)
	Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error)
	Delete(ctx context.Context, collection string, filters ...Filter) error
}

// Subscriber is the change notification part of the gateway contract.
type Subscriber interface {
	Subscribe(collection string, filter *Filter, mask EventMask, handler func(ChangeEvent)) (*Subscription, error)
	Unsubscribe(*Subscription)
}

type Gateway interface {
	Store
	Subscriber
	Close() error
}
