// Package gatewaytest provides in-memory gateways for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInjected = errors.New("injected failure")

// New returns a gateway backed by a private in-memory sqlite database. It is closed when the test ends.
func New(t testing.TB) *gateway.GormGateway {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	g, err := gateway.NewGormGateway(db, 64)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = g.Close()
	})
	return g
}

// Recorder wraps a gateway and counts the remote calls made through it. Insert failures can be injected per
// collection.
type Recorder struct {
	gateway.Gateway

	mu         sync.Mutex
	calls      map[string]int
	failInsert map[string]int
	failSelect map[string]int
}

func NewRecorder(g gateway.Gateway) *Recorder {
	return &Recorder{
		Gateway:    g,
		calls:      make(map[string]int),
		failInsert: make(map[string]int),
		failSelect: make(map[string]int),
	}
}

func (r *Recorder) count(op string) {
	r.mu.Lock()
	r.calls[op]++
	r.mu.Unlock()
}

// Calls returns the number of calls of op ("select", "insert", "update", "delete"); an empty op sums all of them.
func (r *Recorder) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op != "" {
		return r.calls[op]
	}
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = make(map[string]int)
	r.mu.Unlock()
}

// FailInserts makes the next n inserts into collection fail with ErrInjected.
func (r *Recorder) FailInserts(collection string, n int) {
	r.mu.Lock()
	r.failInsert[collection] = n
	r.mu.Unlock()
}

// FailSelects makes the next n selects from collection fail with ErrInjected.
func (r *Recorder) FailSelects(collection string, n int) {
	r.mu.Lock()
	r.failSelect[collection] = n
	r.mu.Unlock()
}

func (r *Recorder) shouldFail(m map[string]int, collection string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m[collection] > 0 {
		m[collection]--
		return true
	}
	return false
}

func (r *Recorder) Select(ctx context.Context, q *gateway.Query) ([]gateway.Row, error) {
	r.count("select")
	if r.shouldFail(r.failSelect, q.Collection) {
		return nil, ErrInjected
	}
	return r.Gateway.Select(ctx, q)
}

func (r *Recorder) Insert(ctx context.Context, collection string, row gateway.Row) (gateway.Row, error) {
	r.count("insert")
	if r.shouldFail(r.failInsert, collection) {
		return nil, ErrInjected
	}
	return r.Gateway.Insert(ctx, collection, row)
}

func (r *Recorder) Update(ctx context.Context, collection string, patch gateway.Row, filters ...gateway.Filter) ([]gateway.Row, error) {
	r.count("update")
	return r.Gateway.Update(ctx, collection, patch, filters...)
}

func (r *Recorder) Delete(ctx context.Context, collection string, filters ...gateway.Filter) error {
	r.count("delete")
	return r.Gateway.Delete(ctx, collection, filters...)
}

// SeedUser inserts a profile row and returns the corresponding user.
func SeedUser(t testing.TB, store gateway.Store, email, name, role string) types.User {
	t.Helper()
	if role == "" {
		role = types.RoleUser
	}
	row, err := store.Insert(context.Background(), gateway.Profiles, gateway.Row{
		"email":        email,
		"display_name": name,
		"role":         role,
	})
	require.NoError(t, err)
	return types.User{
		Id:          row.String("id"),
		Email:       email,
		DisplayName: name,
		Role:        role,
	}
}
