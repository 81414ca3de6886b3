package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/globals"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrMissingFilter = errors.New("update or delete without filter")

// GormGateway implements the gateway contract on top of a relational database. Every applied mutation is
// published as a ChangeEvent, either directly into the in-process feed or, with postgres LISTEN/NOTIFY, through
// the database so that all processes sharing it see the change.
type GormGateway struct {
	db       *gorm.DB
	feed     *Feed
	listener *Listener
	channel  string
	logger   hclog.Logger
}

// NewGateway opens the database configured in cfg.PersistenceConfig, migrates the schema and starts the change
// feed.
func NewGateway(cfg *config.Config) (*GormGateway, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	g, err := NewGormGateway(db, cfg.SyncConfig.EventBuffer)
	if err != nil {
		return nil, err
	}
	pc := cfg.PersistenceConfig
	if pc.Type == "postgres" && pc.Listen {
		listener, err := NewListener(pc.DSN, pc.Channel, g.feed)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		g.listener = listener
		g.channel = pc.Channel
	}
	return g, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no persistence dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if cfg.PersistenceConfig.Type == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewGormGateway wraps an open database. The schema is migrated before the gateway is returned.
func NewGormGateway(db *gorm.DB, eventBuffer int) (*GormGateway, error) {
	err := db.Migrator().AutoMigrate(tables()...)
	if err != nil {
		return nil, err
	}
	return &GormGateway{
		db:     db,
		feed:   NewFeed(eventBuffer),
		logger: globals.AppLogger.Named("gateway"),
	}, nil
}

func (g *GormGateway) Feed() *Feed {
	return g.feed
}

func checkCollection(collection string) error {
	if !Known(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	return nil
}

func filterExpression(f Filter) (clause.Expression, error) {
	col := clause.Column{Name: f.Column}
	switch f.Op {
	case OpEq, "":
		return clause.Eq{Column: col, Value: f.Value}, nil
	case OpNeq:
		return clause.Neq{Column: col, Value: f.Value}, nil
	case OpGt:
		return clause.Gt{Column: col, Value: f.Value}, nil
	case OpGte:
		return clause.Gte{Column: col, Value: f.Value}, nil
	case OpLt:
		return clause.Lt{Column: col, Value: f.Value}, nil
	case OpLte:
		return clause.Lte{Column: col, Value: f.Value}, nil
	case OpIn:
		return clause.IN{Column: col, Values: toInterfaces(f.Value)}, nil
	}
	return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
}

func toInterfaces(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	res := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		res[i] = rv.Index(i).Interface()
	}
	return res
}

func whereClause(filters []Filter) (clause.Where, error) {
	exprs := make([]clause.Expression, 0, len(filters))
	for _, f := range filters {
		expr, err := filterExpression(f)
		if err != nil {
			return clause.Where{}, err
		}
		exprs = append(exprs, expr)
	}
	return clause.Where{Exprs: exprs}, nil
}

// normalize dereferences pointer values so that published rows carry plain values (or nil).
func normalize(row map[string]interface{}) Row {
	out := make(Row, len(row))
	for k, v := range row {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				out[k] = nil
				continue
			}
			out[k] = rv.Elem().Interface()
			continue
		}
		out[k] = v
	}
	return out
}

func (g *GormGateway) Select(ctx context.Context, q *Query) ([]Row, error) {
	if err := checkCollection(q.Collection); err != nil {
		return nil, err
	}
	tx := g.db.WithContext(ctx).Table(q.Collection)
	if len(q.Columns) > 0 {
		tx = tx.Select(q.Columns)
	}
	if len(q.Filters) > 0 {
		where, err := whereClause(q.Filters)
		if err != nil {
			return nil, err
		}
		tx = tx.Clauses(where)
	}
	for _, o := range q.Orders {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	raw := make([]map[string]interface{}, 0)
	err := tx.Find(&raw).Error
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(raw))
	for i, r := range raw {
		rows[i] = normalize(r)
	}
	return rows, nil
}

func (g *GormGateway) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	rec := make(map[string]interface{}, len(row)+2)
	for k, v := range row {
		rec[k] = v
	}
	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.NewString()
	}
	now := time.Now().UTC()
	for _, c := range timestampColumns[collection] {
		if _, ok := rec[c]; !ok {
			rec[c] = now
		}
	}
	err := g.db.WithContext(ctx).Table(collection).Create(rec).Error
	if err != nil {
		return nil, err
	}
	out := normalize(rec)
	g.publish(ctx, ChangeEvent{Event: EventInsert, Collection: collection, Record: out})
	return out, nil
}

func (g *GormGateway) ids(ctx context.Context, collection string, filters []Filter) ([]string, error) {
	rows, err := g.Select(ctx, From(collection).Select("id").Where(filters...))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.String("id"))
	}
	return ids, nil
}

// Update applies patch to all rows matching filters and returns the updated rows.
func (g *GormGateway) Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrMissingFilter
	}
	ids, err := g.ids(ctx, collection, filters)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Row{}, nil
	}
	rec := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	if col, ok := updatedColumns[collection]; ok {
		if _, set := rec[col]; !set {
			rec[col] = time.Now().UTC()
		}
	}
	if len(rec) == 0 {
		return g.Select(ctx, From(collection).Where(In("id", ids)))
	}
	where, _ := whereClause([]Filter{In("id", ids)})
	err = g.db.WithContext(ctx).Table(collection).Clauses(where).Updates(rec).Error
	if err != nil {
		return nil, err
	}
	rows, err := g.Select(ctx, From(collection).Where(In("id", ids)))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		g.publish(ctx, ChangeEvent{Event: EventUpdate, Collection: collection, Record: r})
	}
	return rows, nil
}

func (g *GormGateway) Delete(ctx context.Context, collection string, filters ...Filter) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrMissingFilter
	}
	rows, err := g.Select(ctx, From(collection).Where(filters...))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.String("id")
	}
	err = g.db.WithContext(ctx).Exec("DELETE FROM ? WHERE id IN ?", clause.Table{Name: collection}, ids).Error
	if err != nil {
		return err
	}
	for _, r := range rows {
		g.publish(ctx, ChangeEvent{Event: EventDelete, Collection: collection, Record: r})
	}
	return nil
}

func (g *GormGateway) Subscribe(collection string, filter *Filter, mask EventMask, handler func(ChangeEvent)) (*Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	return g.feed.Subscribe(collection, filter, mask, handler)
}

func (g *GormGateway) Unsubscribe(s *Subscription) {
	g.feed.Unsubscribe(s)
}

func (g *GormGateway) publish(ctx context.Context, ev ChangeEvent) {
	if g.listener == nil {
		g.feed.Publish(ev)
		return
	}
	payload, err := encodeNotification(ev)
	if err == nil {
		err = g.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", g.channel, payload).Error
	}
	if err != nil {
		g.logger.Error("could not notify change, publishing locally", "collection", ev.Collection, "error", err)
		g.feed.Publish(ev)
	}
}

func (g *GormGateway) Close() error {
	g.feed.Close()
	if g.listener != nil {
		_ = g.listener.Close()
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
