// Package dashboard serves the admin statistics: stat series per kind, chart data and live panels. The series are
// filled by the Recorder.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/filter"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/types"
)

const defaultLimit = 30

type Service struct {
	gw       gateway.Gateway
	session  *auth.Session
	mapper   *mapper.Mapper
	Notifier notify.Notifier

	sync   live.BridgeConfig
	logger hclog.Logger
}

func NewService(gw gateway.Gateway, session *auth.Session, m *mapper.Mapper, cfg *config.Config) *Service {
	if m == nil {
		m = mapper.New(gw, nil)
	}
	return &Service{
		gw:      gw,
		session: session,
		mapper:  m,
		sync:    live.BridgeConfigFrom(cfg.SyncConfig),
		logger:  globals.AppLogger.Named("dashboard"),
	}
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

func checkKind(kind string) error {
	if !types.ValidStatKind(kind) {
		return types.NewValidationError("kind", fmt.Sprintf("Unknown statistics %q", kind))
	}
	return nil
}

// stats loads the latest limit records of kind in chronological order.
func (s *Service) stats(ctx context.Context, kind string, limit int) ([]types.StatRecord, error) {
	if _, err := s.session.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.gw.Select(ctx, gateway.From(kind).OrderBy("created_at", true).LimitTo(limit))
	if err != nil {
		return nil, types.Remote("load "+kind, err)
	}
	records, err := s.mapper.StatRecords(kind, rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Stats returns the latest limit records of a stat kind, oldest first. Admins only.
func (s *Service) Stats(ctx context.Context, kind string, limit int) ([]types.StatRecord, error) {
	records, err := s.stats(ctx, kind, limit)
	if err != nil {
		return nil, s.fail("Error loading statistics", err)
	}
	return records, nil
}

// Latest returns the newest record of every kind that has one.
func (s *Service) Latest(ctx context.Context) (map[string]types.StatRecord, error) {
	res := make(map[string]types.StatRecord, len(types.StatKinds))
	for _, kind := range types.StatKinds {
		records, err := s.stats(ctx, kind, 1)
		if err != nil {
			return nil, s.fail("Error loading statistics", err)
		}
		if len(records) > 0 {
			res[kind] = records[0]
		}
	}
	return res, nil
}

// Point is one value of a chart series.
type Point struct {
	Period string    `json:"period"`
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"`
}

// Series extracts one metric from records for a chart. Records without the metric are skipped.
func Series(records []types.StatRecord, metric string) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		v, ok := r.Metrics[metric]
		if !ok {
			continue
		}
		points = append(points, Point{Period: r.Period, Time: r.CreatedAt, Value: v})
	}
	return points
}

// Where filters records with an admin expression, see filter.Stats.
func Where(records []types.StatRecord, expression string) ([]types.StatRecord, error) {
	match, err := filter.Stats(expression)
	if err != nil {
		return nil, err
	}
	res := make([]types.StatRecord, 0, len(records))
	for _, r := range records {
		if match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

func recordKey(r types.StatRecord) string { return r.Id }

// Panel is the live binding of one stat kind. New records are appended by the recorder, so only inserts are
// followed.
func (s *Service) Panel(kind string, limit int) *live.Binding[types.StatRecord] {
	list := live.NewList(live.ListConfig[types.StatRecord]{
		Name: kind,
		Load: func(ctx context.Context) ([]types.StatRecord, error) {
			return s.stats(ctx, kind, limit)
		},
		Key: recordKey,
		Less: func(a, b types.StatRecord) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading statistics",
	})
	return live.Bind(s.gw, list, s.sync, live.Source{Collection: kind, Mask: gateway.MaskInsert})
}
