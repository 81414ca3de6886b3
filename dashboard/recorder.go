package dashboard

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/types"
)

const (
	activityWindow = 24 * time.Hour
	periodLayout   = "2006-01-02 15:04"
)

// cronLogger routes the cron runner's log output to hclog.
type cronLogger struct {
	hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Recorder appends a snapshot of the membership, activity and revenue figures to the stat collections, on a cron
// schedule. Records are never updated.
type Recorder struct {
	store  gateway.Store
	spec   string
	price  float64
	now    func() time.Time
	runner *cron.Cron
	logger hclog.Logger
}

func NewRecorder(store gateway.Store, cfg config.StatsConfig) *Recorder {
	logger := globals.AppLogger.Named("stats")
	return &Recorder{
		store: store,
		spec:  cfg.CronSpec,
		price: cfg.PremiumPrice,
		now:   time.Now,
		runner: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		logger: logger,
	}
}

// Start schedules the snapshots. An empty spec disables the recorder.
func (r *Recorder) Start() error {
	if r.spec == "" {
		r.logger.Info("no cron spec configured, stats recorder disabled")
		return nil
	}
	_, err := r.runner.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, err := r.Snapshot(ctx)
		if err != nil {
			r.logger.Error("could not record stats", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.runner.Start()
	return nil
}

// Stop stops the schedule and waits for a running snapshot.
func (r *Recorder) Stop() {
	<-r.runner.Stop().Done()
}

func (r *Recorder) count(ctx context.Context, q *gateway.Query) (int, []gateway.Row, error) {
	rows, err := r.store.Select(ctx, q)
	if err != nil {
		return 0, nil, types.Remote("count "+q.Collection, err)
	}
	return len(rows), rows, nil
}

func (r *Recorder) membership(ctx context.Context, since time.Time) (types.Metrics, int, error) {
	_, profiles, err := r.count(ctx, gateway.From(gateway.Profiles).Select("role", "is_premium", "created_at"))
	if err != nil {
		return nil, 0, err
	}
	premium, admins, moderators, recent := 0, 0, 0, 0
	for _, p := range profiles {
		u := types.User{}
		err := mapper.Decode(p, &u)
		if err != nil {
			return nil, 0, err
		}
		if u.IsPremium {
			premium++
		}
		switch u.Role {
		case types.RoleAdmin:
			admins++
		case types.RoleModerator:
			moderators++
		}
		if !u.CreatedAt.Before(since) {
			recent++
		}
	}
	return types.Metrics{
		"total_members":   float64(len(profiles)),
		"premium_members": float64(premium),
		"admins":          float64(admins),
		"moderators":      float64(moderators),
		"new_members":     float64(recent),
	}, premium, nil
}

func (r *Recorder) activity(ctx context.Context, since time.Time) (types.Metrics, error) {
	m := types.Metrics{}
	active := make(map[string]struct{})
	for _, c := range []struct {
		collection, metric, actor string
	}{
		{gateway.ForumPosts, "posts", "author_id"},
		{gateway.ForumComments, "comments", "author_id"},
		{gateway.ForumPostLikes, "likes", "user_id"},
		{gateway.ChatMessages, "messages", "sender_id"},
	} {
		n, rows, err := r.count(ctx, gateway.From(c.collection).Select(c.actor).Where(gateway.Gte("created_at", since)))
		if err != nil {
			return nil, err
		}
		m[c.metric] = float64(n)
		for _, id := range mapper.Distinct(rows, c.actor) {
			active[id] = struct{}{}
		}
	}
	m["active_members"] = float64(len(active))
	return m, nil
}

// Snapshot computes and stores one record per stat kind.
func (r *Recorder) Snapshot(ctx context.Context) ([]types.StatRecord, error) {
	now := r.now().UTC()
	since := now.Add(-activityWindow)
	membership, premium, err := r.membership(ctx, since)
	if err != nil {
		return nil, err
	}
	activity, err := r.activity(ctx, since)
	if err != nil {
		return nil, err
	}
	revenue := types.Metrics{
		"premium_members": float64(premium),
		"price":           r.price,
		"monthly_revenue": float64(premium) * r.price,
	}

	period := now.Format(periodLayout)
	records := make([]types.StatRecord, 0, len(types.StatKinds))
	for _, rec := range []struct {
		kind    string
		metrics types.Metrics
	}{
		{types.StatKindMembership, membership},
		{types.StatKindActivity, activity},
		{types.StatKindRevenue, revenue},
	} {
		row, err := r.store.Insert(ctx, rec.kind, gateway.Row{
			"period":     period,
			"metrics":    rec.metrics,
			"created_at": now,
		})
		if err != nil {
			return records, types.Remote("record "+rec.kind, err)
		}
		record := types.StatRecord{}
		err = mapper.Decode(row, &record)
		if err != nil {
			return records, err
		}
		record.Kind = rec.kind
		records = append(records, record)
	}
	r.logger.Info("recorded stats", "period", period, "members", membership["total_members"])
	return records, nil
}
