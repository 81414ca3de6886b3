package mapper

import (
	"context"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
)

const (
	UnknownUser      = "Unknown User"
	defaultCacheSize = 512
)

// Authors resolves user ids to display names with one batched profile query per call, keeping resolved names in
// an LRU cache. Lookups never fail: unresolvable ids map to UnknownUser.
type Authors struct {
	store  gateway.Store
	cache  *lru.Cache[string, string]
	logger hclog.Logger
}

func NewAuthors(store gateway.Store, size int) *Authors {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Authors{
		store:  store,
		cache:  cache,
		logger: globals.AppLogger.Named("authors"),
	}
}

// Names returns a name for every id in ids.
func (a *Authors) Names(ctx context.Context, ids []string) map[string]string {
	res := make(map[string]string, len(ids))
	missing := make([]string, 0)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := res[id]; ok {
			continue
		}
		if name, ok := a.cache.Get(id); ok {
			res[id] = name
			continue
		}
		res[id] = UnknownUser
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return res
	}
	rows, err := a.store.Select(ctx, gateway.From(gateway.Profiles).Select("id", "display_name", "email").Where(gateway.In("id", missing)))
	if err != nil {
		a.logger.Warn("could not resolve author names", "count", len(missing), "error", err)
		return res
	}
	for _, row := range rows {
		name := row.String("display_name")
		if name == "" {
			name = row.String("email")
		}
		if name == "" {
			continue
		}
		id := row.String("id")
		res[id] = name
		a.cache.Add(id, name)
	}
	return res
}

// Forget drops a cached name, f.e. after the profile was renamed.
func (a *Authors) Forget(id string) {
	a.cache.Remove(id)
}

// Watch keeps the cache in sync with profile updates and deletes.
func (a *Authors) Watch(sub gateway.Subscriber) (*gateway.Subscription, error) {
	return sub.Subscribe(gateway.Profiles, nil, gateway.MaskUpdate|gateway.MaskDelete, func(ev gateway.ChangeEvent) {
		a.Forget(ev.Record.String("id"))
	})
}
