package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultReloadInterval = time.Second
	defaultResubscribeMin = 500 * time.Millisecond
	defaultResubscribeMax = 30 * time.Second
)

type State int

const (
	Unsubscribed State = iota
	Subscribed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	case Reconnecting:
		return "reconnecting"
	}
	return "unsubscribed"
}

// Reloader is what a bridge drives, usually a *List.
type Reloader interface {
	Load(ctx context.Context) error
	SetStale(stale bool)
}

// Source names the changes a bridge listens to.
type Source struct {
	Collection string
	Filter     *gateway.Filter
	Mask       gateway.EventMask
}

type BridgeConfig struct {
	// ReloadInterval is the minimum time between two reloads triggered by change events.
	ReloadInterval time.Duration
	ResubscribeMin time.Duration
	ResubscribeMax time.Duration
}

// BridgeConfigFrom takes the bridge settings from the sync configuration.
func BridgeConfigFrom(cfg config.SyncConfig) BridgeConfig {
	return BridgeConfig{
		ReloadInterval: cfg.ReloadInterval,
		ResubscribeMin: cfg.ResubscribeMin,
		ResubscribeMax: cfg.ResubscribeMax,
	}
}

// Bridge subscribes to the change feed for one source and reloads its target on every change. Reloads are
// throttled to one per ReloadInterval; events arriving in between collapse into a single trailing reload. If the
// feed drops the subscription, the bridge marks the target stale and resubscribes with exponential backoff.
type Bridge struct {
	src    Source
	cfg    BridgeConfig
	sub    gateway.Subscriber
	target Reloader

	state    State
	current  *gateway.Subscription
	limiter  *rate.Limiter
	trailing *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger hclog.Logger

	sync.Mutex
}

func NewBridge(sub gateway.Subscriber, target Reloader, src Source, cfg BridgeConfig) *Bridge {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = defaultReloadInterval
	}
	if cfg.ResubscribeMin <= 0 {
		cfg.ResubscribeMin = defaultResubscribeMin
	}
	if cfg.ResubscribeMax < cfg.ResubscribeMin {
		cfg.ResubscribeMax = defaultResubscribeMax
	}
	if src.Mask == 0 {
		src.Mask = gateway.MaskAll
	}
	return &Bridge{
		src:     src,
		cfg:     cfg,
		sub:     sub,
		target:  target,
		limiter: rate.NewLimiter(rate.Every(cfg.ReloadInterval), 1),
		logger:  globals.AppLogger.Named("bridge").With("collection", src.Collection),
	}
}

func (b *Bridge) State() State {
	b.Lock()
	defer b.Unlock()
	return b.state
}

// Mount subscribes. Mounting a mounted bridge is a no-op.
func (b *Bridge) Mount() error {
	b.Lock()
	defer b.Unlock()
	if b.state != Unsubscribed {
		return nil
	}
	s, err := b.sub.Subscribe(b.src.Collection, b.src.Filter, b.src.Mask, b.handle)
	if err != nil {
		return err
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.current = s
	b.state = Subscribed
	b.wg.Add(1)
	go b.supervise(b.ctx, s)
	b.logger.Debug("mounted", "subscription", s.Id())
	return nil
}

// Unmount unsubscribes and cancels pending reloads. Reloads already running are cancelled through their context.
func (b *Bridge) Unmount() {
	b.Lock()
	if b.state == Unsubscribed {
		b.Unlock()
		return
	}
	b.state = Unsubscribed
	b.cancel()
	current := b.current
	b.current = nil
	if b.trailing != nil {
		b.trailing.Stop()
		b.trailing = nil
	}
	b.Unlock()
	b.sub.Unsubscribe(current)
	b.wg.Wait()
	b.logger.Debug("unmounted")
}

func (b *Bridge) handle(ev gateway.ChangeEvent) {
	b.logger.Trace("change", "event", ev.Event, "id", ev.Record.String("id"))
	b.trigger()
}

// trigger reloads now if the limiter allows it, otherwise schedules the single trailing reload.
func (b *Bridge) trigger() {
	b.Lock()
	defer b.Unlock()
	if b.state == Unsubscribed {
		return
	}
	if b.trailing != nil {
		// the scheduled reload will see this change
		return
	}
	ctx := b.ctx
	r := b.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		go b.reload(ctx)
		return
	}
	b.trailing = time.AfterFunc(d, func() {
		b.Lock()
		b.trailing = nil
		b.Unlock()
		b.reload(ctx)
	})
}

func (b *Bridge) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := b.target.Load(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		b.logger.Debug("reload failed", "error", err)
	}
}

func (b *Bridge) supervise(ctx context.Context, s *gateway.Subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
		}
		if ctx.Err() != nil {
			return
		}
		b.Lock()
		b.state = Reconnecting
		b.Unlock()
		b.target.SetStale(true)
		b.logger.Warn("subscription dropped, resubscribing")

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = b.cfg.ResubscribeMin
		bo.MaxInterval = b.cfg.ResubscribeMax
		bo.MaxElapsedTime = 0
		var next *gateway.Subscription
		err := backoff.Retry(func() error {
			ns, err := b.sub.Subscribe(b.src.Collection, b.src.Filter, b.src.Mask, b.handle)
			if err != nil {
				metrics.Resubscribes.WithLabelValues(b.src.Collection, "error").Inc()
				b.logger.Debug("resubscribe failed", "error", err)
				if errors.Is(err, gateway.ErrFeedClosed) {
					return backoff.Permanent(err)
				}
				return err
			}
			metrics.Resubscribes.WithLabelValues(b.src.Collection, "ok").Inc()
			next = ns
			return nil
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("giving up resubscribing", "error", err)
			}
			return
		}

		b.Lock()
		if ctx.Err() != nil {
			b.Unlock()
			b.sub.Unsubscribe(next)
			return
		}
		b.current = next
		b.state = Subscribed
		b.Unlock()
		b.target.SetStale(false)
		b.logger.Info("resubscribed")
		// changes during the gap were missed
		b.reload(ctx)
		s = next
	}
}
