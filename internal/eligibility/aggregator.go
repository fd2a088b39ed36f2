package eligibility

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lv-restrict/internal/logging"
	"lv-restrict/internal/pubsub"
	"lv-restrict/internal/restriction"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultStaleAfter  = 25 * time.Second
	DefaultExpireAfter = 90 * time.Second
	fetchTimeout       = 10 * time.Second
)

type Options struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Policy     Policy
	Logger     *zap.Logger
	Now        func() time.Time
}

// Aggregator polls both sources on their own schedules and keeps the merged
// decision current. Results are kept per source by request start time, so a
// slow response never overwrites a newer one.
type Aggregator struct {
	sources    Sources
	interval   time.Duration
	staleAfter time.Duration
	policy     Policy
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	el       *EligibilitySnapshot
	st       *SettingsSnapshot
	decision restriction.Decision
	computed bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	changes *pubsub.Bus[restriction.Decision]
}

func NewAggregator(sources Sources, opts Options) *Aggregator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Policy.ExpireAfter <= 0 {
		opts.Policy.ExpireAfter = DefaultExpireAfter
	}
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		sources:    sources,
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
		policy:     opts.Policy,
		logger:     opts.Logger,
		now:        opts.Now,
		changes:    pubsub.NewBus[restriction.Decision](0, opts.Logger),
	}
}

// Start launches one poll loop per source. Each loop fetches right away.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go a.poll(a.ctx, a.refreshEligibility)
	go a.poll(a.ctx, a.refreshSettings)
}

// Stop cancels both polls and waits for them. Safe to call more than once.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.ctx = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

// OnChange registers fn for every change of the merged decision.
func (a *Aggregator) OnChange(fn func(restriction.Decision)) func() {
	return a.changes.Listen(fn)
}

// Decision returns the merged decision as of now, expiring old data.
func (a *Aggregator) Decision() restriction.Decision {
	return a.Recompute()
}

// Recompute merges the current snapshots and publishes the result if it
// differs from the previous one.
func (a *Aggregator) Recompute() restriction.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recomputeLocked()
}

func (a *Aggregator) recomputeLocked() restriction.Decision {
	d := Merge(a.el, a.st, a.now(), a.policy)
	if !a.computed || !Equal(d, a.decision) {
		a.decision = d
		a.computed = true
		a.changes.Publish(d)
	}
	return d
}

// Refresh fetches both sources concurrently and recomputes. One failing
// source does not cancel the other.
func (a *Aggregator) Refresh(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.refreshEligibility(ctx) })
	g.Go(func() error { return a.refreshSettings(ctx) })
	err := g.Wait()
	a.Recompute()
	return err
}

// RefreshIfStale refetches only sources older than the staleness window.
func (a *Aggregator) RefreshIfStale(ctx context.Context) error {
	now := a.now()
	a.mu.Lock()
	elStale := a.el == nil || now.Sub(a.el.RequestedAt) > a.staleAfter
	stStale := a.st == nil || now.Sub(a.st.RequestedAt) > a.staleAfter
	a.mu.Unlock()

	var g errgroup.Group
	if elStale {
		g.Go(func() error { return a.refreshEligibility(ctx) })
	}
	if stStale {
		g.Go(func() error { return a.refreshSettings(ctx) })
	}
	err := g.Wait()
	a.Recompute()
	return err
}

// ApplyPush takes a server-evaluated decision as the newest value of both
// sources, recomputes at once and then refetches in the background. Polls
// started before the push cannot overwrite it.
func (a *Aggregator) ApplyPush(d restriction.Decision) restriction.Decision {
	a.mu.Lock()
	now := a.now()
	a.el = &EligibilitySnapshot{
		View: restriction.EligibilityView{
			CanWithdraw:     d.CanWithdraw,
			TotalDeposited:  d.TotalDeposited,
			MinimumRequired: d.MinimumRequired,
			Shortfall:       d.Shortfall,
			Message:         d.Message,
			EvaluatedAt:     now,
		},
		RequestedAt: now,
	}
	a.st = &SettingsSnapshot{
		View: restriction.SettingsView{
			HasRestriction:          d.HasRestriction,
			MinimumDepositThreshold: d.MinimumRequired,
			Message:                 d.Message,
			UpdatedAt:               now,
		},
		RequestedAt: now,
	}
	merged := a.recomputeLocked()
	ctx := a.ctx
	if ctx != nil {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if ctx != nil {
		go func() {
			defer a.wg.Done()
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.Debug("refetch after push failed", zap.Error(err))
			}
		}()
	}
	return merged
}

func (a *Aggregator) poll(ctx context.Context, fetch func(context.Context) error) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := fetch(ctx); err != nil && ctx.Err() == nil {
			a.logger.Debug("eligibility poll failed", zap.Error(err))
		}
		a.Recompute()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Aggregator) refreshEligibility(ctx context.Context) error {
	requestedAt := a.now()
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	view, err := a.sources.Eligibility(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.el != nil && requestedAt.Before(a.el.RequestedAt) {
		return nil
	}
	a.el = &EligibilitySnapshot{View: view, RequestedAt: requestedAt}
	return nil
}

func (a *Aggregator) refreshSettings(ctx context.Context) error {
	requestedAt := a.now()
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	view, err := a.sources.Settings(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.st != nil && requestedAt.Before(a.st.RequestedAt) {
		return nil
	}
	a.st = &SettingsSnapshot{View: view, RequestedAt: requestedAt}
	return nil
}
