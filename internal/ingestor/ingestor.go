package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jejubus/internal/domain"
	"jejubus/internal/store"
)

type BusFeed interface {
	FetchBuses(ctx context.Context) ([]*domain.Bus, error)
}

type POIFeed interface {
	FetchPOIs(ctx context.Context) ([]*domain.POI, error)
}

// Sink receives every successfully fetched snapshot. Apply calls return once
// the snapshot has been reconciled.
type Sink interface {
	ApplyBuses(ctx context.Context, buses []*domain.Bus) error
	ApplyPOIs(ctx context.Context, pois []*domain.POI) error
}

type POICache interface {
	SavePOIs(ctx context.Context, pois []*domain.POI) error
	LoadPOIs(ctx context.Context) ([]*domain.POI, bool, error)
}

type Options struct {
	PollInterval     time.Duration
	POIRetryInterval time.Duration
	FetchTimeout     time.Duration
}

type Stats struct {
	BusFetches  int64     `json:"busFetches"`
	BusFailures int64     `json:"busFailures"`
	POIFetches  int64     `json:"poiFetches"`
	POIFailures int64     `json:"poiFailures"`
	POIsCached  bool      `json:"poisFromCache"`
	FeedPanics  int64     `json:"feedPanics"`
	LastSuccess time.Time `json:"lastSuccess"`
}

type Ingestor struct {
	buses    BusFeed
	pois     POIFeed
	store    *store.Store
	poiStore *store.POIStore
	sink     Sink
	cache    POICache
	opts     Options
	logger   *slog.Logger

	busFetches  atomic.Int64
	busFailures atomic.Int64
	poiFetches  atomic.Int64
	poiFailures atomic.Int64
	poisCached  atomic.Bool
	lastSuccess atomic.Int64
	panics      atomic.Int64

	ready   bool
	readyMu sync.RWMutex
}

// New wires the feeds to the read-model stores and the sink. pois and cache may be nil.
func New(buses BusFeed, pois POIFeed, busStore *store.Store, poiStore *store.POIStore, sink Sink, cache POICache, opts Options, logger *slog.Logger) *Ingestor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Ingestor{
		buses:    buses,
		pois:     pois,
		store:    busStore,
		poiStore: poiStore,
		sink:     sink,
		cache:    cache,
		opts:     opts,
		logger:   logger.With("component", "ingestor"),
	}
}

// Run polls the bus feed on a fixed interval and loads points of interest once.
// The two feeds run on independent timers.
func (i *Ingestor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if i.pois != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.runPOIs(ctx)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(i.opts.PollInterval)
	defer ticker.Stop()

	i.pollBuses(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.pollBuses(ctx)
		}
	}
}

func (i *Ingestor) pollBuses(ctx context.Context) {
	start := time.Now()
	i.busFetches.Add(1)

	buses, err := i.fetchBuses(ctx)
	if err != nil {
		i.busFailures.Add(1)
		if ctx.Err() == nil {
			i.logger.Error("failed to fetch buses", "error", err)
		}
		return
	}

	if err := i.sink.ApplyBuses(ctx, buses); err != nil {
		i.logger.Warn("failed to apply bus snapshot", "error", err)
		return
	}
	added, removed := i.store.Replace(buses)
	i.lastSuccess.Store(time.Now().UnixMilli())

	if !i.IsReady() {
		i.setReady(true)
		i.logger.Info("ingestor ready", "buses", len(buses))
	}

	i.logger.Debug("poll completed",
		"buses", len(buses),
		"added", added,
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// fetchBuses turns a panicking feed into a failed fetch.
func (i *Ingestor) fetchBuses(ctx context.Context) (buses []*domain.Bus, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.panics.Add(1)
			i.logger.Error("bus feed panicked", "panic", r)
			buses, err = nil, fmt.Errorf("bus feed panicked: %v", r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, i.opts.FetchTimeout)
	defer cancel()
	return i.buses.FetchBuses(fetchCtx)
}

func (i *Ingestor) runPOIs(ctx context.Context) {
	if i.loadPOIs(ctx) {
		return
	}
	i.restoreCachedPOIs(ctx)

	if i.opts.POIRetryInterval <= 0 {
		return
	}

	ticker := time.NewTicker(i.opts.POIRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if i.loadPOIs(ctx) {
				return
			}
		}
	}
}

func (i *Ingestor) loadPOIs(ctx context.Context) bool {
	i.poiFetches.Add(1)

	pois, err := i.fetchPOIs(ctx)
	if err != nil {
		i.poiFailures.Add(1)
		if ctx.Err() == nil {
			i.logger.Error("failed to fetch points of interest", "error", err)
		}
		return false
	}

	if err := i.applyPOIs(ctx, pois); err != nil {
		i.poiFailures.Add(1)
		i.logger.Warn("failed to apply points of interest", "error", err)
		return false
	}
	i.poisCached.Store(false)

	if i.cache != nil {
		if err := i.cache.SavePOIs(ctx, pois); err != nil {
			i.logger.Warn("failed to cache points of interest", "error", err)
		}
	}

	i.logger.Info("points of interest loaded", "count", len(pois))
	return true
}

// fetchPOIs turns a panicking feed into a failed fetch.
func (i *Ingestor) fetchPOIs(ctx context.Context) (pois []*domain.POI, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.panics.Add(1)
			i.logger.Error("poi feed panicked", "panic", r)
			pois, err = nil, fmt.Errorf("poi feed panicked: %v", r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, i.opts.FetchTimeout)
	defer cancel()
	return i.pois.FetchPOIs(fetchCtx)
}

func (i *Ingestor) restoreCachedPOIs(ctx context.Context) {
	if i.cache == nil {
		return
	}
	pois, ok, err := i.cache.LoadPOIs(ctx)
	if err != nil {
		i.logger.Warn("failed to read cached points of interest", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := i.applyPOIs(ctx, pois); err != nil {
		i.logger.Warn("failed to apply cached points of interest", "error", err)
		return
	}
	i.poisCached.Store(true)
	i.logger.Info("using cached points of interest", "count", len(pois))
}

// applyPOIs hands pois to the sink and updates the read model only once the sink accepted them.
func (i *Ingestor) applyPOIs(ctx context.Context, pois []*domain.POI) error {
	if err := i.sink.ApplyPOIs(ctx, pois); err != nil {
		return err
	}
	i.poiStore.UpdateAll(pois)
	return nil
}

func (i *Ingestor) Stats() Stats {
	st := Stats{
		BusFetches:  i.busFetches.Load(),
		BusFailures: i.busFailures.Load(),
		POIFetches:  i.poiFetches.Load(),
		POIFailures: i.poiFailures.Load(),
		POIsCached:  i.poisCached.Load(),
		FeedPanics:  i.panics.Load(),
	}
	if ms := i.lastSuccess.Load(); ms > 0 {
		st.LastSuccess = time.UnixMilli(ms)
	}
	return st
}

func (i *Ingestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *Ingestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}
