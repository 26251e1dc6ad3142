// Copyright 2021-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
)

// OrchestratorConfig tunes one orchestrator instance
type OrchestratorConfig struct {
	// TTL bounds how long memory entries are served and how old a persistent
	// entry may be before a refresh from the provider is attempted
	TTL        time.Duration
	MemorySize int

	// BatchSize and BatchDelay keep GetMany under the provider budget
	BatchSize  int
	BatchDelay time.Duration

	// CallTimeout bounds each provider call; RunDeadline is the soft limit
	// after which GetMany stops dispatching new batches (0 disables it)
	CallTimeout time.Duration
	RunDeadline time.Duration

	// Limiter is the provider call budget. Orchestrators that talk to the same
	// provider must share one limiter; nil leaves pacing to BatchDelay.
	Limiter *rate.Limiter
}

// Batch is the result of GetMany. Every requested symbol has an entry;
// degraded symbols carry SourceFallbackStale or SourceUnavailable.
type Batch[T any] struct {
	Entries          map[string]*CacheEntry[T]
	RateLimited      bool
	DeadlineExceeded bool

	// Skipped lists symbols that never reached the provider in this run
	Skipped []string

	// Pending lists symbols left without fresh data because the run was cut
	// short: the skipped ones plus those whose own call was rate limited
	Pending []string
}

// Get returns the entry for symbol or an unavailable placeholder
func (b *Batch[T]) Get(symbol string) *CacheEntry[T] {
	symbol = common.NormalizeSymbol(symbol)
	if e, ok := b.Entries[symbol]; ok {
		return e
	}
	return unavailable[T](symbol)
}

// Retryable reports that the run was cut short and trying again later may
// produce more complete data
func (b *Batch[T]) Retryable() bool {
	return (b.RateLimited || b.DeadlineExceeded) && len(b.Pending) > 0
}

// Degraded returns the symbols that were not served fresh, sorted
func (b *Batch[T]) Degraded() []string {
	res := make([]string, 0)
	for symbol, e := range b.Entries {
		if e.Source == SourceFallbackStale || e.Source == SourceUnavailable {
			res = append(res, symbol)
		}
	}
	return common.UniqueSymbols(res)
}

// Orchestrator serves records of one kind from memory, then the persistent
// store, then the provider, and falls back to the best known record when the
// provider fails. At most one provider call per symbol is in flight.
type Orchestrator[T any] struct {
	kind   Kind
	memory *MemoryCache[T]
	store  Store[T]
	fetch  FetchFunc[T]
	cfg    OrchestratorConfig
	group  singleflight.Group
	calls  atomic.Int64
	now    func() time.Time
}

type flightResult[T any] struct {
	entry       *CacheEntry[T]
	rateLimited bool
}

func NewOrchestrator[T any](kind Kind, store Store[T], fetch FetchFunc[T], cfg OrchestratorConfig) (*Orchestrator[T], error) {
	if cfg.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultProviderTimeout
	}

	memory, err := NewMemoryCache[T](cfg.MemorySize, cfg.TTL)
	if err != nil {
		return nil, err
	}

	return &Orchestrator[T]{
		kind:   kind,
		memory: memory,
		store:  store,
		fetch:  fetch,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Kind returns the record family served by this orchestrator
func (o *Orchestrator[T]) Kind() Kind {
	return o.kind
}

// ProviderCalls returns the number of provider calls issued since creation
func (o *Orchestrator[T]) ProviderCalls() int64 {
	return o.calls.Load()
}

// Get serves one symbol. It never returns an error: provider and cache
// failures end in a fallback-stale or unavailable entry.
func (o *Orchestrator[T]) Get(ctx context.Context, symbol string) *CacheEntry[T] {
	symbol = common.NormalizeSymbol(symbol)
	if symbol == "" {
		return unavailable[T](symbol)
	}

	fresh, stale := o.cached(ctx, symbol)
	if fresh != nil {
		return fresh
	}

	res := o.fetchFromProvider(ctx, symbol, false, true)
	return o.settle(symbol, res, stale)
}

// Refresh bypasses both cache tiers and asks the provider, falling back to
// whatever was cached when the provider fails
func (o *Orchestrator[T]) Refresh(ctx context.Context, symbol string) *CacheEntry[T] {
	symbol = common.NormalizeSymbol(symbol)
	if symbol == "" {
		return unavailable[T](symbol)
	}

	var stale *CacheEntry[T]
	if e, ok := o.memory.Get(symbol); ok {
		stale = e
	} else if e, err := o.store.Load(ctx, symbol); err == nil {
		stale = e
	}

	res := o.fetchFromProvider(ctx, symbol, true, true)
	return o.settle(symbol, res, stale)
}

// Purge removes symbol from both tiers
func (o *Orchestrator[T]) Purge(ctx context.Context, symbol string) error {
	symbol = common.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}

	o.memory.Delete(symbol)
	if err := o.store.Delete(ctx, symbol); err != nil {
		log.Error().Err(err).Str("Symbol", symbol).Str("Kind", string(o.kind)).Msg("could not delete persistent cache entry")
		return err
	}
	return nil
}

// GetMany serves many symbols while staying under the provider budget.
// Cache hits are served first; the remaining symbols are fetched in batches
// of BatchSize separated by BatchDelay. A rate-limit signal stops every
// provider call not yet started and the soft RunDeadline stops dispatching
// new batches; in both cases the remaining symbols fall back.
func (o *Orchestrator[T]) GetMany(ctx context.Context, symbols []string) *Batch[T] {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "orchestrator.GetMany")
	defer span.End()

	symbols = common.UniqueSymbols(symbols)
	subLog := log.With().Str("Kind", string(o.kind)).Int("NumSymbols", len(symbols)).Logger()

	batch := &Batch[T]{
		Entries: make(map[string]*CacheEntry[T], len(symbols)),
		Skipped: make([]string, 0),
		Pending: make([]string, 0),
	}

	stale := make(map[string]*CacheEntry[T])
	pending := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		fresh, st := o.cached(ctx, symbol)
		if fresh != nil {
			batch.Entries[symbol] = fresh
			continue
		}
		if st != nil {
			stale[symbol] = st
		}
		pending = append(pending, symbol)
	}

	var deadline time.Time
	if o.cfg.RunDeadline > 0 {
		deadline = o.now().Add(o.cfg.RunDeadline)
	}

	var (
		aborted   atomic.Bool
		locker    sync.Mutex
		fetched   = make(map[string]*CacheEntry[T], len(pending))
		attempted = make(map[string]bool, len(pending))
		limited   = make(map[string]bool)
	)

	budgetCtx := ctx
	if !deadline.IsZero() {
		var cancelBudget context.CancelFunc
		budgetCtx, cancelBudget = context.WithDeadline(ctx, deadline)
		defer cancelBudget()
	}

	chunks := common.PartitionArray(pending, o.cfg.BatchSize)
	for idx, chunk := range chunks {
		if aborted.Load() || batch.DeadlineExceeded {
			break
		}

		if idx > 0 {
			if err := sleepCtx(ctx, o.cfg.BatchDelay); err != nil {
				subLog.Warn().Err(err).Int("Batch", idx).Msg("run cancelled between batches")
				batch.DeadlineExceeded = true
				break
			}
		}

		if !deadline.IsZero() && !o.now().Before(deadline) {
			subLog.Warn().Int("Batch", idx).Int("TotalBatches", len(chunks)).Msg("run deadline reached; not dispatching further batches")
			batch.DeadlineExceeded = true
			break
		}

		subLog.Debug().Int("Batch", idx).Int("TotalBatches", len(chunks)).Int("BatchSize", len(chunk)).Msg("dispatching provider batch")

		var wg sync.WaitGroup
		for _, symbol := range chunk {
			if err := o.acquire(budgetCtx); err != nil {
				subLog.Warn().Err(err).Int("Batch", idx).Str("Symbol", symbol).Msg("provider budget does not allow another call before the run deadline")
				batch.DeadlineExceeded = true
				break
			}

			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				if aborted.Load() {
					return
				}

				locker.Lock()
				attempted[symbol] = true
				locker.Unlock()

				res := o.fetchFromProvider(ctx, symbol, false, false)
				if res.rateLimited {
					aborted.Store(true)
					locker.Lock()
					limited[symbol] = true
					locker.Unlock()
				}

				if res.entry != nil {
					locker.Lock()
					fetched[symbol] = res.entry
					locker.Unlock()
				}
			}(symbol)
		}
		wg.Wait()
	}

	batch.RateLimited = aborted.Load()

	for _, symbol := range pending {
		if e, ok := fetched[symbol]; ok {
			batch.Entries[symbol] = e
			continue
		}
		if !attempted[symbol] {
			batch.Skipped = append(batch.Skipped, symbol)
			batch.Pending = append(batch.Pending, symbol)
		} else if limited[symbol] {
			batch.Pending = append(batch.Pending, symbol)
		}
		batch.Entries[symbol] = o.fallback(symbol, stale[symbol])
	}

	span.SetAttributes(
		attribute.Int("NumSymbols", len(symbols)),
		attribute.Int("NumPending", len(pending)),
		attribute.Int("NumSkipped", len(batch.Skipped)),
		attribute.Int("NumRetryPending", len(batch.Pending)),
		attribute.Bool("RateLimited", batch.RateLimited),
	)

	if batch.RateLimited || batch.DeadlineExceeded {
		subLog.Warn().Bool("RateLimited", batch.RateLimited).Bool("DeadlineExceeded", batch.DeadlineExceeded).
			Strs("Skipped", batch.Skipped).Strs("Pending", batch.Pending).Msg("provider run cut short; serving fallback data")
	}

	return batch
}

// Prewarm loads symbols in the background. It returns immediately; the
// returned channel is closed once the run finishes.
func (o *Orchestrator[T]) Prewarm(symbols []string) <-chan struct{} {
	done := make(chan struct{})
	symbols = append([]string(nil), symbols...)

	go func() {
		defer close(done)
		batch := o.GetMany(context.Background(), symbols)
		log.Info().Str("Kind", string(o.kind)).Int("NumSymbols", len(batch.Entries)).Strs("Degraded", batch.Degraded()).Msg("prewarm finished")
	}()

	return done
}

// cached consults the memory tier, then the persistent tier. It returns a
// fresh entry ready to serve or, when the persistent entry is older than the
// TTL, that entry as a fallback candidate.
func (o *Orchestrator[T]) cached(ctx context.Context, symbol string) (fresh *CacheEntry[T], stale *CacheEntry[T]) {
	if e, ok := o.memory.Get(symbol); ok {
		return e.WithSource(SourceCache), nil
	}

	e, err := o.store.Load(ctx, symbol)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			log.Warn().Err(err).Str("Symbol", symbol).Str("Kind", string(o.kind)).Msg("persistent cache read failed")
		}
		return nil, nil
	}

	if o.cfg.TTL > 0 && e.Age(o.now()) > o.cfg.TTL {
		return nil, e
	}

	o.memory.Set(e)
	return e.WithSource(SourceCache), nil
}

// fetchFromProvider issues the provider call under the per-symbol flight.
// Callers that arrive while a call is in flight share its result, so the call
// runs on a context detached from the caller that started it; only the trace
// span is carried over. When budget is set the call first waits for the
// limiter, bounded by the caller's ctx; GetMany acquires before dispatching.
func (o *Orchestrator[T]) fetchFromProvider(ctx context.Context, symbol string, force, budget bool) flightResult[T] {
	v, _, _ := o.group.Do(symbol, func() (interface{}, error) {
		// a flight that just landed may have warmed memory
		if !force {
			if e, ok := o.memory.Get(symbol); ok {
				return flightResult[T]{entry: e.WithSource(SourceCache)}, nil
			}
		}

		if budget {
			if err := o.acquire(ctx); err != nil {
				log.Warn().Err(err).Str("Symbol", symbol).Str("Kind", string(o.kind)).Msg("provider budget exhausted for this request")
				return flightResult[T]{rateLimited: true}, nil
			}
		}

		flightCtx := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx))
		callCtx, cancel := context.WithTimeout(flightCtx, o.cfg.CallTimeout)
		defer cancel()

		o.calls.Add(1)
		res := o.fetch(callCtx, symbol)

		subLog := log.With().Str("Symbol", symbol).Str("Kind", string(o.kind)).Logger()

		if res.Outcome == OutcomeOK && callCtx.Err() != nil {
			res = ProviderError[T]("provider call timed out")
		}

		switch res.Outcome {
		case OutcomeOK:
			entry := &CacheEntry[T]{
				Symbol:    symbol,
				Record:    res.Record,
				FetchedAt: o.now(),
				Source:    SourceAPI,
			}

			saveCtx, cancelSave := context.WithTimeout(flightCtx, o.cfg.CallTimeout)
			defer cancelSave()
			if err := o.store.Save(saveCtx, entry); err != nil {
				subLog.Error().Err(err).Msg("could not write persistent cache entry; continuing with memory tier only")
			}
			o.memory.Set(entry)
			return flightResult[T]{entry: entry}, nil
		case OutcomeRateLimited:
			subLog.Warn().Str("Detail", res.Detail).Msg("provider rate limited")
			return flightResult[T]{rateLimited: true}, nil
		default:
			subLog.Warn().Str("Detail", res.Detail).Msg("provider call failed")
			return flightResult[T]{}, nil
		}
	})

	return v.(flightResult[T])
}

// acquire takes one call from the shared provider budget. The limiter fails
// fast when the wait would overrun ctx's deadline.
func (o *Orchestrator[T]) acquire(ctx context.Context) error {
	if o.cfg.Limiter == nil {
		return nil
	}
	return o.cfg.Limiter.Wait(ctx)
}

func (o *Orchestrator[T]) settle(symbol string, res flightResult[T], stale *CacheEntry[T]) *CacheEntry[T] {
	if res.entry != nil {
		return res.entry
	}
	return o.fallback(symbol, stale)
}

func (o *Orchestrator[T]) fallback(symbol string, stale *CacheEntry[T]) *CacheEntry[T] {
	if stale != nil {
		return stale.WithSource(SourceFallbackStale)
	}
	return unavailable[T](symbol)
}
