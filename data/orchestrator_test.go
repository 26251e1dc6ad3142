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

package data_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/penny-vault/pv-lookthrough/data"
)

// memStore is an in-memory persistent tier that can be told to fail writes
type memStore struct {
	mu        sync.Mutex
	entries   map[string]*data.CacheEntry[data.FundComposition]
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*data.CacheEntry[data.FundComposition])}
}

func (s *memStore) Load(ctx context.Context, symbol string) (*data.CacheEntry[data.FundComposition], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[symbol]; ok {
		return e, nil
	}
	return nil, data.ErrNotCached
}

func (s *memStore) Save(ctx context.Context, entry *data.CacheEntry[data.FundComposition]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("store is read-only")
	}
	s.entries[entry.Symbol] = entry
	return nil
}

func (s *memStore) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, symbol)
	return nil
}

func composition(symbol string) data.FundComposition {
	return data.FundComposition{
		Symbol:   symbol,
		Name:     symbol,
		Holdings: []data.FundHolding{{Symbol: "AAPL", WeightPercent: 100}},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx     context.Context
		store   *memStore
		calls   atomic.Int64
		outcome atomic.Int32
		allowed atomic.Int64
		delay   time.Duration
		cfg     data.OrchestratorConfig
	)

	fetch := func(ctx context.Context, symbol string) data.Result[data.FundComposition] {
		n := calls.Add(1)
		if limit := allowed.Load(); limit >= 0 && n > limit {
			return data.RateLimited[data.FundComposition]("Note: call frequency exceeded")
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		switch data.Outcome(outcome.Load()) {
		case data.OutcomeRateLimited:
			return data.RateLimited[data.FundComposition]("Note: call frequency exceeded")
		case data.OutcomeProviderError:
			return data.ProviderError[data.FundComposition]("boom")
		default:
			return data.Ok(composition(symbol))
		}
	}

	newOrchestrator := func() *data.Orchestrator[data.FundComposition] {
		o, err := data.NewOrchestrator[data.FundComposition](data.KindComposition, store, fetch, cfg)
		Expect(err).To(BeNil())
		return o
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		calls.Store(0)
		outcome.Store(int32(data.OutcomeOK))
		allowed.Store(-1)
		delay = 0
		cfg = data.OrchestratorConfig{
			TTL:         24 * time.Hour,
			MemorySize:  128,
			BatchSize:   3,
			CallTimeout: time.Second,
		}
	})

	It("refuses a non-positive batch size", func() {
		cfg.BatchSize = 0
		_, err := data.NewOrchestrator[data.FundComposition](data.KindComposition, store, fetch, cfg)
		Expect(err).To(MatchError(data.ErrInvalidBatchSize))
	})

	Describe("Get", func() {
		It("calls the provider on a cold cache and writes both tiers", func() {
			o := newOrchestrator()
			entry := o.Get(ctx, "vti")
			Expect(entry.Source).To(Equal(data.SourceAPI))
			Expect(entry.Symbol).To(Equal("VTI"))
			Expect(calls.Load()).To(Equal(int64(1)))

			_, err := store.Load(ctx, "VTI")
			Expect(err).To(BeNil())

			again := o.Get(ctx, "VTI")
			Expect(again.Source).To(Equal(data.SourceCache))
			Expect(calls.Load()).To(Equal(int64(1)))
		})

		It("serves a fresh persistent entry without calling the provider", func() {
			Expect(store.Save(ctx, &data.CacheEntry[data.FundComposition]{
				Symbol: "VTI", Record: composition("VTI"), FetchedAt: time.Now().Add(-time.Hour), Source: data.SourceAPI,
			})).To(Succeed())

			o := newOrchestrator()
			entry := o.Get(ctx, "VTI")
			Expect(entry.Source).To(Equal(data.SourceCache))
			Expect(calls.Load()).To(Equal(int64(0)))
		})

		It("falls back to an old persistent entry when the provider fails", func() {
			Expect(store.Save(ctx, &data.CacheEntry[data.FundComposition]{
				Symbol: "VTI", Record: composition("VTI"), FetchedAt: time.Now().Add(-48 * time.Hour), Source: data.SourceAPI,
			})).To(Succeed())
			outcome.Store(int32(data.OutcomeProviderError))

			o := newOrchestrator()
			entry := o.Get(ctx, "VTI")
			Expect(entry.Source).To(Equal(data.SourceFallbackStale))
			Expect(entry.Record.Holdings).To(HaveLen(1))
			Expect(calls.Load()).To(Equal(int64(1)))
		})

		It("refreshes an old persistent entry when the provider succeeds", func() {
			Expect(store.Save(ctx, &data.CacheEntry[data.FundComposition]{
				Symbol: "VTI", Record: data.FundComposition{Symbol: "VTI"}, FetchedAt: time.Now().Add(-48 * time.Hour), Source: data.SourceAPI,
			})).To(Succeed())

			o := newOrchestrator()
			entry := o.Get(ctx, "VTI")
			Expect(entry.Source).To(Equal(data.SourceAPI))
			Expect(entry.Record.Holdings).To(HaveLen(1))
		})

		It("reports unavailable when nothing is cached and the provider fails", func() {
			outcome.Store(int32(data.OutcomeRateLimited))
			o := newOrchestrator()
			entry := o.Get(ctx, "VTI")
			Expect(entry.Source).To(Equal(data.SourceUnavailable))
			Expect(entry.Available()).To(BeFalse())
		})

		It("keeps serving from memory when the persistent write fails", func() {
			store.failSaves = true
			o := newOrchestrator()
			Expect(o.Get(ctx, "VTI").Source).To(Equal(data.SourceAPI))
			Expect(o.Get(ctx, "VTI").Source).To(Equal(data.SourceCache))
			Expect(calls.Load()).To(Equal(int64(1)))
		})

		It("goes back to the provider after the ttl expires", func() {
			cfg.TTL = 100 * time.Millisecond
			o := newOrchestrator()
			o.Get(ctx, "VTI")
			time.Sleep(150 * time.Millisecond)
			Expect(o.Get(ctx, "VTI").Source).To(Equal(data.SourceAPI))
			Expect(calls.Load()).To(Equal(int64(2)))
		})

		It("issues a single provider call for concurrent callers", func() {
			delay = 100 * time.Millisecond
			o := newOrchestrator()

			var wg sync.WaitGroup
			results := make([]*data.CacheEntry[data.FundComposition], 5)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i] = o.Get(ctx, "VTI")
				}(i)
			}
			wg.Wait()

			Expect(calls.Load()).To(Equal(int64(1)))
			Expect(o.ProviderCalls()).To(Equal(int64(1)))
			for _, r := range results {
				Expect(r.Available()).To(BeTrue())
				Expect(r.Record.Symbol).To(Equal("VTI"))
			}
		})

		It("keeps a shared call alive when the caller that started it goes away", func() {
			delay = 100 * time.Millisecond
			o := newOrchestrator()

			firstCtx, cancelFirst := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancelFirst()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				o.Get(firstCtx, "VTI")
			}()

			time.Sleep(10 * time.Millisecond)
			second := o.Get(ctx, "VTI")
			wg.Wait()

			Expect(second.Source).To(Equal(data.SourceAPI))
			Expect(calls.Load()).To(Equal(int64(1)))
			_, err := store.Load(ctx, "VTI")
			Expect(err).To(BeNil())
		})
	})

	It("does not call the provider once the budget is spent", func() {
		cfg.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
		o := newOrchestrator()
		Expect(o.Get(ctx, "VTI").Source).To(Equal(data.SourceAPI))

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		Expect(o.Get(short, "BND").Source).To(Equal(data.SourceUnavailable))
		Expect(calls.Load()).To(Equal(int64(1)))
	})

	Describe("Refresh", func() {
		It("bypasses a fresh cache", func() {
			o := newOrchestrator()
			o.Get(ctx, "VTI")
			Expect(o.Refresh(ctx, "VTI").Source).To(Equal(data.SourceAPI))
			Expect(calls.Load()).To(Equal(int64(2)))
		})
	})

	Describe("Purge", func() {
		It("removes the symbol from both tiers", func() {
			o := newOrchestrator()
			o.Get(ctx, "VTI")
			Expect(o.Purge(ctx, "VTI")).To(Succeed())
			_, err := store.Load(ctx, "VTI")
			Expect(err).To(MatchError(data.ErrNotCached))
			Expect(o.Get(ctx, "VTI").Source).To(Equal(data.SourceAPI))
		})

		It("rejects an empty symbol", func() {
			o := newOrchestrator()
			Expect(o.Purge(ctx, " ")).To(MatchError(data.ErrEmptySymbol))
		})
	})

	Describe("GetMany", func() {
		symbols := func(n int) []string {
			res := make([]string, n)
			for i := range res {
				res[i] = fmt.Sprintf("SYM%02d", i)
			}
			return res
		}

		It("returns an entry for every distinct symbol", func() {
			o := newOrchestrator()
			batch := o.GetMany(ctx, append(symbols(7), "sym00", "SYM01"))
			Expect(batch.Entries).To(HaveLen(7))
			Expect(batch.RateLimited).To(BeFalse())
			Expect(batch.Retryable()).To(BeFalse())
			Expect(calls.Load()).To(Equal(int64(7)))
			Expect(batch.Degraded()).To(BeEmpty())
		})

		It("serves cache hits without calling the provider", func() {
			o := newOrchestrator()
			o.Get(ctx, "SYM00")
			batch := o.GetMany(ctx, symbols(3))
			Expect(batch.Get("SYM00").Source).To(Equal(data.SourceCache))
			Expect(calls.Load()).To(Equal(int64(3)))
		})

		It("stops calling the provider once it is rate limited", func() {
			outcome.Store(int32(data.OutcomeRateLimited))
			o := newOrchestrator()

			batch := o.GetMany(ctx, symbols(3*cfg.BatchSize))
			Expect(calls.Load()).To(BeNumerically("<=", cfg.BatchSize))
			Expect(batch.RateLimited).To(BeTrue())
			Expect(batch.Retryable()).To(BeTrue())
			Expect(len(batch.Skipped)).To(BeNumerically(">=", 2*cfg.BatchSize))
			Expect(batch.Entries).To(HaveLen(3 * cfg.BatchSize))
			for _, e := range batch.Entries {
				Expect(e.Source).To(Equal(data.SourceUnavailable))
			}
		})

		It("makes at most N successful calls when the provider allows only N", func() {
			allowed.Store(int64(cfg.BatchSize))
			o := newOrchestrator()

			batch := o.GetMany(ctx, symbols(3*cfg.BatchSize))

			served := 0
			for _, e := range batch.Entries {
				if e.Source == data.SourceAPI {
					served++
				}
			}
			Expect(served).To(Equal(cfg.BatchSize))
			Expect(calls.Load()).To(BeNumerically("<=", 2*cfg.BatchSize))
			Expect(batch.Entries).To(HaveLen(3 * cfg.BatchSize))
			Expect(batch.RateLimited).To(BeTrue())
			Expect(batch.Pending).To(HaveLen(2 * cfg.BatchSize))
			Expect(batch.Retryable()).To(BeTrue())
		})

		It("is retryable when the only symbol is the one rate limited", func() {
			outcome.Store(int32(data.OutcomeRateLimited))
			o := newOrchestrator()

			batch := o.GetMany(ctx, []string{"VTI"})
			Expect(batch.RateLimited).To(BeTrue())
			Expect(batch.Skipped).To(BeEmpty())
			Expect(batch.Pending).To(Equal([]string{"VTI"}))
			Expect(batch.Get("VTI").Source).To(Equal(data.SourceUnavailable))
			Expect(batch.Retryable()).To(BeTrue())
		})

		It("is not retryable when the provider simply fails", func() {
			outcome.Store(int32(data.OutcomeProviderError))
			o := newOrchestrator()

			batch := o.GetMany(ctx, []string{"VTI", "VXUS"})
			Expect(batch.RateLimited).To(BeFalse())
			Expect(batch.Pending).To(BeEmpty())
			Expect(batch.Retryable()).To(BeFalse())
			Expect(batch.Degraded()).To(HaveLen(2))
		})

		It("serves stale data for symbols skipped after a rate limit", func() {
			for _, symbol := range symbols(6) {
				Expect(store.Save(ctx, &data.CacheEntry[data.FundComposition]{
					Symbol: symbol, Record: composition(symbol), FetchedAt: time.Now().Add(-72 * time.Hour), Source: data.SourceAPI,
				})).To(Succeed())
			}
			outcome.Store(int32(data.OutcomeRateLimited))

			o := newOrchestrator()
			batch := o.GetMany(ctx, symbols(6))
			for _, e := range batch.Entries {
				Expect(e.Source).To(Equal(data.SourceFallbackStale))
			}
			Expect(batch.Degraded()).To(HaveLen(6))
		})

		It("stops dispatching batches after the run deadline", func() {
			cfg.BatchDelay = 50 * time.Millisecond
			cfg.RunDeadline = 30 * time.Millisecond
			o := newOrchestrator()

			batch := o.GetMany(ctx, symbols(9))
			Expect(calls.Load()).To(Equal(int64(3)))
			Expect(batch.DeadlineExceeded).To(BeTrue())
			Expect(batch.Skipped).To(HaveLen(6))
			Expect(batch.Retryable()).To(BeTrue())
		})

		It("shares one call budget between orchestrators", func() {
			cfg.Limiter = rate.NewLimiter(rate.Every(time.Hour), 2)
			compositions := newOrchestrator()
			first := compositions.GetMany(ctx, []string{"VTI", "BND"})
			Expect(calls.Load()).To(Equal(int64(2)))
			Expect(first.Retryable()).To(BeFalse())

			cfg.RunDeadline = 50 * time.Millisecond
			classifications := newOrchestrator()
			second := classifications.GetMany(ctx, []string{"QQQ", "SPY"})
			Expect(calls.Load()).To(Equal(int64(2)))
			Expect(second.RateLimited).To(BeFalse())
			Expect(second.DeadlineExceeded).To(BeTrue())
			Expect(second.Pending).To(ConsistOf("QQQ", "SPY"))
			Expect(second.Retryable()).To(BeTrue())
		})
	})

	Describe("Prewarm", func() {
		It("loads symbols in the background", func() {
			o := newOrchestrator()
			done := o.Prewarm([]string{"VTI", "VXUS"})
			Eventually(done).Should(BeClosed())
			Expect(o.Get(ctx, "VXUS").Source).To(Equal(data.SourceCache))
		})
	})
})
