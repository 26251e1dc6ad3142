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

package lookthrough

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/data"
	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
)

// MaxLookThroughDepth is the number of fund compositions expanded along any
// path. A conversion rule is a substitution and does not count; an
// underlying that is itself a fund below this depth becomes a leaf.
const MaxLookThroughDepth = 1

type CompositionSource interface {
	Get(ctx context.Context, symbol string) *data.CacheEntry[data.FundComposition]
	GetMany(ctx context.Context, symbols []string) *data.Batch[data.FundComposition]
}

type ClassificationSource interface {
	Get(ctx context.Context, symbol string) *data.CacheEntry[data.SecurityClassification]
	GetMany(ctx context.Context, symbols []string) *data.Batch[data.SecurityClassification]
}

type ResolverOptions struct {
	// MaxDepth overrides MaxLookThroughDepth when positive
	MaxDepth int
}

// Resolver expands holdings into stock level exposures. It never fails on
// missing data: value that cannot be attributed lands in the Other bucket.
type Resolver struct {
	table           *ConversionTable
	compositions    CompositionSource
	classifications ClassificationSource
	maxDepth        int
}

// Resolution is the flat output of one resolver run
type Resolution struct {
	Exposures []ResolvedExposure

	// Degraded lists symbols served from stale data or not at all
	Degraded    []string
	RateLimited bool
	Retryable   bool
}

func NewResolver(table *ConversionTable, compositions CompositionSource, classifications ClassificationSource, opts ResolverOptions) *Resolver {
	maxDepth := MaxLookThroughDepth
	if opts.MaxDepth > 0 {
		maxDepth = opts.MaxDepth
	}

	return &Resolver{
		table:           table,
		compositions:    compositions,
		classifications: classifications,
		maxDepth:        maxDepth,
	}
}

// runState collects lookups for one resolution so each symbol is fetched once
type runState struct {
	compositions    map[string]*data.CacheEntry[data.FundComposition]
	classifications map[string]*data.CacheEntry[data.SecurityClassification]
	degraded        []string
	rateLimited     bool
	retryable       bool
}

// Resolve validates every holding and then expands them in order
func (resolver *Resolver) Resolve(ctx context.Context, holdings []Holding) (*Resolution, error) {
	if err := ValidateHoldings(holdings); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "resolver.Resolve")
	defer span.End()

	state := &runState{
		compositions:    make(map[string]*data.CacheEntry[data.FundComposition]),
		classifications: make(map[string]*data.CacheEntry[data.SecurityClassification]),
		degraded:        make([]string, 0),
	}

	// fetch every composition needed at the first level in one batched run
	firstLevel := make([]string, 0)
	for idx := range holdings {
		h := &holdings[idx]
		if h.Type != HoldingFund {
			continue
		}
		if rule, ok := resolver.table.Rule(h.Symbol()); ok {
			for _, t := range rule.Targets {
				firstLevel = append(firstLevel, t.Symbol)
			}
		} else {
			firstLevel = append(firstLevel, h.Symbol())
		}
	}
	resolver.loadCompositions(ctx, state, firstLevel)

	exposures := make([]ResolvedExposure, 0, len(holdings))
	for idx := range holdings {
		exposures = append(exposures, resolver.resolveHolding(state, &holdings[idx])...)
	}

	// Underlyings that turn out to be funds are expanded while the depth
	// bound allows, then everything left is classified.
	for {
		resolver.loadClassifications(ctx, state, exposures)

		expand := make([]string, 0)
		for idx := range exposures {
			e := &exposures[idx]
			if resolver.expandable(state, e) && e.depth < resolver.maxDepth {
				expand = append(expand, e.StockSymbol)
			}
		}
		if len(expand) == 0 {
			break
		}

		resolver.loadCompositions(ctx, state, expand)

		next := make([]ResolvedExposure, 0, len(exposures))
		for _, e := range exposures {
			if resolver.expandable(state, &e) && e.depth < resolver.maxDepth {
				entry := state.compositions[e.StockSymbol]
				if entry.Available() {
					next = append(next, resolver.expandComposition(e.HoldingID, e.Account, e.StockSymbol, e.DollarValue, e.depth, entry)...)
					continue
				}
				e.Status = StatusLeaf
				e.depth = resolver.maxDepth
			}
			next = append(next, e)
		}
		exposures = next
	}

	for idx := range exposures {
		resolver.annotate(state, &exposures[idx])
	}

	span.SetAttributes(
		attribute.Int("NumHoldings", len(holdings)),
		attribute.Int("NumExposures", len(exposures)),
		attribute.Int("NumDegraded", len(state.degraded)),
	)

	return &Resolution{
		Exposures:   exposures,
		Degraded:    common.UniqueSymbols(state.degraded),
		RateLimited: state.rateLimited,
		Retryable:   state.retryable,
	}, nil
}

func (resolver *Resolver) resolveHolding(state *runState, h *Holding) []ResolvedExposure {
	value := h.Value()

	switch h.Type {
	case HoldingCash:
		return []ResolvedExposure{{
			Account:     h.AccountID,
			DollarValue: value,
			Sector:      BucketCash,
			AssetClass:  AssetClassCash,
			HoldingID:   h.ID,
			Status:      StatusResolved,
		}}
	case HoldingStock:
		return []ResolvedExposure{{
			StockSymbol: h.Symbol(),
			Account:     h.AccountID,
			DollarValue: value,
			HoldingID:   h.ID,
			Status:      StatusResolved,
		}}
	}

	symbol := h.Symbol()
	if rule, ok := resolver.table.Rule(symbol); ok {
		// rules are held to the same conservation as compositions: an
		// over-allocated rule is scaled, a short one leaves an Other residual
		total := rule.TotalWeight()
		scale := 1.0
		if total > 100 {
			scale = 100 / total
		}

		res := make([]ResolvedExposure, 0, len(rule.Targets)+1)
		for _, t := range rule.Targets {
			subValue := value * t.Weight * scale / 100
			entry := state.compositions[t.Symbol]
			if entry.Available() {
				res = append(res, resolver.expandComposition(h.ID, h.AccountID, t.Symbol, subValue, 0, entry)...)
				continue
			}

			// the ETF itself is the most precise bucket available
			res = append(res, ResolvedExposure{
				StockSymbol: t.Symbol,
				Account:     h.AccountID,
				DollarValue: subValue,
				HoldingID:   h.ID,
				Via:         symbol,
				Source:      data.SourceUnavailable,
				Status:      StatusLeaf,
				depth:       resolver.maxDepth,
			})
		}

		if total < 100 {
			res = append(res, otherExposure(h.ID, h.AccountID, symbol, value*(100-total)/100, ""))
		}
		return res
	}

	entry := state.compositions[symbol]
	if entry.Available() {
		return resolver.expandComposition(h.ID, h.AccountID, symbol, value, 0, entry)
	}

	log.Debug().Str("HoldingID", h.ID).Str("Symbol", symbol).Float64("Value", value).Msg("no composition available; attributing fund to other")
	return []ResolvedExposure{otherExposure(h.ID, h.AccountID, symbol, value, data.SourceUnavailable)}
}

// expandComposition distributes value over the fund's holdings. Weights above
// 100% in total are scaled down; a shortfall becomes an explicit Other
// exposure so the fund's full value is always accounted for.
func (resolver *Resolver) expandComposition(holdingID, account, fund string, value float64, depth int, entry *data.CacheEntry[data.FundComposition]) []ResolvedExposure {
	holdings := entry.Record.Holdings

	total := 0.0
	for _, fh := range holdings {
		if fh.WeightPercent > 0 {
			total += fh.WeightPercent
		}
	}

	scale := 1.0
	if total > 100 {
		scale = 100 / total
	}

	res := make([]ResolvedExposure, 0, len(holdings)+1)
	other := 0.0
	for _, fh := range holdings {
		if fh.WeightPercent <= 0 {
			continue
		}

		subValue := value * fh.WeightPercent * scale / 100
		symbol := common.NormalizeSymbol(fh.Symbol)
		if symbol == "" {
			other += subValue
			continue
		}

		res = append(res, ResolvedExposure{
			StockSymbol: symbol,
			Account:     account,
			DollarValue: subValue,
			HoldingID:   holdingID,
			Via:         fund,
			Source:      entry.Source,
			Status:      StatusResolved,
			depth:       depth + 1,
		})
	}

	if total < 100 {
		other += value * (100 - total) / 100
	}

	if other > 0 {
		res = append(res, otherExposure(holdingID, account, fund, other, entry.Source))
	}

	return res
}

func otherExposure(holdingID, account, via string, value float64, source data.SourceTag) ResolvedExposure {
	return ResolvedExposure{
		Account:     account,
		DollarValue: value,
		Sector:      BucketOther,
		AssetClass:  AssetClassOther,
		HoldingID:   holdingID,
		Via:         via,
		Source:      source,
		Status:      StatusUnresolved,
	}
}

// expandable reports if e came out of a composition and is itself a fund
func (resolver *Resolver) expandable(state *runState, e *ResolvedExposure) bool {
	if e.StockSymbol == "" || e.depth == 0 || e.Status != StatusResolved {
		return false
	}
	if _, ok := resolver.table.Rule(e.StockSymbol); ok {
		return true
	}
	if entry, ok := state.classifications[e.StockSymbol]; ok && entry.Available() {
		return entry.Record.IsFund()
	}
	return false
}

// annotate fills sector and asset class; a fund at the depth bound becomes a leaf
func (resolver *Resolver) annotate(state *runState, e *ResolvedExposure) {
	if e.StockSymbol == "" {
		return
	}

	if resolver.expandable(state, e) {
		e.Status = StatusLeaf
	}

	entry := state.classifications[e.StockSymbol]

	e.Sector = BucketOther
	if entry.Available() && entry.Record.Sector != "" {
		e.Sector = entry.Record.Sector
	}

	e.AssetClass = resolver.assetClass(e.StockSymbol, entry)
}

func (resolver *Resolver) assetClass(symbol string, entry *data.CacheEntry[data.SecurityClassification]) string {
	if assetClass, ok := resolver.table.AssetClass(symbol); ok {
		return assetClass
	}

	if entry.Available() {
		country := strings.ToUpper(strings.TrimSpace(entry.Record.Country))
		if country != "" && country != "USA" && country != "US" && country != "UNITED STATES" {
			return AssetClassInternationalStocks
		}
	}

	return AssetClassUSStocks
}

func (resolver *Resolver) loadCompositions(ctx context.Context, state *runState, symbols []string) {
	pending := make([]string, 0, len(symbols))
	for _, symbol := range common.UniqueSymbols(symbols) {
		if _, ok := state.compositions[symbol]; !ok {
			pending = append(pending, symbol)
		}
	}
	if len(pending) == 0 {
		return
	}

	batch := resolver.compositions.GetMany(ctx, pending)
	for _, symbol := range pending {
		state.compositions[symbol] = batch.Get(symbol)
	}
	state.merge(batch.Degraded(), batch.RateLimited, batch.Retryable())
}

func (resolver *Resolver) loadClassifications(ctx context.Context, state *runState, exposures []ResolvedExposure) {
	pending := make([]string, 0)
	for idx := range exposures {
		symbol := exposures[idx].StockSymbol
		if symbol == "" {
			continue
		}
		if _, ok := state.classifications[symbol]; !ok {
			pending = append(pending, symbol)
		}
	}
	pending = common.UniqueSymbols(pending)
	if len(pending) == 0 {
		return
	}

	batch := resolver.classifications.GetMany(ctx, pending)
	for _, symbol := range pending {
		state.classifications[symbol] = batch.Get(symbol)
	}
	state.merge(batch.Degraded(), batch.RateLimited, batch.Retryable())
}

func (state *runState) merge(degraded []string, rateLimited, retryable bool) {
	state.degraded = append(state.degraded, degraded...)
	state.rateLimited = state.rateLimited || rateLimited
	state.retryable = state.retryable || retryable
}
