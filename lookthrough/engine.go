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
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
)

// Request asks for the look-through exposure of a set of holdings
type Request struct {
	Holdings []Holding         `json:"holdings"`
	GroupBy  []Dimension       `json:"groupBy,omitempty"`
	Merge    map[string]string `json:"merge,omitempty"`

	IncludeExposures bool `json:"includeExposures,omitempty"`
}

// Report is the result of one engine run. Partial is set when some value
// could not be attributed because data was unavailable; Retryable is set when
// the provider cut the run short and trying again later may fill the gaps.
type Report struct {
	RunID            string                `json:"runId"`
	ComputedAt       time.Time             `json:"computedAt"`
	ConversionDigest string                `json:"conversionDigest"`
	TotalValue       float64               `json:"totalValue"`
	UnresolvedValue  float64               `json:"unresolvedValue"`
	Partial          bool                  `json:"partial"`
	Retryable        bool                  `json:"retryable"`
	RateLimited      bool                  `json:"rateLimited"`
	Degraded         []string              `json:"degraded"`
	Groups           map[Dimension][]Group `json:"groups"`
	Exposures        []ResolvedExposure    `json:"exposures,omitempty"`
}

// Engine ties the resolver and aggregator together
type Engine struct {
	table    *ConversionTable
	resolver *Resolver
}

func NewEngine(table *ConversionTable, compositions CompositionSource, classifications ClassificationSource, opts ResolverOptions) *Engine {
	return &Engine{
		table:    table,
		resolver: NewResolver(table, compositions, classifications, opts),
	}
}

// ConversionTable returns the table the engine was built with
func (engine *Engine) ConversionTable() *ConversionTable {
	return engine.table
}

// Compute validates, resolves and aggregates. The only errors returned are
// structural problems with the request.
func (engine *Engine) Compute(ctx context.Context, req Request) (*Report, error) {
	runID := uuid.New().String()

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "engine.Compute")
	defer span.End()

	span.SetAttributes(
		attribute.String("RunID", runID),
		attribute.Int("NumHoldings", len(req.Holdings)),
	)

	subLog := log.With().Str("RunID", runID).Int("NumHoldings", len(req.Holdings)).Logger()

	dims := req.GroupBy
	if len(dims) == 0 {
		dims = AllDimensions
	}
	for _, dim := range dims {
		if _, err := ParseDimension(string(dim)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid dimension")
			return nil, err
		}
	}

	resolution, err := engine.resolver.Resolve(ctx, req.Holdings)
	if err != nil {
		subLog.Warn().Err(err).Msg("rejecting holdings")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid holdings")
		return nil, err
	}

	agg := NewAggregator(req.Merge)
	report := &Report{
		RunID:            runID,
		ComputedAt:       time.Now(),
		ConversionDigest: engine.table.Digest(),
		TotalValue:       TotalValue(resolution.Exposures),
		RateLimited:      resolution.RateLimited,
		Retryable:        resolution.Retryable,
		Degraded:         resolution.Degraded,
		Groups:           make(map[Dimension][]Group, len(dims)),
	}

	unresolved := &kahanSum{}
	for idx := range resolution.Exposures {
		if resolution.Exposures[idx].Status == StatusUnresolved {
			unresolved.Add(resolution.Exposures[idx].DollarValue)
		}
	}
	report.UnresolvedValue = unresolved.Sum()
	report.Partial = len(report.Degraded) > 0 || resolution.RateLimited

	for _, dim := range dims {
		groups, err := agg.Aggregate(resolution.Exposures, dim)
		if err != nil {
			return nil, err
		}
		report.Groups[dim] = groups
	}

	if req.IncludeExposures {
		report.Exposures = resolution.Exposures
	}

	if report.Partial {
		subLog.Warn().Strs("Degraded", report.Degraded).Bool("Retryable", report.Retryable).Float64("UnresolvedValue", report.UnresolvedValue).Msg("exposure computed from degraded data")
	} else {
		subLog.Info().Float64("TotalValue", report.TotalValue).Int("NumExposures", len(resolution.Exposures)).Msg("exposure computed")
	}

	return report, nil
}
