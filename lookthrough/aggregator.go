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
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/penny-vault/pv-lookthrough/common"
)

type Dimension string

const (
	DimensionStockSymbol Dimension = "stockSymbol"
	DimensionSector      Dimension = "sector"
	DimensionAssetClass  Dimension = "assetClass"
	DimensionAccount     Dimension = "accountId"
)

// AllDimensions in the order reports list them
var AllDimensions = []Dimension{DimensionStockSymbol, DimensionSector, DimensionAssetClass, DimensionAccount}

func ParseDimension(s string) (Dimension, error) {
	for _, dim := range AllDimensions {
		if string(dim) == s {
			return dim, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Group is one bucket of an aggregated view
type Group struct {
	GroupKey     string  `json:"groupKey"`
	TotalValue   float64 `json:"totalValue"`
	SharePercent float64 `json:"sharePercent"`
}

// Aggregator rolls exposures up by one dimension. The merge map folds
// equivalent tickers (GOOG -> GOOGL) into one bucket and only applies to the
// stock symbol dimension.
type Aggregator struct {
	merge map[string]string
}

func NewAggregator(merge map[string]string) *Aggregator {
	normalized := make(map[string]string, len(merge))
	for from, to := range merge {
		from = common.NormalizeSymbol(from)
		to = common.NormalizeSymbol(to)
		if from == "" || to == "" || from == to {
			continue
		}
		normalized[from] = to
	}
	return &Aggregator{merge: normalized}
}

// Canonical follows the merge map to its end; cycles stop at the first repeat
func (agg *Aggregator) Canonical(symbol string) string {
	seen := make(map[string]bool)
	for {
		to, ok := agg.merge[symbol]
		if !ok || seen[symbol] {
			return symbol
		}
		seen[symbol] = true
		symbol = to
	}
}

// Aggregate returns groups sorted by total value descending, ties broken by
// key, so the output does not depend on the input order
func (agg *Aggregator) Aggregate(exposures []ResolvedExposure, dim Dimension) ([]Group, error) {
	sums := make(map[string]*kahanSum)
	total := &kahanSum{}

	for idx := range exposures {
		key, err := agg.key(&exposures[idx], dim)
		if err != nil {
			return nil, err
		}

		s, ok := sums[key]
		if !ok {
			s = &kahanSum{}
			sums[key] = s
		}
		s.Add(exposures[idx].DollarValue)
		total.Add(exposures[idx].DollarValue)
	}

	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]float64, len(keys))
	for idx, k := range keys {
		values[idx] = sums[k].Sum()
	}

	shares := make([]float64, len(values))
	if t := total.Sum(); t != 0 {
		copy(shares, values)
		floats.Scale(100/t, shares)
	}

	groups := make([]Group, len(keys))
	for idx, k := range keys {
		groups[idx] = Group{
			GroupKey:     k,
			TotalValue:   values[idx],
			SharePercent: shares[idx],
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].TotalValue != groups[j].TotalValue {
			return groups[i].TotalValue > groups[j].TotalValue
		}
		return groups[i].GroupKey < groups[j].GroupKey
	})

	return groups, nil
}

func (agg *Aggregator) key(e *ResolvedExposure, dim Dimension) (string, error) {
	switch dim {
	case DimensionStockSymbol:
		if e.StockSymbol == "" {
			if e.AssetClass == AssetClassCash {
				return BucketCash, nil
			}
			return BucketOther, nil
		}
		return agg.Canonical(e.StockSymbol), nil
	case DimensionSector:
		return orOther(e.Sector), nil
	case DimensionAssetClass:
		return orOther(e.AssetClass), nil
	case DimensionAccount:
		return orOther(e.Account), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
	}
}

func orOther(s string) string {
	if s == "" {
		return BucketOther
	}
	return s
}

// kahanSum is Neumaier's variant of compensated summation; it keeps fractional
// cents from drifting away across thousands of small exposures
type kahanSum struct {
	sum          float64
	compensation float64
}

func (k *kahanSum) Add(v float64) {
	t := k.sum + v
	if math.Abs(k.sum) >= math.Abs(v) {
		k.compensation += (k.sum - t) + v
	} else {
		k.compensation += (v - t) + k.sum
	}
	k.sum = t
}

func (k *kahanSum) Sum() float64 {
	return k.sum + k.compensation
}

// TotalValue sums the dollar value of exposures with compensated summation
func TotalValue(exposures []ResolvedExposure) float64 {
	total := &kahanSum{}
	for idx := range exposures {
		total.Add(exposures[idx].DollarValue)
	}
	return total.Sum()
}
