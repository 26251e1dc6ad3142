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

import "time"

// SourceTag records which tier produced a served cache entry
type SourceTag string

const (
	SourceAPI           SourceTag = "api"
	SourceCache         SourceTag = "cache"
	SourceFallbackStale SourceTag = "fallback-stale"
	SourceUnavailable   SourceTag = "unavailable"
)

// Kind names a family of cached records; it namespaces the persistent tier
type Kind string

const (
	KindComposition    Kind = "composition"
	KindClassification Kind = "classification"
)

// FundHolding is a single underlying position of a fund
type FundHolding struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name,omitempty"`
	WeightPercent float64  `json:"weightPercent"`
	Shares        *float64 `json:"shares,omitempty"`
}

// FundComposition is the list of underlying holdings of an ETF or mutual fund.
// Weights are percentages of the fund and may not sum to exactly 100.
type FundComposition struct {
	Symbol   string        `json:"symbol"`
	Name     string        `json:"name"`
	Holdings []FundHolding `json:"holdings"`
}

// TotalWeight returns the sum of all holding weights in percent
func (fc *FundComposition) TotalWeight() float64 {
	total := 0.0
	for _, h := range fc.Holdings {
		total += h.WeightPercent
	}
	return total
}

// SecurityClassification is company metadata used to group exposures
type SecurityClassification struct {
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Sector       string `json:"sector"`
	Industry     string `json:"industry"`
	OfficialSite string `json:"officialSite,omitempty"`
	Country      string `json:"country,omitempty"`
	AssetType    string `json:"assetType,omitempty"`
}

// IsFund reports if the provider classified the security as a pooled vehicle
func (sc *SecurityClassification) IsFund() bool {
	switch sc.AssetType {
	case "ETF", "Mutual Fund", "MUTUALFUND":
		return true
	default:
		return false
	}
}

// CacheEntry wraps a fetched record. Entries are never mutated once written;
// WithSource returns a re-tagged copy.
type CacheEntry[T any] struct {
	Symbol    string    `json:"symbol"`
	Record    T         `json:"record"`
	FetchedAt time.Time `json:"fetchedAt"`
	Source    SourceTag `json:"sourceTag"`
}

// WithSource returns a copy of the entry tagged with source
func (e *CacheEntry[T]) WithSource(source SourceTag) *CacheEntry[T] {
	cp := *e
	cp.Source = source
	return &cp
}

// Available reports whether the entry carries a record
func (e *CacheEntry[T]) Available() bool {
	return e != nil && e.Source != SourceUnavailable
}

// Age returns how long ago the record was fetched
func (e *CacheEntry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

func unavailable[T any](symbol string) *CacheEntry[T] {
	return &CacheEntry[T]{
		Symbol: symbol,
		Source: SourceUnavailable,
	}
}
