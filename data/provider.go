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
	"fmt"
)

// Outcome classifies a provider response before any caching decision is made
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeProviderError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeProviderError:
		return "provider-error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged response of a single provider call
type Result[T any] struct {
	Outcome Outcome
	Record  T
	Detail  string
}

func Ok[T any](record T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Record: record}
}

func RateLimited[T any](detail string) Result[T] {
	return Result[T]{Outcome: OutcomeRateLimited, Detail: detail}
}

func ProviderError[T any](detail string) Result[T] {
	return Result[T]{Outcome: OutcomeProviderError, Detail: detail}
}

// FetchFunc performs exactly one provider call for symbol. Implementations
// must not return raw transport errors; everything is folded into Result.
type FetchFunc[T any] func(ctx context.Context, symbol string) Result[T]

// Provider is the external data source for both record kinds
type Provider interface {
	FetchComposition(ctx context.Context, symbol string) Result[FundComposition]
	FetchClassification(ctx context.Context, symbol string) Result[SecurityClassification]
}
