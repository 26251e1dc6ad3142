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

	"github.com/penny-vault/pv-lookthrough/common"
)

type HoldingType string

const (
	HoldingStock HoldingType = "stock"
	HoldingFund  HoldingType = "fund"
	HoldingCash  HoldingType = "cash"
)

// Holding is a single position in an account. Cash carries MarketValue
// directly; other types may leave it zero and supply Quantity and LastPrice.
type Holding struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	Ticker      string      `json:"ticker,omitempty"`
	Name        string      `json:"name,omitempty"`
	Quantity    float64     `json:"quantity,omitempty"`
	LastPrice   float64     `json:"lastPrice,omitempty"`
	MarketValue float64     `json:"marketValue"`
	Type        HoldingType `json:"type"`
}

// Value returns the supplied market value, or quantity times price when no
// market value was supplied
func (h *Holding) Value() float64 {
	if h.MarketValue == 0 && h.Type != HoldingCash {
		return h.Quantity * h.LastPrice
	}
	return h.MarketValue
}

// Symbol returns the normalized ticker
func (h *Holding) Symbol() string {
	return common.NormalizeSymbol(h.Ticker)
}

// Validate checks the structural requirements a holding must meet before it
// can be resolved
func (h *Holding) Validate() error {
	if h.AccountID == "" {
		return fmt.Errorf("holding %q: %w", h.ID, ErrMissingAccount)
	}

	value := h.Value()
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("holding %q (%.2f): %w", h.ID, value, ErrNegativeMarketValue)
	}

	switch h.Type {
	case HoldingCash:
	case HoldingStock, HoldingFund:
		if h.Symbol() == "" {
			return fmt.Errorf("holding %q: %w", h.ID, ErrMissingTicker)
		}
	default:
		return fmt.Errorf("holding %q type %q: %w", h.ID, h.Type, ErrUnknownHoldingType)
	}

	return nil
}

// ValidateHoldings returns the first structural error found
func ValidateHoldings(holdings []Holding) error {
	for idx := range holdings {
		if err := holdings[idx].Validate(); err != nil {
			return err
		}
	}
	return nil
}
