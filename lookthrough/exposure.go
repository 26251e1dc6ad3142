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

import "github.com/penny-vault/pv-lookthrough/data"

const (
	BucketOther = "Other"
	BucketCash  = "Cash"

	AssetClassUSStocks            = "U.S. Stocks"
	AssetClassInternationalStocks = "International Stocks"
	AssetClassCash                = "Cash"
	AssetClassOther               = "Other"
)

type ExposureStatus string

const (
	// StatusResolved is a stock (or cash) reached through full expansion
	StatusResolved ExposureStatus = "resolved"

	// StatusLeaf is a fund that was not expanded, either because no
	// composition was available for a conversion target or because it sits
	// below the look-through depth bound
	StatusLeaf ExposureStatus = "leaf"

	// StatusUnresolved is value that could not be attributed to any symbol
	StatusUnresolved ExposureStatus = "unresolved"
)

// ResolvedExposure is the dollar value of one holding attributed to one
// underlying security
type ResolvedExposure struct {
	StockSymbol string         `json:"stockSymbol,omitempty"`
	Account     string         `json:"account"`
	DollarValue float64        `json:"dollarValue"`
	Sector      string         `json:"sector"`
	AssetClass  string         `json:"assetClass"`
	HoldingID   string         `json:"holdingId"`
	Via         string         `json:"via,omitempty"`
	Source      data.SourceTag `json:"source,omitempty"`
	Status      ExposureStatus `json:"status"`

	depth int
}
