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

package lookthrough_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

var _ = Describe("Holding", func() {
	It("derives market value from quantity and price", func() {
		h := lookthrough.Holding{ID: "1", AccountID: "a", Ticker: "VTI", Quantity: 4, LastPrice: 250.5, Type: lookthrough.HoldingFund}
		Expect(h.Value()).To(BeNumerically("~", 1002, 1e-9))
	})

	It("prefers a supplied market value", func() {
		h := lookthrough.Holding{ID: "1", AccountID: "a", Ticker: "VTI", Quantity: 4, LastPrice: 250.5, MarketValue: 1000, Type: lookthrough.HoldingFund}
		Expect(h.Value()).To(Equal(1000.0))
	})

	DescribeTable("validation",
		func(h lookthrough.Holding, expected error) {
			err := h.Validate()
			if expected == nil {
				Expect(err).To(BeNil())
			} else {
				Expect(err).To(MatchError(expected))
			}
		},
		Entry("a valid stock", lookthrough.Holding{ID: "1", AccountID: "a", Ticker: "AAPL", MarketValue: 10, Type: lookthrough.HoldingStock}, nil),
		Entry("cash without a ticker", lookthrough.Holding{ID: "2", AccountID: "a", MarketValue: 10, Type: lookthrough.HoldingCash}, nil),
		Entry("a zero value fund", lookthrough.Holding{ID: "3", AccountID: "a", Ticker: "VTI", Type: lookthrough.HoldingFund}, nil),
		Entry("a negative market value", lookthrough.Holding{ID: "4", AccountID: "a", Ticker: "AAPL", MarketValue: -10, Type: lookthrough.HoldingStock}, lookthrough.ErrNegativeMarketValue),
		Entry("negative cash", lookthrough.Holding{ID: "5", AccountID: "a", MarketValue: -0.01, Type: lookthrough.HoldingCash}, lookthrough.ErrNegativeMarketValue),
		Entry("a missing account", lookthrough.Holding{ID: "6", Ticker: "AAPL", MarketValue: 10, Type: lookthrough.HoldingStock}, lookthrough.ErrMissingAccount),
		Entry("a fund without a ticker", lookthrough.Holding{ID: "7", AccountID: "a", MarketValue: 10, Type: lookthrough.HoldingFund}, lookthrough.ErrMissingTicker),
		Entry("an unknown type", lookthrough.Holding{ID: "8", AccountID: "a", Ticker: "BTC", MarketValue: 10, Type: "crypto"}, lookthrough.ErrUnknownHoldingType),
	)
})
