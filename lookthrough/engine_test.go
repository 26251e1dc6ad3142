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
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-lookthrough/data"
	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

func sumGroups(groups []lookthrough.Group) float64 {
	total := 0.0
	for _, g := range groups {
		total += g.TotalValue
	}
	return total
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		provider *fakeProvider
		engine   *lookthrough.Engine
		holdings []lookthrough.Holding
	)

	BeforeEach(func() {
		ctx = context.Background()
		provider = newFakeProvider()

		provider.addFund("VTI",
			data.FundHolding{Symbol: "AAPL", WeightPercent: 6.13},
			data.FundHolding{Symbol: "MSFT", WeightPercent: 5.87},
			data.FundHolding{Symbol: "GOOG", WeightPercent: 1.71},
			data.FundHolding{Symbol: "GOOGL", WeightPercent: 1.98},
			data.FundHolding{Symbol: "BRK.B", WeightPercent: 1.33},
		)
		provider.addFund("QQQ",
			data.FundHolding{Symbol: "AAPL", WeightPercent: 8.87},
			data.FundHolding{Symbol: "MSFT", WeightPercent: 8.12},
			data.FundHolding{Symbol: "GOOGL", WeightPercent: 2.61},
			data.FundHolding{Symbol: "ASML", WeightPercent: 1.01},
		)
		provider.addClassification("AAPL", "Technology", "USA", "Common Stock")
		provider.addClassification("MSFT", "Technology", "USA", "Common Stock")
		provider.addClassification("GOOG", "Communication Services", "USA", "Common Stock")
		provider.addClassification("GOOGL", "Communication Services", "USA", "Common Stock")
		provider.addClassification("ASML", "Technology", "Netherlands", "Common Stock")

		table, err := lookthrough.DefaultConversionTable()
		Expect(err).To(BeNil())

		compositions, classifications, _ := sources(provider, 5)
		engine = lookthrough.NewEngine(table, compositions, classifications, lookthrough.ResolverOptions{})

		holdings = []lookthrough.Holding{
			{ID: "h1", AccountID: "taxable", Ticker: "VTI", Quantity: 12.5, LastPrice: 271.33, Type: lookthrough.HoldingFund},
			{ID: "h2", AccountID: "ira", Ticker: "QQQ", MarketValue: 4_321.09, Type: lookthrough.HoldingFund},
			{ID: "h3", AccountID: "ira", Ticker: "AAPL", Quantity: 3, LastPrice: 189.97, Type: lookthrough.HoldingStock},
			{ID: "h4", AccountID: "401k", Ticker: "VFIFX", MarketValue: 10_000, Type: lookthrough.HoldingFund},
			{ID: "h5", AccountID: "401k", Ticker: "XYZFX", MarketValue: 1_000, Type: lookthrough.HoldingFund},
			{ID: "h6", AccountID: "taxable", MarketValue: 812.44, Type: lookthrough.HoldingCash},
		}
	})

	inputTotal := func() float64 {
		total := 0.0
		for idx := range holdings {
			total += holdings[idx].Value()
		}
		return total
	}

	It("conserves the portfolio value in every dimension", func() {
		report, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(BeNil())
		Expect(report.TotalValue).To(BeNumerically("~", inputTotal(), 1e-6))
		Expect(report.Groups).To(HaveLen(len(lookthrough.AllDimensions)))

		for _, dim := range lookthrough.AllDimensions {
			Expect(sumGroups(report.Groups[dim])).To(BeNumerically("~", inputTotal(), 1e-6), fmt.Sprintf("dimension %s", dim))
		}
	})

	It("reports shares that add up to 100 percent", func() {
		report, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings, GroupBy: []lookthrough.Dimension{lookthrough.DimensionSector}})
		Expect(err).To(BeNil())

		share := 0.0
		for _, g := range report.Groups[lookthrough.DimensionSector] {
			share += g.SharePercent
		}
		Expect(share).To(BeNumerically("~", 100, 1e-9))
	})

	It("produces identical groups when run twice against the same cache", func() {
		first, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(BeNil())
		second, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(BeNil())

		Expect(second.Groups).To(Equal(first.Groups))
		Expect(second.RunID).NotTo(Equal(first.RunID))
		Expect(second.ConversionDigest).To(Equal(first.ConversionDigest))
	})

	It("merges equivalent share classes when asked", func() {
		report, err := engine.Compute(ctx, lookthrough.Request{
			Holdings: holdings,
			GroupBy:  []lookthrough.Dimension{lookthrough.DimensionStockSymbol},
			Merge:    map[string]string{"GOOG": "GOOGL"},
		})
		Expect(err).To(BeNil())

		keys := make([]string, 0)
		for _, g := range report.Groups[lookthrough.DimensionStockSymbol] {
			keys = append(keys, g.GroupKey)
		}
		Expect(keys).To(ContainElement("GOOGL"))
		Expect(keys).NotTo(ContainElement("GOOG"))
	})

	It("flags a run with unavailable data as partial", func() {
		report, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(BeNil())
		Expect(report.Partial).To(BeTrue())
		Expect(report.Degraded).To(ContainElement("XYZFX"))
		Expect(report.UnresolvedValue).To(BeNumerically(">=", 1_000))
	})

	It("includes the exposures on request", func() {
		report, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings[5:], IncludeExposures: true})
		Expect(err).To(BeNil())
		Expect(report.Exposures).To(HaveLen(1))
		Expect(report.Partial).To(BeFalse())
	})

	It("reports a retryable partial result when the provider rate limits", func() {
		provider.outcome = data.OutcomeRateLimited
		compositions, classifications, _ := sources(provider, 1)
		engine = lookthrough.NewEngine(engine.ConversionTable(), compositions, classifications, lookthrough.ResolverOptions{})

		report, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(BeNil())
		Expect(report.RateLimited).To(BeTrue())
		Expect(report.Retryable).To(BeTrue())
		Expect(report.Partial).To(BeTrue())
		Expect(report.TotalValue).To(BeNumerically("~", inputTotal(), 1e-6))
	})

	It("rejects unknown dimensions", func() {
		_, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings, GroupBy: []lookthrough.Dimension{"color"}})
		Expect(err).To(MatchError(lookthrough.ErrUnknownDimension))
	})

	It("rejects holdings without an account", func() {
		holdings[0].AccountID = ""
		_, err := engine.Compute(ctx, lookthrough.Request{Holdings: holdings})
		Expect(err).To(MatchError(lookthrough.ErrMissingAccount))
	})
})
