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

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-lookthrough/data"
)

const avURL = "https://www.alphavantage.co/query"

var _ = Describe("AlphaVantage", func() {
	var (
		ctx      context.Context
		provider *data.AlphaVantage
	)

	BeforeEach(func() {
		ctx = context.Background()
		httpmock.Activate()
		provider = data.NewAlphaVantage("TEST", data.WithCallsPerMinute(0))
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	register := func(function, symbol string, status int, body string) {
		httpmock.RegisterResponderWithQuery("GET", avURL, map[string]string{
			"function": function,
			"symbol":   symbol,
			"apikey":   "TEST",
		}, httpmock.NewStringResponder(status, body))
	}

	Describe("FetchComposition", func() {
		It("converts fractional weights to percent", func() {
			register("ETF_PROFILE", "VTI", 200, `{"net_assets":"1000","holdings":[
				{"symbol":"AAPL","description":"APPLE INC","weight":"0.0650"},
				{"symbol":"MSFT","description":"MICROSOFT CORP","weight":"0.0610"},
				{"symbol":"n/a","description":"CASH","weight":"0.0010"}]}`)

			res := provider.FetchComposition(ctx, "VTI")
			Expect(res.Outcome).To(Equal(data.OutcomeOK))
			Expect(res.Record.Symbol).To(Equal("VTI"))
			Expect(res.Record.Holdings).To(HaveLen(3))
			Expect(res.Record.Holdings[0].Symbol).To(Equal("AAPL"))
			Expect(res.Record.Holdings[0].WeightPercent).To(BeNumerically("~", 6.5, 1e-9))
			Expect(res.Record.Holdings[2].Symbol).To(Equal(""))
		})

		It("reports a provider error when no holdings are returned", func() {
			register("ETF_PROFILE", "AAPL", 200, `{"net_assets":"0","holdings":[]}`)
			res := provider.FetchComposition(ctx, "AAPL")
			Expect(res.Outcome).To(Equal(data.OutcomeProviderError))
		})
	})

	Describe("FetchClassification", func() {
		It("parses the overview", func() {
			register("OVERVIEW", "AAPL", 200, `{"Symbol":"AAPL","AssetType":"Common Stock","Name":"Apple Inc",
				"Country":"USA","Sector":"TECHNOLOGY","Industry":"ELECTRONIC COMPUTERS","OfficialSite":"https://www.apple.com"}`)

			res := provider.FetchClassification(ctx, "AAPL")
			Expect(res.Outcome).To(Equal(data.OutcomeOK))
			Expect(res.Record.Sector).To(Equal("Technology"))
			Expect(res.Record.Industry).To(Equal("Electronic Computers"))
			Expect(res.Record.OfficialSite).To(Equal("https://www.apple.com"))
			Expect(res.Record.IsFund()).To(BeFalse())
		})

		It("capitalizes words that start with a non-ASCII letter", func() {
			register("OVERVIEW", "SAN", 200, `{"Symbol":"SAN","AssetType":"Common Stock","Name":"Banco Santander",
				"Country":"Spain","Sector":"ÉNERGIE ÉOLIENNE","Industry":"ÖFFENTLICHE VERSORGER"}`)

			res := provider.FetchClassification(ctx, "SAN")
			Expect(res.Outcome).To(Equal(data.OutcomeOK))
			Expect(res.Record.Sector).To(Equal("Énergie Éolienne"))
			Expect(res.Record.Industry).To(Equal("Öffentliche Versorger"))
		})
	})

	DescribeTable("response classification",
		func(status int, body string, expected data.Outcome) {
			register("OVERVIEW", "MSFT", status, body)
			res := provider.FetchClassification(ctx, "MSFT")
			Expect(res.Outcome).To(Equal(expected))
		},
		Entry("when the body carries a Note", 200, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, data.OutcomeRateLimited),
		Entry("when Information mentions the rate limit", 200, `{"Information":"We have detected your API key and our standard API rate limit is 25 requests per day"}`, data.OutcomeRateLimited),
		Entry("when Information is some other message", 200, `{"Information":"This is a premium endpoint"}`, data.OutcomeProviderError),
		Entry("when the body carries an Error Message", 200, `{"Error Message":"Invalid API call"}`, data.OutcomeProviderError),
		Entry("when the body is an empty object", 200, `{}`, data.OutcomeProviderError),
		Entry("when the body is empty", 200, ``, data.OutcomeProviderError),
		Entry("when the status is 429", 429, `slow down`, data.OutcomeRateLimited),
		Entry("when the status is 500", 500, `oops`, data.OutcomeProviderError),
	)

	It("reports a provider error when the transport fails", func() {
		res := provider.FetchClassification(ctx, "NOPE")
		Expect(res.Outcome).To(Equal(data.OutcomeProviderError))
	})
})
