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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
)

const (
	DefaultAlphaVantageURL = "https://www.alphavantage.co/query"
	DefaultCallsPerMinute  = 5
	DefaultProviderTimeout = 15 * time.Second
)

// AlphaVantage fetches ETF holdings (ETF_PROFILE) and company metadata
// (OVERVIEW). Rate limiting is reported in a 200 response body, so every
// response is classified before it is returned.
type AlphaVantage struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type AlphaVantageOption func(*AlphaVantage)

func WithBaseURL(baseURL string) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.httpClient = client
	}
}

// WithCallsPerMinute replaces the client side limiter; n <= 0 disables it
func WithCallsPerMinute(n int) AlphaVantageOption {
	return func(av *AlphaVantage) {
		av.limiter = NewCallLimiter(n)
	}
}

// NewCallLimiter allows n calls per minute with a burst of n; n <= 0 means
// unlimited
func NewCallLimiter(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

func NewAlphaVantage(apiKey string, opts ...AlphaVantageOption) *AlphaVantage {
	av := &AlphaVantage{
		baseURL: DefaultAlphaVantageURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultProviderTimeout,
		},
	}
	WithCallsPerMinute(DefaultCallsPerMinute)(av)

	for _, opt := range opts {
		opt(av)
	}

	return av
}

type avStatus struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

type avETFHolding struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Weight      string `json:"weight"`
}

type avETFProfile struct {
	NetAssets string         `json:"net_assets"`
	Holdings  []avETFHolding `json:"holdings"`
}

type avOverview struct {
	Symbol       string `json:"Symbol"`
	AssetType    string `json:"AssetType"`
	Name         string `json:"Name"`
	Country      string `json:"Country"`
	Sector       string `json:"Sector"`
	Industry     string `json:"Industry"`
	OfficialSite string `json:"OfficialSite"`
}

// FetchComposition calls ETF_PROFILE. Weights are returned by the provider as
// fractions and converted to percent.
func (av *AlphaVantage) FetchComposition(ctx context.Context, symbol string) Result[FundComposition] {
	body, res := av.query(ctx, "ETF_PROFILE", symbol)
	if res.Outcome != OutcomeOK {
		return ProviderResult[FundComposition](res)
	}

	profile := avETFProfile{}
	if err := json.Unmarshal(body, &profile); err != nil {
		return ProviderError[FundComposition](fmt.Sprintf("could not decode ETF_PROFILE: %s", err))
	}

	if len(profile.Holdings) == 0 {
		return ProviderError[FundComposition]("no holdings returned")
	}

	composition := FundComposition{
		Symbol:   symbol,
		Name:     symbol,
		Holdings: make([]FundHolding, 0, len(profile.Holdings)),
	}

	for _, h := range profile.Holdings {
		weight, err := strconv.ParseFloat(strings.TrimSpace(h.Weight), 64)
		if err != nil {
			log.Warn().Str("Fund", symbol).Str("Holding", h.Symbol).Str("Weight", h.Weight).Msg("skipping holding with unparseable weight")
			continue
		}

		underlying := strings.ToUpper(strings.TrimSpace(h.Symbol))
		if underlying == "N/A" {
			underlying = ""
		}

		composition.Holdings = append(composition.Holdings, FundHolding{
			Symbol:        underlying,
			Name:          h.Description,
			WeightPercent: weight * 100,
		})
	}

	return Ok(composition)
}

// FetchClassification calls OVERVIEW
func (av *AlphaVantage) FetchClassification(ctx context.Context, symbol string) Result[SecurityClassification] {
	body, res := av.query(ctx, "OVERVIEW", symbol)
	if res.Outcome != OutcomeOK {
		return ProviderResult[SecurityClassification](res)
	}

	overview := avOverview{}
	if err := json.Unmarshal(body, &overview); err != nil {
		return ProviderError[SecurityClassification](fmt.Sprintf("could not decode OVERVIEW: %s", err))
	}

	if overview.Symbol == "" {
		return ProviderError[SecurityClassification]("empty overview returned")
	}

	officialSite := overview.OfficialSite
	if officialSite == "None" {
		officialSite = ""
	}

	return Ok(SecurityClassification{
		Symbol:       symbol,
		Name:         overview.Name,
		Sector:       titleCase(overview.Sector),
		Industry:     titleCase(overview.Industry),
		OfficialSite: officialSite,
		Country:      overview.Country,
		AssetType:    overview.AssetType,
	})
}

// ProviderResult carries a non-OK outcome over to another record type
func ProviderResult[T any, U any](res Result[U]) Result[T] {
	return Result[T]{Outcome: res.Outcome, Detail: res.Detail}
}

// query performs the request and classifies the response. On OutcomeOK the
// raw body is returned for decoding.
func (av *AlphaVantage) query(ctx context.Context, function, symbol string) ([]byte, Result[struct{}]) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "alphavantage."+function)
	defer span.End()

	span.SetAttributes(
		attribute.String("Function", function),
		attribute.String("Symbol", symbol),
	)

	subLog := log.With().Str("Function", function).Str("Symbol", symbol).Logger()

	if err := av.limiter.Wait(ctx); err != nil {
		msg := "client side rate limit budget exhausted"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Err(err).Msg(msg)
		return nil, RateLimited[struct{}](msg)
	}

	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("apikey", av.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, av.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not build request")
		return nil, ProviderError[struct{}](err.Error())
	}

	resp, err := av.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		msg := "alphavantage http request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Err(err).Msg(msg)
		return nil, ProviderError[struct{}](err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		msg := "could not read alphavantage body"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Err(err).Msg(msg)
		return nil, ProviderError[struct{}](err.Error())
	}

	span.SetAttributes(attribute.Int("StatusCode", resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests {
		span.SetStatus(codes.Error, "rate limited")
		subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("alphavantage rate limited the request")
		return nil, RateLimited[struct{}](fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "alphavantage returned invalid response code"
		span.SetStatus(codes.Error, msg)
		subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Bytes("Body", body).Msg(msg)
		return nil, ProviderError[struct{}](fmt.Sprintf("HTTP request returned invalid status code: %d", resp.StatusCode))
	}

	res := classifyBody(body)
	if res.Outcome != OutcomeOK {
		span.SetStatus(codes.Error, res.Outcome.String())
		subLog.Warn().Str("Outcome", res.Outcome.String()).Str("Detail", res.Detail).Msg("alphavantage request not served")
		return nil, res
	}

	return body, res
}

// classifyBody looks for the soft failure markers alphavantage places in an
// otherwise successful response
func classifyBody(body []byte) Result[struct{}] {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" {
		return ProviderError[struct{}]("empty response")
	}

	status := avStatus{}
	if err := json.Unmarshal(body, &status); err != nil {
		return ProviderError[struct{}](fmt.Sprintf("response is not a JSON object: %s", err))
	}

	switch {
	case status.Note != "":
		return RateLimited[struct{}](status.Note)
	case status.Information != "" && isRateLimitMessage(status.Information):
		return RateLimited[struct{}](status.Information)
	case status.Information != "":
		return ProviderError[struct{}](status.Information)
	case status.ErrorMessage != "":
		return ProviderError[struct{}](status.ErrorMessage)
	}

	return Ok(struct{}{})
}

func isRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "call frequency", "requests per day", "requests per minute"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// titleCase turns "INFORMATION TECHNOLOGY" into "Information Technology"
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
