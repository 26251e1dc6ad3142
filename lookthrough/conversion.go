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
	_ "embed"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/penny-vault/pv-lookthrough/common"
)

//go:embed conversion.toml
var defaultConversionTable []byte

type ConversionTarget struct {
	Symbol string  `toml:"symbol" json:"symbol"`
	Weight float64 `toml:"weight" json:"weightPercent"`
}

// ConversionRule substitutes a basket of ETFs for a fund whose composition
// cannot be fetched
type ConversionRule struct {
	Symbol  string             `toml:"symbol" json:"symbol"`
	Name    string             `toml:"name" json:"name"`
	Targets []ConversionTarget `toml:"targets" json:"targets"`
}

// TotalWeight returns the sum of target weights in percent
func (rule *ConversionRule) TotalWeight() float64 {
	total := 0.0
	for _, t := range rule.Targets {
		total += t.Weight
	}
	return total
}

type conversionDoc struct {
	Rules        []ConversionRule  `toml:"rule"`
	AssetClasses map[string]string `toml:"asset_classes"`
}

// ConversionTable is loaded once at startup and only read afterwards
type ConversionTable struct {
	rules        map[string]ConversionRule
	assetClasses map[string]string
	digest       string
}

// DefaultConversionTable returns the table compiled into the binary
func DefaultConversionTable() (*ConversionTable, error) {
	return ParseConversionTable(defaultConversionTable)
}

// LoadConversionTable reads the table at path; an empty path selects the
// compiled in default
func LoadConversionTable(path string) (*ConversionTable, error) {
	if path == "" {
		return DefaultConversionTable()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("File", path).Msg("failed to read conversion table")
		return nil, err
	}

	table, err := ParseConversionTable(raw)
	if err != nil {
		log.Error().Err(err).Str("File", path).Msg("failed to parse conversion table")
		return nil, err
	}

	log.Info().Str("File", path).Int("NumRules", table.Len()).Str("Digest", table.Digest()).Msg("loaded conversion table")
	return table, nil
}

func ParseConversionTable(raw []byte) (*ConversionTable, error) {
	var doc conversionDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	table := &ConversionTable{
		rules:        make(map[string]ConversionRule, len(doc.Rules)),
		assetClasses: make(map[string]string, len(doc.AssetClasses)),
	}

	for _, rule := range doc.Rules {
		rule.Symbol = common.NormalizeSymbol(rule.Symbol)
		if rule.Symbol == "" || len(rule.Targets) == 0 {
			return nil, fmt.Errorf("%w: rule %q needs a symbol and at least one target", ErrInvalidRule, rule.Name)
		}

		if _, ok := table.rules[rule.Symbol]; ok {
			return nil, fmt.Errorf("%w: duplicate rule for %s", ErrInvalidRule, rule.Symbol)
		}

		for idx := range rule.Targets {
			rule.Targets[idx].Symbol = common.NormalizeSymbol(rule.Targets[idx].Symbol)
			if rule.Targets[idx].Symbol == "" || rule.Targets[idx].Weight < 0 {
				return nil, fmt.Errorf("%w: rule %s has an invalid target", ErrInvalidRule, rule.Symbol)
			}
		}

		if total := rule.TotalWeight(); math.Abs(total-100) > 1e-6 {
			log.Warn().Str("Symbol", rule.Symbol).Float64("TotalWeight", total).Msg("conversion rule weights do not sum to 100; the difference is scaled away or attributed to other")
		}

		table.rules[rule.Symbol] = rule
	}

	for symbol, assetClass := range doc.AssetClasses {
		table.assetClasses[common.NormalizeSymbol(symbol)] = assetClass
	}

	digest, err := computeDigest(raw)
	if err != nil {
		return nil, err
	}
	table.digest = digest

	return table, nil
}

// Rule returns the conversion rule for symbol
func (table *ConversionTable) Rule(symbol string) (ConversionRule, bool) {
	rule, ok := table.rules[common.NormalizeSymbol(symbol)]
	return rule, ok
}

// AssetClass returns the configured asset class for symbol
func (table *ConversionTable) AssetClass(symbol string) (string, bool) {
	assetClass, ok := table.assetClasses[common.NormalizeSymbol(symbol)]
	return assetClass, ok
}

func (table *ConversionTable) Len() int {
	return len(table.rules)
}

// Digest identifies the table contents; reports carry it so results can be
// traced back to the rules they were computed with
func (table *ConversionTable) Digest() string {
	return table.digest
}

// Rules returns every rule ordered by symbol
func (table *ConversionTable) Rules() []ConversionRule {
	res := make([]ConversionRule, 0, len(table.rules))
	for _, rule := range table.rules {
		res = append(res, rule)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Symbol < res[j].Symbol
	})
	return res
}

// TargetSymbols lists every ETF referenced by a rule; these are the
// compositions worth prewarming
func (table *ConversionTable) TargetSymbols() []string {
	res := make([]string, 0)
	for _, rule := range table.rules {
		for _, t := range rule.Targets {
			res = append(res, t.Symbol)
		}
	}
	return common.UniqueSymbols(res)
}

// computeDigest calculates a 16-byte blake3 hash of the raw table
func computeDigest(raw []byte) (string, error) {
	h := blake3.New()
	if _, err := h.Write(raw); err != nil {
		log.Error().Stack().Err(err).Msg("could not write conversion table to blake3 hasher")
		return "", err
	}

	buf := make([]byte, 16)
	n, err := h.Digest().Read(buf)
	if err != nil {
		return "", err
	}
	if n != 16 {
		return "", ErrGenerateHash
	}

	return hex.EncodeToString(buf), nil
}
