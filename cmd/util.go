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

package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/data"
	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

// buildEngine loads the conversion table and connects the data manager
// described by the current configuration. Callers must Close the manager.
func buildEngine(ctx context.Context) (*data.Manager, *lookthrough.Engine, error) {
	table, err := lookthrough.LoadConversionTable(viper.GetString("conversion.table"))
	if err != nil {
		return nil, nil, err
	}

	manager, err := data.NewManager(ctx, data.ConfigFromViper())
	if err != nil {
		log.Error().Err(err).Msg("could not initialize data manager")
		return nil, nil, err
	}

	engine := lookthrough.NewEngine(table, manager.Compositions, manager.Classifications, lookthrough.ResolverOptions{})
	log.Info().Str("ConversionDigest", table.Digest()).Int("NumRules", table.Len()).Msg("initialized look-through engine")

	return manager, engine, nil
}

// prewarmSymbols merges the configured prewarm list with extra, normalized
// and de-duplicated
func prewarmSymbols(extra ...[]string) []string {
	symbols := append([]string{}, viper.GetStringSlice("prewarm.symbols")...)
	for _, xs := range extra {
		symbols = append(symbols, xs...)
	}
	return common.UniqueSymbols(symbols)
}
