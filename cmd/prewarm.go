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
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-lookthrough/data"
)

var (
	prewarmClassifications bool
	prewarmNoTargets       bool
)

func init() {
	prewarmCmd.Flags().BoolVar(&prewarmClassifications, "classifications", false, "Also classify every security held by the prewarmed funds")
	prewarmCmd.Flags().BoolVar(&prewarmNoTargets, "no-targets", false, "Do not add the conversion table targets to the symbol list")

	rootCmd.AddCommand(prewarmCmd)
}

var prewarmCmd = &cobra.Command{
	Use:   "prewarm [symbols...]",
	Short: "Load fund compositions into the cache",
	Long: `Fetch fund compositions for the given symbols, the prewarm.symbols list
and the conversion table targets so later resolutions are served from cache.
Calls are batched to stay within the provider budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		manager, engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		symbols := prewarmSymbols(args)
		if !prewarmNoTargets {
			symbols = prewarmSymbols(args, engine.ConversionTable().TargetSymbols())
		}

		if len(symbols) == 0 {
			return fmt.Errorf("no symbols to prewarm")
		}

		start := time.Now()
		compositions := manager.Compositions.GetMany(ctx, symbols)
		renderBatch(os.Stdout, compositions)

		log.Info().Int("NumSymbols", len(symbols)).Dur("Elapsed", time.Since(start)).
			Int64("ProviderCalls", manager.Compositions.ProviderCalls()).Msg("compositions prewarmed")

		if prewarmClassifications {
			underlying := make([]string, 0)
			for _, entry := range compositions.Entries {
				if !entry.Available() {
					continue
				}
				for _, h := range entry.Record.Holdings {
					underlying = append(underlying, h.Symbol)
				}
			}

			classifications := manager.Classifications.GetMany(ctx, underlying)
			renderBatch(os.Stdout, classifications)

			if classifications.Retryable() {
				fmt.Printf("%d classifications still pending; run again later to continue\n", len(classifications.Pending))
			}
		}

		if compositions.Retryable() {
			fmt.Printf("%d compositions still pending; run again later to continue\n", len(compositions.Pending))
		}

		return nil
	},
}

// renderBatch prints where each record of a GetMany run came from
func renderBatch[T any](w io.Writer, batch *data.Batch[T]) {
	symbols := make([]string, 0, len(batch.Entries))
	for symbol := range batch.Entries {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "Source", "Fetched"})
	for _, symbol := range symbols {
		entry := batch.Entries[symbol]
		fetched := ""
		if !entry.FetchedAt.IsZero() {
			fetched = entry.FetchedAt.Format(time.RFC3339)
		}
		table.Append([]string{symbol, string(entry.Source), fetched})
	}
	table.Render()
}
