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
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

var (
	resolveGroupBy   []string
	resolveMerge     map[string]string
	resolveJSON      bool
	resolveExposures bool
)

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveGroupBy, "group-by", []string{}, "Dimensions to aggregate by: stockSymbol, sector, assetClass, accountId (default all)")
	resolveCmd.Flags().StringToStringVar(&resolveMerge, "merge", map[string]string{}, "Fold one ticker into another, e.g. GOOG=GOOGL")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the report as JSON")
	resolveCmd.Flags().BoolVar(&resolveExposures, "exposures", false, "Include individual exposures in the output")

	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <holdings.json>",
	Short: "Compute look-through exposure for a holdings file",
	Long: `Read holdings from a JSON file, either a list of holdings or an object
with a "holdings" key, and print the aggregated look-through exposure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		req, err := readRequest(raw)
		if err != nil {
			return fmt.Errorf("could not parse %s: %w", args[0], err)
		}

		for _, dim := range resolveGroupBy {
			parsed, err := lookthrough.ParseDimension(dim)
			if err != nil {
				return err
			}
			req.GroupBy = append(req.GroupBy, parsed)
		}
		for from, to := range resolveMerge {
			if req.Merge == nil {
				req.Merge = make(map[string]string, len(resolveMerge))
			}
			req.Merge[from] = to
		}
		if resolveExposures {
			req.IncludeExposures = true
		}

		ctx, cancel := commandContext()
		defer cancel()

		manager, engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer manager.Close()

		report, err := engine.Compute(ctx, req)
		if err != nil {
			return err
		}

		if resolveJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		renderReport(os.Stdout, report)
		return nil
	},
}

// readRequest accepts a bare list of holdings or a full request object
func readRequest(raw []byte) (lookthrough.Request, error) {
	req := lookthrough.Request{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &req.Holdings)
		return req, err
	}

	err := json.Unmarshal(trimmed, &req)
	return req, err
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// renderReport prints one table per dimension in the order they were
// computed, followed by the exposures when the report carries them
func renderReport(w io.Writer, report *lookthrough.Report) {
	fmt.Fprintf(w, "Run %s  conversion table %s\n", report.RunID, report.ConversionDigest)
	if report.Partial {
		fmt.Fprintf(w, "PARTIAL: %s unattributed; degraded symbols: %s\n", money(report.UnresolvedValue), strings.Join(report.Degraded, ", "))
	}
	if report.Retryable {
		fmt.Fprintln(w, "The data provider cut this run short; run again later to fill the gaps.")
	}

	for _, dim := range lookthrough.AllDimensions {
		groups, ok := report.Groups[dim]
		if !ok {
			continue
		}

		fmt.Fprintf(w, "\n%s\n", dim)
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{string(dim), "Value", "Share"})
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
		for _, group := range groups {
			table.Append([]string{group.GroupKey, money(group.TotalValue), percent(group.SharePercent)})
		}
		table.SetFooter([]string{"Total", money(report.TotalValue), ""})
		table.Render()
	}

	if len(report.Exposures) == 0 {
		return
	}

	fmt.Fprintln(w, "\nexposures")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Holding", "Account", "Symbol", "Via", "Sector", "Asset Class", "Value", "Source", "Status"})
	for _, exp := range report.Exposures {
		table.Append([]string{
			exp.HoldingID,
			exp.Account,
			exp.StockSymbol,
			exp.Via,
			exp.Sector,
			exp.AssetClass,
			money(exp.DollarValue),
			string(exp.Source),
			string(exp.Status),
		})
	}
	table.Render()
}
