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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/data"
)

func init() {
	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge <composition|classification> <symbols...>",
	Short: "Remove cached records so the next request refetches them",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		kind := data.Kind(args[0])
		if kind != data.KindComposition && kind != data.KindClassification {
			return fmt.Errorf("unknown kind %q: expected %s or %s", args[0], data.KindComposition, data.KindClassification)
		}

		symbols := common.UniqueSymbols(args[1:])

		ctx, cancel := commandContext()
		defer cancel()

		manager, err := data.NewManager(ctx, data.ConfigFromViper())
		if err != nil {
			return err
		}
		defer manager.Close()

		if err := manager.Purge(ctx, kind, symbols...); err != nil {
			log.Error().Err(err).Str("Kind", string(kind)).Strs("Symbols", symbols).Msg("purge failed")
			return err
		}

		log.Info().Str("Kind", string(kind)).Strs("Symbols", symbols).Msg("purged cached records")
		return nil
	},
}
