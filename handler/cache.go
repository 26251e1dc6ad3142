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

package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/data"
)

// GetComposition serves a fund composition through the cache tiers;
// ?refresh=true bypasses the cache
func (api *API) GetComposition(c *fiber.Ctx) error {
	symbol := common.NormalizeSymbol(c.Params("symbol"))

	var entry *data.CacheEntry[data.FundComposition]
	if c.Query("refresh") == "true" {
		entry = api.Manager.Compositions.Refresh(c.UserContext(), symbol)
	} else {
		entry = api.Manager.Compositions.Get(c.UserContext(), symbol)
	}

	if !entry.Available() {
		return fiber.ErrNotFound
	}
	return c.JSON(entry)
}

// GetClassification serves security metadata through the cache tiers
func (api *API) GetClassification(c *fiber.Ctx) error {
	symbol := common.NormalizeSymbol(c.Params("symbol"))

	var entry *data.CacheEntry[data.SecurityClassification]
	if c.Query("refresh") == "true" {
		entry = api.Manager.Classifications.Refresh(c.UserContext(), symbol)
	} else {
		entry = api.Manager.Classifications.Get(c.UserContext(), symbol)
	}

	if !entry.Available() {
		return fiber.ErrNotFound
	}
	return c.JSON(entry)
}

// PurgeCache removes one symbol of one kind from every cache tier
func (api *API) PurgeCache(c *fiber.Ctx) error {
	kind := data.Kind(c.Params("kind"))
	symbol := common.NormalizeSymbol(c.Params("symbol"))

	switch kind {
	case data.KindComposition, data.KindClassification:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Status:  "error",
			Message: "kind must be one of composition, classification",
		})
	}

	if err := api.Manager.Purge(c.UserContext(), kind, symbol); err != nil {
		log.Error().Err(err).Str("Kind", string(kind)).Str("Symbol", symbol).Msg("purge failed")
		return fiber.ErrInternalServerError
	}

	return c.SendStatus(fiber.StatusNoContent)
}
