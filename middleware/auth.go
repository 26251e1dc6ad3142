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

package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const APIKeyHeader = "X-Pv-Api"

// APIKeyAuth requires the shared key in the X-Pv-Api header or the apikey
// query parameter. An empty key disables the check.
func APIKeyAuth(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}

		token := c.Get(APIKeyHeader)
		if token == "" {
			token = c.Query("apikey")
		}

		if token == "" {
			return c.Status(fiber.StatusUnauthorized).SendString("missing api key")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			log.Warn().Str("IP", c.IP()).Str("Path", c.Path()).Msg("rejected request with invalid api key")
			return c.Status(fiber.StatusUnauthorized).SendString("invalid api key")
		}

		return c.Next()
	}
}
