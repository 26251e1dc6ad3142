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
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-lookthrough/data"
	"github.com/penny-vault/pv-lookthrough/lookthrough"
)

// API holds the services the HTTP handlers marshal requests into
type API struct {
	Engine  *lookthrough.Engine
	Manager *data.Manager
}

func New(engine *lookthrough.Engine, manager *data.Manager) *API {
	return &API{
		Engine:  engine,
		Manager: manager,
	}
}

type PingResponse struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message" example:"API is alive"`
	Time    string `json:"time" example:"2021-06-19T08:09:10.115924-05:00"`
}

type ErrorResponse struct {
	Status  string `json:"status" example:"error"`
	Message string `json:"message"`
}

func (api *API) Ping(c *fiber.Ctx) error {
	var response PingResponse
	now, err := time.Now().MarshalText()
	if err != nil {
		log.Error().Err(err).Msg("error while getting time in ping")
		response = PingResponse{
			Status:  "error",
			Message: err.Error(),
			Time:    string(now),
		}
	} else {
		response = PingResponse{
			Status:  "success",
			Message: "API is alive",
			Time:    string(now),
		}
	}
	return c.JSON(response)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Status:  "error",
		Message: err.Error(),
	})
}

// isStructural reports errors caused by the request rather than the service
func isStructural(err error) bool {
	for _, target := range []error{
		lookthrough.ErrNegativeMarketValue,
		lookthrough.ErrMissingAccount,
		lookthrough.ErrMissingTicker,
		lookthrough.ErrUnknownHoldingType,
		lookthrough.ErrUnknownDimension,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
