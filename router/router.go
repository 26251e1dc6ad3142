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

package router

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/penny-vault/pv-lookthrough/handler"
	"github.com/penny-vault/pv-lookthrough/middleware"
)

// SetupRoutes setup router api
func SetupRoutes(app *fiber.App, api *handler.API, apiKey string) {
	v1 := app.Group("/v1")
	v1.Get("/", api.Ping)

	authed := v1.Group("", middleware.APIKeyAuth(apiKey))

	// Exposure
	authed.Post("/exposure", api.ComputeExposure)

	// Cache inspection
	authed.Get("/composition/:symbol", api.GetComposition)
	authed.Get("/classification/:symbol", api.GetClassification)
	authed.Delete("/cache/:kind/:symbol", api.PurgeCache)
}

// NewApp returns a fiber app with the logging middleware and all routes
func NewApp(api *handler.API, apiKey string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "pvlookthrough",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
	})

	app.Use(middleware.NewLogger())
	SetupRoutes(app, api, apiKey)

	return app
}
