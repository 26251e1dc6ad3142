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
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/penny-vault/pv-lookthrough/lookthrough"
	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
)

// ComputeExposure resolves the posted holdings and returns the aggregated
// report. Degraded upstream data never fails the request; it is flagged in
// the report instead.
func (api *API) ComputeExposure(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.UserContext(), "ComputeExposure", trace.WithAttributes(opentelemetry.SpanAttributesFromFiber(c)...))
	defer span.End()

	var req lookthrough.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Warn().Err(err).Msg("could not parse exposure request")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		return badRequest(c, err)
	}

	report, err := api.Engine.Compute(ctx, req)
	if err != nil {
		span.RecordError(err)
		if isStructural(err) {
			span.SetStatus(codes.Error, "invalid holdings")
			return badRequest(c, err)
		}
		span.SetStatus(codes.Error, "compute failed")
		log.Error().Err(err).Msg("exposure computation failed")
		return fiber.ErrInternalServerError
	}

	return c.JSON(report)
}
