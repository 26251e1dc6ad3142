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

import "errors"

var (
	ErrNegativeMarketValue = errors.New("market value cannot be negative")
	ErrMissingAccount      = errors.New("holding has no account id")
	ErrMissingTicker       = errors.New("non-cash holding has no ticker")
	ErrUnknownHoldingType  = errors.New("unknown holding type")
	ErrUnknownDimension    = errors.New("unknown grouping dimension")
	ErrInvalidRule         = errors.New("invalid conversion rule")
	ErrGenerateHash        = errors.New("could not generate digest")
)
