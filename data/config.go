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

package data

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultCompositionTTL    = 24 * time.Hour
	DefaultClassificationTTL = 7 * 24 * time.Hour
	DefaultBatchSize         = 5
	DefaultLocalCacheSize    = 4096
)

// Config holds everything needed to build a Manager
type Config struct {
	Backend   string
	CacheDir  string
	LocalSize int
	RedisURL  string
	DBURL     string

	CompositionTTL    time.Duration
	ClassificationTTL time.Duration

	APIKey         string
	BaseURL        string
	CallsPerMinute int
	Timeout        time.Duration
	BatchSize      int
	RunDeadline    time.Duration
}

// ConfigFromViper reads the cache.*, database.* and provider.* keys, falling
// back to defaults for anything unset
func ConfigFromViper() Config {
	cfg := Config{
		Backend:           viper.GetString("cache.backend"),
		CacheDir:          viper.GetString("cache.dir"),
		LocalSize:         viper.GetInt("cache.local_size"),
		RedisURL:          viper.GetString("cache.redis_url"),
		DBURL:             viper.GetString("database.url"),
		CompositionTTL:    viper.GetDuration("cache.composition_ttl"),
		ClassificationTTL: viper.GetDuration("cache.classification_ttl"),
		APIKey:            viper.GetString("provider.api_key"),
		BaseURL:           viper.GetString("provider.base_url"),
		CallsPerMinute:    viper.GetInt("provider.calls_per_minute"),
		Timeout:           viper.GetDuration("provider.timeout"),
		BatchSize:         viper.GetInt("provider.batch_size"),
		RunDeadline:       viper.GetDuration("provider.run_deadline"),
	}

	return cfg.withDefaults()
}

func (cfg Config) withDefaults() Config {
	if cfg.Backend == "" {
		cfg.Backend = "file"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".lookthrough-cache"
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = DefaultLocalCacheSize
	}
	if cfg.CompositionTTL <= 0 {
		cfg.CompositionTTL = DefaultCompositionTTL
	}
	if cfg.ClassificationTTL <= 0 {
		cfg.ClassificationTTL = DefaultClassificationTTL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAlphaVantageURL
	}
	if cfg.CallsPerMinute == 0 {
		cfg.CallsPerMinute = DefaultCallsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return cfg
}
