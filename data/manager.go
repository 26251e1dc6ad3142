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
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-lookthrough/data/database"
)

// Manager owns the composition and classification orchestrators and the
// connections behind their persistent tier
type Manager struct {
	Compositions    *Orchestrator[FundComposition]
	Classifications *Orchestrator[SecurityClassification]

	rdb  *redis.Client
	pool *pgxpool.Pool
}

// NewManager wires a provider to both orchestrators using the configured
// persistent backend
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	// the orchestrators hold the per-minute budget, so the client itself
	// does not throttle a second time
	provider := NewAlphaVantage(cfg.APIKey,
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithCallsPerMinute(0),
	)

	return NewManagerWithProvider(ctx, cfg, provider)
}

// NewManagerWithProvider is NewManager with an explicit provider. Both
// orchestrators draw on one CallsPerMinute budget since they share the
// provider.
func NewManagerWithProvider(ctx context.Context, cfg Config, provider Provider) (*Manager, error) {
	cfg = cfg.withDefaults()
	manager := &Manager{}
	budget := NewCallLimiter(cfg.CallsPerMinute)

	subLog := log.With().Str("Backend", cfg.Backend).Logger()

	var (
		compositionStore    Store[FundComposition]
		classificationStore Store[SecurityClassification]
	)

	switch cfg.Backend {
	case "file":
		cs, err := NewFileStore[FundComposition](cfg.CacheDir, KindComposition)
		if err != nil {
			subLog.Error().Err(err).Str("Dir", cfg.CacheDir).Msg("could not open file cache")
			return nil, err
		}
		ss, err := NewFileStore[SecurityClassification](cfg.CacheDir, KindClassification)
		if err != nil {
			subLog.Error().Err(err).Str("Dir", cfg.CacheDir).Msg("could not open file cache")
			return nil, err
		}
		compositionStore, classificationStore = cs, ss
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			subLog.Error().Err(err).Msg("could not parse redis url")
			return nil, err
		}
		manager.rdb = redis.NewClient(opts)
		if err := manager.rdb.Ping(ctx).Err(); err != nil {
			subLog.Error().Err(err).Msg("could not reach redis")
			manager.Close()
			return nil, err
		}
		compositionStore = NewRedisStore[FundComposition](manager.rdb, KindComposition)
		classificationStore = NewRedisStore[SecurityClassification](manager.rdb, KindClassification)
	case "postgres":
		pool, err := database.Connect(ctx, cfg.DBURL)
		if err != nil {
			subLog.Error().Err(err).Msg("could not connect to database")
			return nil, err
		}
		manager.pool = pool
		if err := database.EnsureSchema(ctx, pool); err != nil {
			subLog.Error().Err(err).Msg("could not create cache schema")
			manager.Close()
			return nil, err
		}
		compositionStore = NewPostgresStore[FundComposition](pool, KindComposition)
		classificationStore = NewPostgresStore[SecurityClassification](pool, KindClassification)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCacheBackend, cfg.Backend)
	}

	var err error
	manager.Compositions, err = NewOrchestrator(KindComposition, compositionStore, provider.FetchComposition, OrchestratorConfig{
		TTL:         cfg.CompositionTTL,
		MemorySize:  cfg.LocalSize,
		BatchSize:   cfg.BatchSize,
		BatchDelay:  batchDelay(cfg.BatchSize, cfg.CallsPerMinute),
		CallTimeout: cfg.Timeout,
		RunDeadline: cfg.RunDeadline,
		Limiter:     budget,
	})
	if err != nil {
		manager.Close()
		return nil, err
	}

	manager.Classifications, err = NewOrchestrator(KindClassification, classificationStore, provider.FetchClassification, OrchestratorConfig{
		TTL:         cfg.ClassificationTTL,
		MemorySize:  cfg.LocalSize,
		BatchSize:   cfg.BatchSize,
		BatchDelay:  batchDelay(cfg.BatchSize, cfg.CallsPerMinute),
		CallTimeout: cfg.Timeout,
		RunDeadline: cfg.RunDeadline,
		Limiter:     budget,
	})
	if err != nil {
		manager.Close()
		return nil, err
	}

	subLog.Info().Dur("CompositionTTL", cfg.CompositionTTL).Dur("ClassificationTTL", cfg.ClassificationTTL).
		Int("BatchSize", cfg.BatchSize).Int("CallsPerMinute", cfg.CallsPerMinute).Msg("data manager ready")

	return manager, nil
}

// Purge removes symbols of the given kind from every tier
func (manager *Manager) Purge(ctx context.Context, kind Kind, symbols ...string) error {
	for _, symbol := range symbols {
		var err error
		switch kind {
		case KindComposition:
			err = manager.Compositions.Purge(ctx, symbol)
		case KindClassification:
			err = manager.Classifications.Purge(ctx, symbol)
		default:
			return fmt.Errorf("unknown kind %q", kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases backend connections
func (manager *Manager) Close() {
	if manager.rdb != nil {
		if err := manager.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("closing redis client failed")
		}
		manager.rdb = nil
	}
	if manager.pool != nil {
		database.LogOpenTransactions()
		manager.pool.Close()
		manager.pool = nil
	}
}
