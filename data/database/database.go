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

package database

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgxIface is satisfied by *pgxpool.Pool and by pgxmock connections
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var (
	ErrEmptyURL = errors.New("database url cannot be an empty string")
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS lookthrough_cache (
	kind        TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	payload     JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	source_tag  TEXT NOT NULL,
	PRIMARY KEY (kind, symbol)
)`

// Connect opens a pool against url and verifies it with a ping
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}

	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// EnsureSchema creates the cache table if it does not exist
func EnsureSchema(ctx context.Context, db PgxIface) error {
	trx, err := Trx(ctx, db)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin schema transaction")
		return err
	}

	if _, err := trx.Exec(ctx, schemaSQL); err != nil {
		log.Error().Stack().Err(err).Msg("could not create lookthrough_cache table")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}
