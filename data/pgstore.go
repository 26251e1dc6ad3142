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
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-lookthrough/data/database"
)

const (
	pgLoadSQL   = `SELECT payload FROM lookthrough_cache WHERE kind=$1 AND symbol=$2`
	pgDeleteSQL = `DELETE FROM lookthrough_cache WHERE kind=$1 AND symbol=$2`
	pgUpsertSQL = `INSERT INTO lookthrough_cache (kind, symbol, payload, fetched_at, source_tag)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT ON CONSTRAINT lookthrough_cache_pkey
	DO UPDATE SET payload=EXCLUDED.payload, fetched_at=EXCLUDED.fetched_at, source_tag=EXCLUDED.source_tag`
)

// PostgresStore keeps one row per (kind, symbol); concurrent writers of the
// same symbol are serialized by the upsert
type PostgresStore[T any] struct {
	db   database.PgxIface
	kind Kind
}

func NewPostgresStore[T any](db database.PgxIface, kind Kind) *PostgresStore[T] {
	return &PostgresStore[T]{
		db:   db,
		kind: kind,
	}
}

func (store *PostgresStore[T]) Load(ctx context.Context, symbol string) (*CacheEntry[T], error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}

	var payload []byte
	err := store.db.QueryRow(ctx, pgLoadSQL, string(store.kind), symbol).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}

	entry, err := decodeEntry[T](payload)
	if err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Str("Kind", string(store.kind)).Msg("ignoring corrupt cache row")
		return nil, ErrNotCached
	}
	return entry, nil
}

func (store *PostgresStore[T]) Save(ctx context.Context, entry *CacheEntry[T]) error {
	if entry.Symbol == "" {
		return ErrEmptySymbol
	}

	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	subLog := log.With().Str("Symbol", entry.Symbol).Str("Kind", string(store.kind)).Logger()

	trx, err := database.Trx(ctx, store.db)
	if err != nil {
		subLog.Error().Err(err).Msg("could not begin transaction")
		return err
	}

	_, err = trx.Exec(ctx, pgUpsertSQL, string(store.kind), entry.Symbol, payload, entry.FetchedAt, string(entry.Source))
	if err != nil {
		subLog.Error().Err(err).Msg("could not upsert cache row")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}

func (store *PostgresStore[T]) Delete(ctx context.Context, symbol string) error {
	_, err := store.db.Exec(ctx, pgDeleteSQL, string(store.kind), symbol)
	return err
}
