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
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-lookthrough/common"
)

// RedisStore keeps lz4 compressed records in redis without expiration
type RedisStore[T any] struct {
	rdb  redis.Cmdable
	kind Kind
}

func NewRedisStore[T any](rdb redis.Cmdable, kind Kind) *RedisStore[T] {
	return &RedisStore[T]{
		rdb:  rdb,
		kind: kind,
	}
}

func (store *RedisStore[T]) key(symbol string) string {
	return fmt.Sprintf("lookthrough:%s:%s", store.kind, symbol)
}

func (store *RedisStore[T]) Load(ctx context.Context, symbol string) (*CacheEntry[T], error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}

	val, err := store.rdb.Get(ctx, store.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}

	raw, err := common.Decompress(val)
	if err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Str("Kind", string(store.kind)).Msg("ignoring undecodable redis record")
		return nil, ErrNotCached
	}

	entry, err := decodeEntry[T](raw)
	if err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Str("Kind", string(store.kind)).Msg("ignoring corrupt redis record")
		return nil, ErrNotCached
	}
	return entry, nil
}

// Save relies on SET being atomic for concurrent writers of one symbol
func (store *RedisStore[T]) Save(ctx context.Context, entry *CacheEntry[T]) error {
	if entry.Symbol == "" {
		return ErrEmptySymbol
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	compressed, err := common.Compress(raw)
	if err != nil {
		return err
	}

	return store.rdb.Set(ctx, store.key(entry.Symbol), compressed, 0).Err()
}

func (store *RedisStore[T]) Delete(ctx context.Context, symbol string) error {
	return store.rdb.Del(ctx, store.key(symbol)).Err()
}
