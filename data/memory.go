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

	lru "github.com/hashicorp/golang-lru"
)

// MemoryCache is the process-local tier. It is bounded by entry count and
// enforces a TTL at read time.
type MemoryCache[T any] struct {
	values *lru.Cache
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryCache[T any](size int, ttl time.Duration) (*MemoryCache[T], error) {
	if size <= 0 {
		size = 1024
	}

	values, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &MemoryCache[T]{
		values: values,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Get returns the entry for symbol if present and younger than the TTL.
// Expired entries are evicted on read.
func (cache *MemoryCache[T]) Get(symbol string) (*CacheEntry[T], bool) {
	v, ok := cache.values.Get(symbol)
	if !ok {
		return nil, false
	}

	entry := v.(*CacheEntry[T])
	if cache.ttl > 0 && entry.Age(cache.now()) > cache.ttl {
		cache.values.Remove(symbol)
		return nil, false
	}

	return entry, true
}

// Set stores entry, replacing any previous entry for the same symbol
func (cache *MemoryCache[T]) Set(entry *CacheEntry[T]) {
	cache.values.Add(entry.Symbol, entry)
}

func (cache *MemoryCache[T]) Delete(symbol string) {
	cache.values.Remove(symbol)
}

// Count returns the number of symbols held, including expired ones not yet read
func (cache *MemoryCache[T]) Count() int {
	return cache.values.Len()
}

func (cache *MemoryCache[T]) Reset() {
	cache.values.Purge()
}
