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
	"time"

	"github.com/goccy/go-json"
)

// Store is the durable tier. Symbol is the write partition key: writers for
// different symbols never conflict and writers for the same symbol are
// serialized by the implementation (last writer wins).
type Store[T any] interface {
	// Load returns ErrNotCached when nothing was ever stored for symbol
	Load(ctx context.Context, symbol string) (*CacheEntry[T], error)
	Save(ctx context.Context, entry *CacheEntry[T]) error
	Delete(ctx context.Context, symbol string) error
}

type recordMeta struct {
	Symbol    string    `json:"symbol"`
	FetchedAt time.Time `json:"fetchedAt"`
	SourceTag SourceTag `json:"sourceTag"`
}

// encodeEntry writes the record's own fields flattened together with
// fetchedAt and sourceTag, e.g.
//
//	{"symbol":"VTI","name":"...","holdings":[...],"fetchedAt":"...","sourceTag":"api"}
func encodeEntry[T any](entry *CacheEntry[T]) ([]byte, error) {
	recordBytes, err := json.Marshal(entry.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", entry.Symbol, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(recordBytes, &fields); err != nil {
		return nil, fmt.Errorf("record for %s is not a JSON object: %w", entry.Symbol, err)
	}

	meta, err := json.Marshal(recordMeta{
		Symbol:    entry.Symbol,
		FetchedAt: entry.FetchedAt.UTC(),
		SourceTag: entry.Source,
	})
	if err != nil {
		return nil, err
	}
	metaFields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(meta, &metaFields); err != nil {
		return nil, err
	}
	for k, v := range metaFields {
		fields[k] = v
	}

	return json.Marshal(fields)
}

func decodeEntry[T any](raw []byte) (*CacheEntry[T], error) {
	var meta recordMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, err.Error())
	}

	var record T
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, err.Error())
	}

	if meta.Symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrCorruptRecord)
	}

	return &CacheEntry[T]{
		Symbol:    meta.Symbol,
		Record:    record,
		FetchedAt: meta.FetchedAt,
		Source:    meta.SourceTag,
	}, nil
}
