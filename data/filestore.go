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
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore keeps one JSON document per symbol under dir/kind/
type FileStore[T any] struct {
	dir   string
	locks sync.Map // symbol -> *sync.Mutex
}

func NewFileStore[T any](baseDir string, kind Kind) (*FileStore[T], error) {
	dir := filepath.Join(baseDir, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &FileStore[T]{dir: dir}, nil
}

func (store *FileStore[T]) Load(ctx context.Context, symbol string) (*CacheEntry[T], error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}

	raw, err := os.ReadFile(store.path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}

	entry, err := decodeEntry[T](raw)
	if err != nil {
		log.Warn().Err(err).Str("Symbol", symbol).Str("Path", store.path(symbol)).Msg("ignoring unreadable cache file")
		return nil, ErrNotCached
	}
	return entry, nil
}

// Save writes to a temp file and renames it into place so readers never
// observe a partial document
func (store *FileStore[T]) Save(ctx context.Context, entry *CacheEntry[T]) error {
	if entry.Symbol == "" {
		return ErrEmptySymbol
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	mu := store.lock(entry.Symbol)
	mu.Lock()
	defer mu.Unlock()

	tmp, err := os.CreateTemp(store.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, store.path(entry.Symbol)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (store *FileStore[T]) Delete(ctx context.Context, symbol string) error {
	mu := store.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(store.path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (store *FileStore[T]) lock(symbol string) *sync.Mutex {
	mu, _ := store.locks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (store *FileStore[T]) path(symbol string) string {
	return filepath.Join(store.dir, fileName(symbol))
}

// fileName keeps letters, digits, '.' and '-' and maps everything else to '_'
func fileName(symbol string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(symbol) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String() + ".json"
}
