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

// Wrapper around a pgx transaction to help debug if transactions are leaking

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

var (
	openTransactions = make(map[string]string)
	openLocker       sync.Mutex
)

type TrackedTx struct {
	id string
	tx pgx.Tx
}

// Trx begins a transaction on db and records the caller until it is committed
// or rolled back
func Trx(ctx context.Context, db PgxIface) (*TrackedTx, error) {
	trx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	caller := fmt.Sprintf("[%v] %s:%d", ok, file, lineno)
	trxID := uuid.New().String()

	openLocker.Lock()
	openTransactions[trxID] = caller
	openLocker.Unlock()

	return &TrackedTx{
		id: trxID,
		tx: trx,
	}, nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	openLocker.Lock()
	defer openLocker.Unlock()
	for k, v := range openTransactions {
		log.Info().Str("TrxId", k).Str("Caller", v).Msg("open transaction")
	}
}

// OpenTransactionCount returns the number of transactions not yet finished
func OpenTransactionCount() int {
	openLocker.Lock()
	defer openLocker.Unlock()
	return len(openTransactions)
}

func (t *TrackedTx) untrack() {
	openLocker.Lock()
	delete(openTransactions, t.id)
	openLocker.Unlock()
}

func (t *TrackedTx) Commit(ctx context.Context) error {
	t.untrack()
	return t.tx.Commit(ctx)
}

func (t *TrackedTx) Rollback(ctx context.Context) error {
	t.untrack()
	return t.tx.Rollback(ctx)
}

func (t *TrackedTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, arguments...)
}

func (t *TrackedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}
