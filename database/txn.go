// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"context"

	"gorm.io/gorm"
)

// Txn is a metadata transaction handle. Repository methods accept a nil
// *Txn to run outside of a transaction.
type Txn struct {
	db *Database
	tx *gorm.DB
}

func (t *Txn) DB() *Database {
	return t.db
}

// Metadata returns the underlying gorm transaction handle
func (t *Txn) Metadata() *gorm.DB {
	return t.tx
}

// Transaction runs fn in a metadata transaction. Any error returned by fn
// rolls the transaction back.
//
// With the sqlite plugin the pool holds a single connection, so fn must
// only query through txn.
func (d *Database) Transaction(
	ctx context.Context,
	fn func(txn *Txn) error,
) error {
	return d.metadata.DB().WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return fn(&Txn{db: d, tx: tx})
		},
	)
}
