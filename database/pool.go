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
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/devote/database/models"
)

var (
	// ErrClaimLost is returned when a progress row was claimed by another
	// pass after the caller claimed it
	ErrClaimLost = errors.New("progress claim lost")
	// ErrNoPooledAccount is returned when a voting has no unconsumed pooled
	// account left
	ErrNoPooledAccount = errors.New("no unconsumed pooled account")
)

// Unclaimed is the claim lease value of a progress row nobody works on.
// MySQL DATETIME cannot hold the zero time.Time.
var Unclaimed = time.Unix(0, 0).UTC()

// batchInsertSize bounds rows per INSERT statement
const batchInsertSize = 100

// SeedProgress inserts one progress row per issuer. Rows that already exist
// for an issuer are left untouched.
func (d *Database) SeedProgress(
	ctx context.Context,
	rows []models.PooledAccountProgress,
	txn *Txn,
) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].ClaimedUntil.IsZero() {
			rows[i].ClaimedUntil = Unclaimed
		}
	}
	result := d.db(ctx, txn).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("seed progress: %w", result.Error)
	}
	return nil
}

func (d *Database) GetProgress(
	ctx context.Context,
	votingID uint,
	txn *Txn,
) ([]models.PooledAccountProgress, error) {
	var rows []models.PooledAccountProgress
	result := d.db(ctx, txn).
		Where("voting_id = ?", votingID).
		Order("id").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// ProgressSummary returns the number of progress rows of a voting and the
// sum of their remaining accounts
func (d *Database) ProgressSummary(
	ctx context.Context,
	votingID uint,
	txn *Txn,
) (rows int64, left int64, err error) {
	var summary struct {
		RowCount  int64
		LeftTotal int64
	}
	result := d.db(ctx, txn).Model(&models.PooledAccountProgress{}).
		Select("COUNT(*) AS row_count, COALESCE(SUM(left_to_create), 0) AS left_total").
		Where("voting_id = ?", votingID).
		Scan(&summary)
	if result.Error != nil {
		return 0, 0, result.Error
	}
	return summary.RowCount, summary.LeftTotal, nil
}

// SampleUnfinishedProgress returns up to limit rows with accounts left to
// create whose claim has expired, least recently claimed first
func (d *Database) SampleUnfinishedProgress(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]models.PooledAccountProgress, error) {
	var rows []models.PooledAccountProgress
	result := d.db(ctx, nil).
		Where("left_to_create > 0 AND claimed_until < ?", now.UTC()).
		Order("claimed_until").
		Order("id").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// ClaimProgress claims a sampled row until now+ttl. The claim succeeds only
// if the row's version still matches the sampled one; on success the row's
// Version and ClaimedUntil are updated in place.
func (d *Database) ClaimProgress(
	ctx context.Context,
	row *models.PooledAccountProgress,
	now time.Time,
	ttl time.Duration,
) (bool, error) {
	until := now.UTC().Add(ttl)
	result := d.db(ctx, nil).Model(&models.PooledAccountProgress{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]any{
			"version":       gorm.Expr("version + 1"),
			"claimed_until": until,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	row.Version++
	row.ClaimedUntil = until
	return true, nil
}

// CompleteBatch stores the accounts created for a claimed row, decrements
// its remaining count by the same number and releases the claim, all in one
// transaction. It returns the remaining count. ErrClaimLost is returned,
// and nothing is stored, when the claim is no longer held or the row has
// fewer accounts left than were created.
func (d *Database) CompleteBatch(
	ctx context.Context,
	row *models.PooledAccountProgress,
	accounts []models.PooledAccount,
) (int64, error) {
	n := int64(len(accounts))
	var left int64
	err := d.Transaction(ctx, func(txn *Txn) error {
		if n > 0 {
			result := txn.tx.CreateInBatches(&accounts, batchInsertSize)
			if result.Error != nil {
				return fmt.Errorf("insert pooled accounts: %w", result.Error)
			}
		}
		result := txn.tx.Model(&models.PooledAccountProgress{}).
			Where(
				"id = ? AND version = ? AND left_to_create >= ?",
				row.ID,
				row.Version,
				n,
			).
			Updates(map[string]any{
				"left_to_create": gorm.Expr("left_to_create - ?", n),
				"claimed_until":  Unclaimed,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrClaimLost
		}
		var updated models.PooledAccountProgress
		if err := txn.tx.First(&updated, row.ID).Error; err != nil {
			return err
		}
		left = updated.LeftToCreate
		return nil
	})
	if err != nil {
		return 0, err
	}
	row.LeftToCreate = left
	row.ClaimedUntil = Unclaimed
	return left, nil
}

// ClaimPooledAccount marks one unconsumed pooled account of a voting as
// consumed by the given signature. A row taken by a concurrent claimer
// between the select and the conditional update is skipped and the next
// row is tried. ErrNoPooledAccount is returned when none are left.
func (d *Database) ClaimPooledAccount(
	ctx context.Context,
	votingID uint,
	consumedBy string,
	txn *Txn,
) (*models.PooledAccount, error) {
	db := d.db(ctx, txn)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var account models.PooledAccount
		result := db.
			Where("voting_id = ? AND consumed = ?", votingID, false).
			Order("id").
			Limit(1).
			Find(&account)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, ErrNoPooledAccount
		}
		update := db.Model(&models.PooledAccount{}).
			Where("id = ? AND consumed = ?", account.ID, false).
			Updates(map[string]any{
				"consumed":    true,
				"consumed_by": consumedBy,
			})
		if update.Error != nil {
			return nil, update.Error
		}
		if update.RowsAffected == 1 {
			account.Consumed = true
			account.ConsumedBy = &consumedBy
			return &account, nil
		}
	}
}

// CountAvailablePooledAccounts returns the number of unconsumed pooled
// accounts of a voting
func (d *Database) CountAvailablePooledAccounts(
	ctx context.Context,
	votingID uint,
	txn *Txn,
) (int64, error) {
	var count int64
	result := d.db(ctx, txn).Model(&models.PooledAccount{}).
		Where("voting_id = ? AND consumed = ?", votingID, false).
		Count(&count)
	return count, result.Error
}

// CountPooledAccounts returns the number of pooled accounts created for an
// issuer
func (d *Database) CountPooledAccounts(
	ctx context.Context,
	issuerID uint,
	txn *Txn,
) (int64, error) {
	var count int64
	result := d.db(ctx, txn).Model(&models.PooledAccount{}).
		Where("issuer_id = ?", issuerID).
		Count(&count)
	return count, result.Error
}
