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

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/errs"
)

// CreateSession returns the commission session of (votingID, userID),
// creating it if it does not exist yet
func (d *Database) CreateSession(
	ctx context.Context,
	votingID uint,
	userID string,
	txn *Txn,
) (*models.CommissionSession, error) {
	db := d.db(ctx, txn)
	session := models.CommissionSession{
		VotingID: votingID,
		UserID:   userID,
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&session)
	if result.Error != nil {
		return nil, fmt.Errorf("create commission session: %w", result.Error)
	}
	return d.GetSession(ctx, votingID, userID, txn)
}

func (d *Database) GetSession(
	ctx context.Context,
	votingID uint,
	userID string,
	txn *Txn,
) (*models.CommissionSession, error) {
	var session models.CommissionSession
	result := d.db(ctx, txn).
		Where("voting_id = ? AND user_id = ?", votingID, userID).
		First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("commission session: %w", errs.ErrNotFound)
		}
		return nil, result.Error
	}
	return &session, nil
}

func (d *Database) GetSessionByEnvelope(
	ctx context.Context,
	envelopeSignature string,
	txn *Txn,
) (*models.CommissionSession, error) {
	var session models.CommissionSession
	result := d.db(ctx, txn).
		Where("envelope_signature = ?", envelopeSignature).
		First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("commission session: %w", errs.ErrNotFound)
		}
		return nil, result.Error
	}
	return &session, nil
}

// SetEnvelopeSignature records the envelope signature of a session if none
// was recorded before. It returns false when the session already carries a
// signature, and errs.ErrNotFound when there is no session.
func (d *Database) SetEnvelopeSignature(
	ctx context.Context,
	votingID uint,
	userID string,
	signature string,
) (bool, error) {
	db := d.db(ctx, nil)
	result := db.Model(&models.CommissionSession{}).
		Where(
			"voting_id = ? AND user_id = ? AND envelope_signature IS NULL",
			votingID,
			userID,
		).
		Update("envelope_signature", signature)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	if _, err := d.GetSession(ctx, votingID, userID, nil); err != nil {
		return false, err
	}
	return false, nil
}

// LinkSessionTransaction points a session at the transaction produced for it
func (d *Database) LinkSessionTransaction(
	ctx context.Context,
	sessionID uint,
	storedTransactionID uint,
	txn *Txn,
) error {
	return d.db(ctx, txn).Model(&models.CommissionSession{}).
		Where("id = ?", sessionID).
		Update("stored_transaction_id", storedTransactionID).Error
}

func (d *Database) GetStoredTransaction(
	ctx context.Context,
	signature string,
	txn *Txn,
) (*models.StoredTransaction, error) {
	var stored models.StoredTransaction
	result := d.db(ctx, txn).
		Where("signature = ?", signature).
		First(&stored)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("stored transaction: %w", errs.ErrNotFound)
		}
		return nil, result.Error
	}
	return &stored, nil
}

// CreateStoredTransaction inserts stored unless a row with the same
// signature or pooled account exists. It reports whether the row was
// inserted.
func (d *Database) CreateStoredTransaction(
	ctx context.Context,
	stored *models.StoredTransaction,
	txn *Txn,
) (bool, error) {
	result := d.db(ctx, txn).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(stored)
	if result.Error != nil {
		return false, fmt.Errorf("create stored transaction: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
