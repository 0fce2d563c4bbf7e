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

	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/errs"
)

// CreateIssuers inserts the issuers of a voting. IDs are populated on the
// given slice.
func (d *Database) CreateIssuers(
	ctx context.Context,
	issuers []models.Issuer,
	txn *Txn,
) error {
	if len(issuers) == 0 {
		return nil
	}
	if result := d.db(ctx, txn).Create(&issuers); result.Error != nil {
		return fmt.Errorf("create issuers: %w", result.Error)
	}
	return nil
}

// ErrIssuersExist is returned when a voting already has issuers
var ErrIssuersExist = errors.New("voting already has issuers")

// CreateVotingIssuers stores the issuers of a voting for the provisioning
// runner holding its lease. The lease renewal locks the voting row, so of
// two runners at most one stores a set of issuers; the other gets
// ErrLeaseLost or ErrIssuersExist.
func (d *Database) CreateVotingIssuers(
	ctx context.Context,
	votingID uint,
	holder string,
	now time.Time,
	ttl time.Duration,
	issuers []models.Issuer,
) error {
	return d.Transaction(ctx, func(txn *Txn) error {
		if err := d.RenewProvisionLease(ctx, votingID, holder, now, ttl, txn); err != nil {
			return err
		}
		var count int64
		result := txn.tx.Model(&models.Issuer{}).
			Where("voting_id = ?", votingID).
			Count(&count)
		if result.Error != nil {
			return result.Error
		}
		if count > 0 {
			return fmt.Errorf("voting %d: %w", votingID, ErrIssuersExist)
		}
		return d.CreateIssuers(ctx, issuers, txn)
	})
}

func (d *Database) GetIssuers(
	ctx context.Context,
	votingID uint,
	txn *Txn,
) ([]models.Issuer, error) {
	var issuers []models.Issuer
	result := d.db(ctx, txn).
		Where("voting_id = ?", votingID).
		Order("id").
		Find(&issuers)
	if result.Error != nil {
		return nil, result.Error
	}
	return issuers, nil
}

func (d *Database) GetIssuer(
	ctx context.Context,
	id uint,
	txn *Txn,
) (*models.Issuer, error) {
	var issuer models.Issuer
	if result := d.db(ctx, txn).First(&issuer, id); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("issuer %d: %w", id, errs.ErrNotFound)
		}
		return nil, result.Error
	}
	return &issuer, nil
}
