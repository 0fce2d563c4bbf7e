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
	"github.com/blinklabs-io/devote/internal/errs"
)

// VotingAccounts is the result of the distribution stage
type VotingAccounts struct {
	DistributionPublic string
	DistributionSecret string
	BallotPublic       string
	BallotSecret       string
	// IssuerTokens maps issuer ids to the token id the backend assigned
	IssuerTokens map[uint]string
}

// CreateVoting inserts a voting together with its polls, options and
// email allowlist
func (d *Database) CreateVoting(
	ctx context.Context,
	voting *models.Voting,
	txn *Txn,
) error {
	if result := d.db(ctx, txn).Create(voting); result.Error != nil {
		return fmt.Errorf("create voting: %w", result.Error)
	}
	return nil
}

// GetVoting loads a voting with all of its associations
func (d *Database) GetVoting(
	ctx context.Context,
	id uint,
	txn *Txn,
) (*models.Voting, error) {
	var voting models.Voting
	result := preloadVoting(d.db(ctx, txn)).First(&voting, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("voting %d: %w", id, errs.ErrNotFound)
		}
		return nil, result.Error
	}
	return &voting, nil
}

func preloadVoting(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Polls", func(db *gorm.DB) *gorm.DB {
			// index is a reserved word
			return db.Order(clause.OrderByColumn{
				Column: clause.Column{Name: "index"},
			})
		}).
		Preload("Polls.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		Preload("AuthorizationEmails").
		Preload("Issuers", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		})
}

// ListPublicVotings returns a page of public votings, newest first
func (d *Database) ListPublicVotings(
	ctx context.Context,
	offset int,
	limit int,
) ([]models.Voting, error) {
	var votings []models.Voting
	result := preloadVoting(d.db(ctx, nil)).
		Where("visibility = ?", models.VisibilityPublic).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&votings)
	if result.Error != nil {
		return nil, result.Error
	}
	return votings, nil
}

// SetVotingAccounts records the distribution and ballot accounts and the
// issuer token ids. It does nothing if the accounts were already recorded.
func (d *Database) SetVotingAccounts(
	ctx context.Context,
	votingID uint,
	accounts VotingAccounts,
) error {
	return d.Transaction(ctx, func(txn *Txn) error {
		result := txn.tx.Model(&models.Voting{}).
			Where("id = ? AND distribution_account_public IS NULL", votingID).
			Updates(map[string]any{
				"distribution_account_public": accounts.DistributionPublic,
				"distribution_account_secret": accounts.DistributionSecret,
				"ballot_account_public":       accounts.BallotPublic,
				"ballot_account_secret":       accounts.BallotSecret,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		for issuerID, tokenID := range accounts.IssuerTokens {
			result := txn.tx.Model(&models.Issuer{}).
				Where("id = ? AND voting_id = ?", issuerID, votingID).
				Update("token_id", tokenID)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

// SetVotingCid records the content id of the published snapshot
func (d *Database) SetVotingCid(
	ctx context.Context,
	votingID uint,
	cid string,
) error {
	result := d.db(ctx, nil).Model(&models.Voting{}).
		Where("id = ?", votingID).
		Update("ipfs_cid", cid)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("voting %d: %w", votingID, errs.ErrNotFound)
	}
	return nil
}

// ErrLeaseLost is returned when a provisioning runner no longer holds the
// lease of its voting
var ErrLeaseLost = errors.New("provisioning lease lost")

// AcquireProvisionLease takes the provisioning lease on a voting for holder
// until now+ttl. It returns false when another runner holds an unexpired
// lease.
func (d *Database) AcquireProvisionLease(
	ctx context.Context,
	votingID uint,
	holder string,
	now time.Time,
	ttl time.Duration,
) (bool, error) {
	now = now.UTC()
	result := d.db(ctx, nil).Model(&models.Voting{}).
		Where(
			"id = ? AND (provision_lease_until IS NULL OR provision_lease_until < ?)",
			votingID,
			now,
		).
		Updates(map[string]any{
			"provision_lease_until":  now.Add(ttl),
			"provision_lease_holder": holder,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RenewProvisionLease extends the lease of holder to now+ttl. It fails
// with ErrLeaseLost once another runner has taken the lease over. Inside a
// transaction the renewal also locks the voting row until commit.
func (d *Database) RenewProvisionLease(
	ctx context.Context,
	votingID uint,
	holder string,
	now time.Time,
	ttl time.Duration,
	txn *Txn,
) error {
	result := d.db(ctx, txn).Model(&models.Voting{}).
		Where("id = ? AND provision_lease_holder = ?", votingID, holder).
		Update("provision_lease_until", now.UTC().Add(ttl))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("voting %d: %w", votingID, ErrLeaseLost)
	}
	return nil
}

// ReleaseProvisionLease clears the provisioning lease if holder still
// holds it
func (d *Database) ReleaseProvisionLease(
	ctx context.Context,
	votingID uint,
	holder string,
) error {
	return d.db(ctx, nil).Model(&models.Voting{}).
		Where("id = ? AND provision_lease_holder = ?", votingID, holder).
		Updates(map[string]any{
			"provision_lease_until":  nil,
			"provision_lease_holder": nil,
		}).Error
}

// ListUnpublishedVotings returns ids of votings without a published
// snapshot whose provisioning lease is free, oldest first
func (d *Database) ListUnpublishedVotings(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]uint, error) {
	var ids []uint
	result := d.db(ctx, nil).Model(&models.Voting{}).
		Where(
			"ipfs_cid IS NULL AND (provision_lease_until IS NULL OR provision_lease_until < ?)",
			now.UTC(),
		).
		Order("id").
		Limit(limit).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}
