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

package models

import "time"

// Issuer is a token issuing account. TokenID is assigned by the backend
// when the distribution and ballot accounts are created.
type Issuer struct {
	TokenID       *string
	AccountPublic string
	AccountSecret string
	AssetCode     string
	ID            uint `gorm:"primarykey"`
	VotingID      uint `gorm:"index"`
	VotesCap      int64
}

func (Issuer) TableName() string {
	return "issuer"
}

// PooledAccountProgress tracks how many pooled accounts are still to be
// created for an issuer. Version is bumped on every claim by a batch pass.
type PooledAccountProgress struct {
	ClaimedUntil time.Time
	ID           uint `gorm:"primarykey"`
	IssuerID     uint `gorm:"uniqueIndex"`
	VotingID     uint `gorm:"index"`
	ToCreate     int64
	LeftToCreate int64 `gorm:"index"`
	Version      int64
}

func (PooledAccountProgress) TableName() string {
	return "pooled_account_progress"
}

type PooledAccount struct {
	CreatedAt     time.Time
	ConsumedBy    *string
	AccountPublic string
	AccountSecret string
	ID            uint `gorm:"primarykey"`
	VotingID      uint `gorm:"index:idx_pooled_account_available,priority:1"`
	IssuerID      uint `gorm:"index"`
	Consumed      bool `gorm:"index:idx_pooled_account_available,priority:2"`
}

func (PooledAccount) TableName() string {
	return "pooled_account"
}
