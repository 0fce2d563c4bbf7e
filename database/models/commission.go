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

type CommissionSession struct {
	CreatedAt           time.Time
	EnvelopeSignature   *string `gorm:"uniqueIndex"`
	StoredTransactionID *uint
	UserID              string `gorm:"uniqueIndex:idx_commission_session_voting_user,priority:2"`
	ID                  uint   `gorm:"primarykey"`
	VotingID            uint   `gorm:"uniqueIndex:idx_commission_session_voting_user,priority:1"`
}

func (CommissionSession) TableName() string {
	return "commission_session"
}

// StoredTransaction is the immutable result of an account creation request,
// keyed by the voter's revealed signature
type StoredTransaction struct {
	CreatedAt       time.Time
	Signature       string `gorm:"uniqueIndex;size:1024"`
	Transaction     string
	ID              uint `gorm:"primarykey"`
	VotingID        uint `gorm:"index"`
	PooledAccountID uint `gorm:"uniqueIndex"`
}

func (StoredTransaction) TableName() string {
	return "stored_transaction"
}
