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

import (
	"slices"
	"strings"
	"time"
)

type Authorization string

const (
	AuthorizationOpen   Authorization = "OPEN"
	AuthorizationEmails Authorization = "EMAILS"
)

func (a Authorization) Valid() bool {
	return a == AuthorizationOpen || a == AuthorizationEmails
}

type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityUnlisted Visibility = "UNLISTED"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return true
	default:
		return false
	}
}

type Voting struct {
	CreatedAt                 time.Time `gorm:"index"`
	UpdatedAt                 time.Time
	StartDate                 time.Time
	EndDate                   time.Time
	EncryptedUntil            *time.Time
	ProvisionLeaseUntil       *time.Time
	ProvisionLeaseHolder      *string
	EncryptionKey             *string
	DistributionAccountPublic *string
	DistributionAccountSecret *string
	BallotAccountPublic       *string
	BallotAccountSecret       *string
	FundingAccountPublic      *string
	IpfsCid                   *string
	Title                     string
	Network                   string
	CreatedBy                 string `gorm:"index"`
	Authorization             Authorization
	Visibility                Visibility           `gorm:"index"`
	Polls                     []Poll               `gorm:"foreignKey:VotingID;constraint:OnDelete:CASCADE"`
	AuthorizationEmails       []AuthorizationEmail `gorm:"foreignKey:VotingID;constraint:OnDelete:CASCADE"`
	Issuers                   []Issuer             `gorm:"foreignKey:VotingID;constraint:OnDelete:CASCADE"`
	VotesCap                  int64
	ID                        uint `gorm:"primarykey"`
	UseTestnet                bool
}

func (Voting) TableName() string {
	return "voting"
}

// Encrypted reports whether option codes of this voting are encrypted
func (v *Voting) Encrypted() bool {
	return v.EncryptionKey != nil && v.EncryptedUntil != nil
}

// HasOptionCode reports whether any poll of the voting offers code
func (v *Voting) HasOptionCode(code int) bool {
	for _, poll := range v.Polls {
		if slices.ContainsFunc(poll.Options, func(o PollOption) bool {
			return o.Code == code
		}) {
			return true
		}
	}
	return false
}

// AllowsEmail reports whether email is on the authorization allowlist
func (v *Voting) AllowsEmail(email string) bool {
	if email == "" {
		return false
	}
	return slices.ContainsFunc(v.AuthorizationEmails, func(a AuthorizationEmail) bool {
		return strings.EqualFold(a.Email, email)
	})
}

type Poll struct {
	Question string
	Options  []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE"`
	ID       uint         `gorm:"primarykey"`
	VotingID uint         `gorm:"index"`
	Index    int
}

func (Poll) TableName() string {
	return "poll"
}

type PollOption struct {
	Name   string
	ID     uint `gorm:"primarykey"`
	PollID uint `gorm:"index"`
	Code   int
}

func (PollOption) TableName() string {
	return "poll_option"
}

type AuthorizationEmail struct {
	Email    string
	ID       uint `gorm:"primarykey"`
	VotingID uint `gorm:"index"`
}

func (AuthorizationEmail) TableName() string {
	return "authorization_email"
}
