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

package api

import (
	"context"

	"github.com/blinklabs-io/devote/commission"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/identity"
	"github.com/blinklabs-io/devote/provision"
	"github.com/blinklabs-io/devote/voting"
)

// Provisioner creates votings
type Provisioner interface {
	Provision(ctx context.Context, req provision.Request) (uint, error)
}

// VotingReader serves voting reads
type VotingReader interface {
	Get(ctx context.Context, votingID uint, user identity.User) (*voting.View, error)
	ListPublic(ctx context.Context, offset int, limit int) (*voting.Page, error)
	EncryptOptionCode(ctx context.Context, votingID uint, optionCode int) (string, error)
}

// Commission runs the commission workflow
type Commission interface {
	Init(
		ctx context.Context,
		votingID uint,
		user identity.User,
	) (*commission.InitResult, error)
	SignEnvelope(
		ctx context.Context,
		votingID uint,
		userID string,
		envelope string,
	) (string, error)
	EnvelopeSignatureOf(
		ctx context.Context,
		votingID uint,
		userID string,
	) (string, error)
	RequestAccountCreation(
		ctx context.Context,
		envelopeSignature string,
		revealedSignature string,
		message string,
	) (*models.StoredTransaction, error)
	TransactionOf(
		ctx context.Context,
		revealedSignature string,
	) (*models.StoredTransaction, error)
}
