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

// Package backend defines the operations a ledger backend provides for
// provisioning voting accounts, and the registry used to resolve a backend
// by its network identifier.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Account is a ledger account identified by its public id. Secret holds
// whatever the backend needs to sign on behalf of the account.
type Account struct {
	ID     string
	Secret string
}

// Config is passed to every operation's Init
type Config struct {
	// Options holds the backend section of the configuration file
	Options map[string]any
	// UseTestnet selects the backend's test network
	UseTestnet bool
}

// StringOption returns a string option or the given default
func (c Config) StringOption(name string, def string) string {
	if v, ok := c.Options[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

// Operation is the common lifecycle shared by all backend operations
type Operation interface {
	Init(Config) error
}

// Issuer carries what the backend knows about an issuer account
type Issuer struct {
	Account   Account
	AssetCode string
	VotesCap  int64
}

type IssuerAccountOp interface {
	Operation
	Create(ctx context.Context, votesCap int64) (Account, error)
	CalcNumOfAccountsNeeded(votesCap int64) int
}

type PooledAccountOp interface {
	Operation
	Create(
		ctx context.Context,
		votesCap int64,
		issuer Issuer,
	) (Account, error)
	MaxBatchSize() int
}

// DistributionAndBallot is the result of creating the distribution and
// ballot accounts. Tokens maps issuer account ids to the token id the
// backend assigned for that issuer.
type DistributionAndBallot struct {
	Distribution Account
	Ballot       Account
	Tokens       map[string]string
}

type DistributionAndBallotAccountOp interface {
	Operation
	Create(
		ctx context.Context,
		issuers []Issuer,
	) (DistributionAndBallot, error)
}

type FundingAccountOp interface {
	Operation
	HasEnoughBalance(
		ctx context.Context,
		account Account,
		votesCap int64,
	) (bool, error)
}

// VoterTransactionRequest carries everything needed to build the
// transaction handing a pooled account over to a voter
type VoterTransactionRequest struct {
	VotingID       uint
	VoterAccountID string
	PooledAccount  Account
	Issuer         Issuer
	Distribution   Account
	Ballot         Account
}

type VoterTransactionOp interface {
	Operation
	CreateTransaction(
		ctx context.Context,
		req VoterTransactionRequest,
	) (string, error)
}

// Factory constructs the operations of one backend. Factories must be safe
// for concurrent use.
type Factory interface {
	NewIssuerAccountOp() IssuerAccountOp
	NewPooledAccountOp() PooledAccountOp
	NewDistributionAndBallotAccountOp() DistributionAndBallotAccountOp
	NewFundingAccountOp() FundingAccountOp
	NewVoterTransactionOp() VoterTransactionOp
}

// Ops bundles initialized operations of one backend
type Ops struct {
	Issuer       IssuerAccountOp
	Pooled       PooledAccountOp
	Distribution DistributionAndBallotAccountOp
	Funding      FundingAccountOp
	VoterTx      VoterTransactionOp
}

// NewOps constructs and initializes all operations of a factory
func NewOps(factory Factory, cfg Config) (*Ops, error) {
	ops := &Ops{
		Issuer:       factory.NewIssuerAccountOp(),
		Pooled:       factory.NewPooledAccountOp(),
		Distribution: factory.NewDistributionAndBallotAccountOp(),
		Funding:      factory.NewFundingAccountOp(),
		VoterTx:      factory.NewVoterTransactionOp(),
	}
	for _, op := range []Operation{
		ops.Issuer,
		ops.Pooled,
		ops.Distribution,
		ops.Funding,
		ops.VoterTx,
	} {
		if op == nil {
			return nil, errors.New("backend returned a nil operation")
		}
		if err := op.Init(cfg); err != nil {
			return nil, fmt.Errorf("init %T: %w", op, err)
		}
	}
	return ops, nil
}
