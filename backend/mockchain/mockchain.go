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

// Package mockchain implements an in-process ledger backend for tests and
// local development. Account ids are sequential numbers scoped to a Chain.
package mockchain

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/devote/backend"
)

const (
	Name = "mockchain"

	NumOfIssuerAccounts = 2
	MaxBatchSize        = 11

	transactionRandomLength = 16
	voterKeyPrefixLength    = 5
)

// Chain holds the state of one mock ledger
type Chain struct {
	issuerSeq       atomic.Int64
	pooledSeq       atomic.Int64
	distributionSeq atomic.Int64
	ballotSeq       atomic.Int64
	underfunded     atomic.Bool

	mu            sync.Mutex
	failNextCalls map[string]int
}

func New() *Chain {
	return &Chain{
		failNextCalls: make(map[string]int),
	}
}

// Entry returns a registry entry that always resolves to this chain
func (c *Chain) Entry() backend.Entry {
	return backend.Entry{
		Name:        Name,
		Description: "In-process mock ledger",
		NewFactoryFunc: func() (backend.Factory, error) {
			return c, nil
		},
	}
}

// ErrInjected is returned by operations set up to fail with FailNext
var ErrInjected = errors.New("mockchain: injected failure")

// Operation names accepted by FailNext
const (
	OpIssuer       = "issuer"
	OpPooled       = "pooled"
	OpDistribution = "distribution"
	OpVoterTx      = "voter-tx"
)

// FailNext makes the next count calls of the named operation fail
func (c *Chain) FailNext(op string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextCalls[op] += count
}

func (c *Chain) shouldFail(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNextCalls[op] > 0 {
		c.failNextCalls[op]--
		return true
	}
	return false
}

// SetUnderfunded makes funding checks report an insufficient balance
func (c *Chain) SetUnderfunded(underfunded bool) {
	c.underfunded.Store(underfunded)
}

// IssuerAccountsCreated returns the number of issuer accounts created so far
func (c *Chain) IssuerAccountsCreated() int64 {
	return c.issuerSeq.Load()
}

// PooledAccountsCreated returns the number of pooled accounts created so far
func (c *Chain) PooledAccountsCreated() int64 {
	return c.pooledSeq.Load()
}

// IsPooledAccountCreated reports whether id was handed out by this chain
func (c *Chain) IsPooledAccountCreated(id string) bool {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false
	}
	return v > 0 && v <= c.pooledSeq.Load()
}

func (c *Chain) NewIssuerAccountOp() backend.IssuerAccountOp {
	return &issuerOp{chain: c}
}

func (c *Chain) NewPooledAccountOp() backend.PooledAccountOp {
	return &pooledOp{chain: c}
}

func (c *Chain) NewDistributionAndBallotAccountOp() backend.DistributionAndBallotAccountOp {
	return &distributionOp{chain: c}
}

func (c *Chain) NewFundingAccountOp() backend.FundingAccountOp {
	return &fundingOp{chain: c}
}

func (c *Chain) NewVoterTransactionOp() backend.VoterTransactionOp {
	return &voterTxOp{chain: c}
}

func sequentialAccount(seq *atomic.Int64) backend.Account {
	id := strconv.FormatInt(seq.Add(1), 10)
	return backend.Account{ID: id, Secret: id}
}

type issuerOp struct {
	chain *Chain
}

func (o *issuerOp) Init(backend.Config) error { return nil }

func (o *issuerOp) Create(
	ctx context.Context,
	_ int64,
) (backend.Account, error) {
	if err := ctx.Err(); err != nil {
		return backend.Account{}, err
	}
	if o.chain.shouldFail(OpIssuer) {
		return backend.Account{}, ErrInjected
	}
	return sequentialAccount(&o.chain.issuerSeq), nil
}

func (o *issuerOp) CalcNumOfAccountsNeeded(int64) int {
	return NumOfIssuerAccounts
}

type pooledOp struct {
	chain *Chain
}

func (o *pooledOp) Init(backend.Config) error { return nil }

func (o *pooledOp) Create(
	ctx context.Context,
	_ int64,
	_ backend.Issuer,
) (backend.Account, error) {
	if err := ctx.Err(); err != nil {
		return backend.Account{}, err
	}
	if o.chain.shouldFail(OpPooled) {
		return backend.Account{}, ErrInjected
	}
	return sequentialAccount(&o.chain.pooledSeq), nil
}

func (o *pooledOp) MaxBatchSize() int {
	return MaxBatchSize
}

type distributionOp struct {
	chain *Chain
}

func (o *distributionOp) Init(backend.Config) error { return nil }

func (o *distributionOp) Create(
	ctx context.Context,
	issuers []backend.Issuer,
) (backend.DistributionAndBallot, error) {
	if err := ctx.Err(); err != nil {
		return backend.DistributionAndBallot{}, err
	}
	if o.chain.shouldFail(OpDistribution) {
		return backend.DistributionAndBallot{}, ErrInjected
	}
	tokens := make(map[string]string, len(issuers))
	for _, issuer := range issuers {
		tokens[issuer.Account.ID] = issuer.AssetCode
	}
	return backend.DistributionAndBallot{
		Distribution: sequentialAccount(&o.chain.distributionSeq),
		Ballot:       sequentialAccount(&o.chain.ballotSeq),
		Tokens:       tokens,
	}, nil
}

type fundingOp struct {
	chain *Chain
}

func (o *fundingOp) Init(backend.Config) error { return nil }

func (o *fundingOp) HasEnoughBalance(
	ctx context.Context,
	_ backend.Account,
	_ int64,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return !o.chain.underfunded.Load(), nil
}

type voterTxOp struct {
	chain *Chain
}

func (o *voterTxOp) Init(backend.Config) error { return nil }

func (o *voterTxOp) CreateTransaction(
	ctx context.Context,
	req backend.VoterTransactionRequest,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if o.chain.shouldFail(OpVoterTx) {
		return "", ErrInjected
	}
	voterKey := req.VoterAccountID
	if len(voterKey) > voterKeyPrefixLength {
		voterKey = voterKey[:voterKeyPrefixLength]
	}
	return randomAlphabetic(transactionRandomLength) + voterKey, nil
}

func randomAlphabetic(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = letters[rand.IntN(len(letters))] // #nosec G404
	}
	return string(buf)
}
