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

// Package evm implements a ledger backend for EVM compatible chains.
// Accounts are secp256k1 key pairs and voter transactions are signed
// EIP-155 transactions addressed to the ballot account.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/internal/errs"
)

const (
	Name = "evm"

	mainnetChainID = 1
	testnetChainID = 11155111

	defaultVotesPerIssuer = 10000
	defaultMaxBatchSize   = 50
	defaultWeiPerVote     = 1_000_000_000_000
	voteGasLimit          = 60000
)

// Option names read from the backend configuration section
const (
	OptionRPCURL         = "rpc-url"
	OptionChainID        = "chain-id"
	OptionVotesPerIssuer = "votes-per-issuer"
	OptionMaxBatchSize   = "max-batch-size"
	OptionWeiPerVote     = "wei-per-vote"
)

// NewEntry returns the registry entry for the EVM backend
func NewEntry() backend.Entry {
	return backend.Entry{
		Name:        Name,
		Description: "EVM compatible chain",
		NewFactoryFunc: func() (backend.Factory, error) {
			return &Factory{}, nil
		},
	}
}

type Factory struct{}

func (f *Factory) NewIssuerAccountOp() backend.IssuerAccountOp {
	return &issuerOp{}
}

func (f *Factory) NewPooledAccountOp() backend.PooledAccountOp {
	return &pooledOp{}
}

func (f *Factory) NewDistributionAndBallotAccountOp() backend.DistributionAndBallotAccountOp {
	return &distributionOp{}
}

func (f *Factory) NewFundingAccountOp() backend.FundingAccountOp {
	return &fundingOp{}
}

func (f *Factory) NewVoterTransactionOp() backend.VoterTransactionOp {
	return &voterTxOp{}
}

// settings are the parsed backend options shared by all operations
type settings struct {
	rpcURL         string
	chainID        *big.Int
	votesPerIssuer int64
	maxBatchSize   int
	weiPerVote     *big.Int
}

func parseSettings(cfg backend.Config) (settings, error) {
	s := settings{
		rpcURL: cfg.StringOption(OptionRPCURL, ""),
	}
	defaultChainID := int64(mainnetChainID)
	if cfg.UseTestnet {
		defaultChainID = testnetChainID
	}
	chainID, err := intOption(cfg, OptionChainID, defaultChainID)
	if err != nil {
		return s, err
	}
	s.chainID = big.NewInt(chainID)
	if s.votesPerIssuer, err = intOption(cfg, OptionVotesPerIssuer, defaultVotesPerIssuer); err != nil {
		return s, err
	}
	batch, err := intOption(cfg, OptionMaxBatchSize, defaultMaxBatchSize)
	if err != nil {
		return s, err
	}
	s.maxBatchSize = int(batch)
	wei, err := intOption(cfg, OptionWeiPerVote, defaultWeiPerVote)
	if err != nil {
		return s, err
	}
	s.weiPerVote = big.NewInt(wei)
	return s, nil
}

func intOption(cfg backend.Config, name string, def int64) (int64, error) {
	raw := cfg.StringOption(name, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("option %s: must be positive", name)
	}
	return v, nil
}

func newAccount() (backend.Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return backend.Account{}, fmt.Errorf("generate key: %w", err)
	}
	return backend.Account{
		ID:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Secret: hexutil.Encode(crypto.FromECDSA(key)),
	}, nil
}

type issuerOp struct {
	settings settings
}

func (o *issuerOp) Init(cfg backend.Config) (err error) {
	o.settings, err = parseSettings(cfg)
	return err
}

func (o *issuerOp) Create(
	ctx context.Context,
	_ int64,
) (backend.Account, error) {
	if err := ctx.Err(); err != nil {
		return backend.Account{}, err
	}
	return newAccount()
}

func (o *issuerOp) CalcNumOfAccountsNeeded(votesCap int64) int {
	if votesCap <= 0 {
		return 1
	}
	per := o.settings.votesPerIssuer
	return int((votesCap + per - 1) / per)
}

type pooledOp struct {
	settings settings
}

func (o *pooledOp) Init(cfg backend.Config) (err error) {
	o.settings, err = parseSettings(cfg)
	return err
}

func (o *pooledOp) Create(
	ctx context.Context,
	_ int64,
	_ backend.Issuer,
) (backend.Account, error) {
	if err := ctx.Err(); err != nil {
		return backend.Account{}, err
	}
	return newAccount()
}

func (o *pooledOp) MaxBatchSize() int {
	return o.settings.maxBatchSize
}

type distributionOp struct{}

func (o *distributionOp) Init(backend.Config) error { return nil }

func (o *distributionOp) Create(
	ctx context.Context,
	issuers []backend.Issuer,
) (backend.DistributionAndBallot, error) {
	if err := ctx.Err(); err != nil {
		return backend.DistributionAndBallot{}, err
	}
	distribution, err := newAccount()
	if err != nil {
		return backend.DistributionAndBallot{}, err
	}
	ballot, err := newAccount()
	if err != nil {
		return backend.DistributionAndBallot{}, err
	}
	tokens := make(map[string]string, len(issuers))
	for _, issuer := range issuers {
		tokens[issuer.Account.ID] = TokenID(issuer)
	}
	return backend.DistributionAndBallot{
		Distribution: distribution,
		Ballot:       ballot,
		Tokens:       tokens,
	}, nil
}

// TokenID derives the token identifier for an issuer from its address and
// asset code
func TokenID(issuer backend.Issuer) string {
	addr := common.HexToAddress(issuer.Account.ID)
	hash := crypto.Keccak256(addr.Bytes(), []byte(issuer.AssetCode))
	return common.BytesToAddress(hash[len(hash)-common.AddressLength:]).Hex()
}

type fundingOp struct {
	settings settings
}

func (o *fundingOp) Init(cfg backend.Config) (err error) {
	o.settings, err = parseSettings(cfg)
	return err
}

// HasEnoughBalance queries the configured RPC node. Without an RPC URL the
// check is skipped and the account is assumed to be funded.
func (o *fundingOp) HasEnoughBalance(
	ctx context.Context,
	account backend.Account,
	votesCap int64,
) (bool, error) {
	if o.settings.rpcURL == "" {
		return true, nil
	}
	if !common.IsHexAddress(account.ID) {
		return false, fmt.Errorf(
			"%w: funding account %q is not an address",
			errs.ErrValidation,
			account.ID,
		)
	}
	client, err := ethclient.DialContext(ctx, o.settings.rpcURL)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", o.settings.rpcURL, err)
	}
	defer client.Close()
	balance, err := client.BalanceAt(
		ctx,
		common.HexToAddress(account.ID),
		nil,
	)
	if err != nil {
		return false, fmt.Errorf("query balance: %w", err)
	}
	required := new(big.Int).Mul(big.NewInt(votesCap), o.settings.weiPerVote)
	return balance.Cmp(required) >= 0, nil
}

type voterTxOp struct {
	settings settings
}

func (o *voterTxOp) Init(cfg backend.Config) (err error) {
	o.settings, err = parseSettings(cfg)
	return err
}

// CreateTransaction signs, with the pooled account key, a transaction to the
// ballot account whose payload names the voter and the issuer's asset
func (o *voterTxOp) CreateTransaction(
	ctx context.Context,
	req backend.VoterTransactionRequest,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !common.IsHexAddress(req.VoterAccountID) {
		return "", fmt.Errorf(
			"%w: voter account %q is not an address",
			errs.ErrValidation,
			req.VoterAccountID,
		)
	}
	if !common.IsHexAddress(req.Ballot.ID) {
		return "", errors.New("ballot account is not an address")
	}
	keyBytes, err := hexutil.Decode(req.PooledAccount.Secret)
	if err != nil {
		return "", fmt.Errorf("decode pooled account key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return "", fmt.Errorf("parse pooled account key: %w", err)
	}
	ballot := common.HexToAddress(req.Ballot.ID)
	voter := common.HexToAddress(req.VoterAccountID)
	data := append(voter.Bytes(), []byte(req.Issuer.AssetCode)...)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(0),
		Gas:      voteGasLimit,
		To:       &ballot,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(o.settings.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}
