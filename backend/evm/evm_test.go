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

package evm_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/backend/evm"
	"github.com/blinklabs-io/devote/internal/errs"
)

func openOps(t *testing.T, options map[string]any) *backend.Ops {
	t.Helper()
	registry := backend.NewRegistry(nil, evm.NewEntry())
	registry.SetOptions(evm.Name, options)
	ops, err := registry.Open(evm.Name, true)
	require.NoError(t, err)
	return ops
}

func TestIssuerAccountsNeeded(t *testing.T) {
	ops := openOps(t, map[string]any{evm.OptionVotesPerIssuer: 100})
	assert.Equal(t, 1, ops.Issuer.CalcNumOfAccountsNeeded(100))
	assert.Equal(t, 2, ops.Issuer.CalcNumOfAccountsNeeded(101))
	assert.Equal(t, 1, ops.Issuer.CalcNumOfAccountsNeeded(0))
}

func TestInvalidOption(t *testing.T) {
	registry := backend.NewRegistry(nil, evm.NewEntry())
	registry.SetOptions(evm.Name, map[string]any{evm.OptionMaxBatchSize: "lots"})
	_, err := registry.Open(evm.Name, false)
	require.Error(t, err)
}

func TestVoterTransactionIsSignedByPooledAccount(t *testing.T) {
	ops := openOps(t, nil)
	pooled, err := ops.Pooled.Create(t.Context(), 10, backend.Issuer{})
	require.NoError(t, err)
	require.True(t, common.IsHexAddress(pooled.ID))

	result, err := ops.Distribution.Create(
		t.Context(),
		[]backend.Issuer{{Account: pooled, AssetCode: "VOTE0"}},
	)
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)

	voter := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	raw, err := ops.VoterTx.CreateTransaction(
		t.Context(),
		backend.VoterTransactionRequest{
			VotingID:       1,
			VoterAccountID: voter.Hex(),
			PooledAccount:  pooled,
			Issuer:         backend.Issuer{AssetCode: "VOTE0"},
			Ballot:         result.Ballot,
		},
	)
	require.NoError(t, err)

	txBytes, err := hexutil.Decode(raw)
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(txBytes))
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(11155111)), &tx)
	require.NoError(t, err)
	assert.Equal(t, pooled.ID, sender.Hex())
	assert.Equal(t, result.Ballot.ID, tx.To().Hex())
}

func TestVoterTransactionRejectsBadVoter(t *testing.T) {
	ops := openOps(t, nil)
	_, err := ops.VoterTx.CreateTransaction(
		t.Context(),
		backend.VoterTransactionRequest{VoterAccountID: "not-an-address"},
	)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestFundingWithoutRPC(t *testing.T) {
	ops := openOps(t, nil)
	ok, err := ops.Funding.HasEnoughBalance(t.Context(), backend.Account{}, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
}
