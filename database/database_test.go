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

package database_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/test/testutil"
)

func newTestVoting(title string, visibility models.Visibility) *models.Voting {
	now := time.Now().UTC()
	return &models.Voting{
		Title:         title,
		Network:       "mockchain",
		VotesCap:      20,
		StartDate:     now.Add(time.Hour),
		EndDate:       now.Add(48 * time.Hour),
		Authorization: models.AuthorizationEmails,
		Visibility:    visibility,
		CreatedBy:     "creator",
		Polls: []models.Poll{
			{
				Index:    2,
				Question: "second?",
				Options: []models.PollOption{
					{Code: 3, Name: "maybe"},
				},
			},
			{
				Index:    1,
				Question: "first?",
				Options: []models.PollOption{
					{Code: 1, Name: "yes"},
					{Code: 2, Name: "no"},
				},
			},
		},
		AuthorizationEmails: []models.AuthorizationEmail{
			{Email: "alice@example.com"},
		},
	}
}

// createProvisioned stores a voting with one issuer, its progress row and
// the given number of pooled accounts
func createProvisioned(
	t *testing.T,
	db *database.Database,
	pooled int,
) (*models.Voting, models.Issuer) {
	t.Helper()
	ctx := t.Context()
	voting := newTestVoting("provisioned", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	issuers := []models.Issuer{
		{
			VotingID:      voting.ID,
			AccountPublic: "issuer-1",
			AccountSecret: "secret-1",
			AssetCode:     "PROV1",
			VotesCap:      int64(pooled),
		},
	}
	require.NoError(t, db.CreateIssuers(ctx, issuers, nil))
	require.NoError(t, db.SeedProgress(ctx, []models.PooledAccountProgress{
		{
			VotingID:     voting.ID,
			IssuerID:     issuers[0].ID,
			ToCreate:     int64(pooled),
			LeftToCreate: int64(pooled),
		},
	}, nil))
	if pooled > 0 {
		rows, err := db.GetProgress(ctx, voting.ID, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		ok, err := db.ClaimProgress(ctx, &rows[0], time.Now(), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		accounts := make([]models.PooledAccount, pooled)
		for i := range accounts {
			accounts[i] = models.PooledAccount{
				VotingID:      voting.ID,
				IssuerID:      issuers[0].ID,
				AccountPublic: fmt.Sprintf("pooled-%d", i),
				AccountSecret: fmt.Sprintf("pooled-secret-%d", i),
			}
		}
		left, err := db.CompleteBatch(ctx, &rows[0], accounts)
		require.NoError(t, err)
		require.Equal(t, int64(0), left)
	}
	return voting, issuers[0]
}

func TestCreateAndGetVoting(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("budget", models.VisibilityPrivate)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	require.NotZero(t, voting.ID)

	got, err := db.GetVoting(ctx, voting.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "budget", got.Title)
	require.Len(t, got.Polls, 2)
	assert.Equal(t, 1, got.Polls[0].Index, "polls are ordered by index")
	assert.Len(t, got.Polls[0].Options, 2)
	assert.True(t, got.HasOptionCode(3))
	assert.False(t, got.HasOptionCode(4))
	assert.True(t, got.AllowsEmail("Alice@Example.com"))
	assert.Nil(t, got.IpfsCid)

	_, err = db.GetVoting(ctx, voting.ID+100, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListPublicVotings(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	for i, visibility := range []models.Visibility{
		models.VisibilityPublic,
		models.VisibilityPrivate,
		models.VisibilityPublic,
		models.VisibilityUnlisted,
		models.VisibilityPublic,
	} {
		require.NoError(
			t,
			db.CreateVoting(ctx, newTestVoting(fmt.Sprintf("v%d", i), visibility), nil),
		)
	}
	page, err := db.ListPublicVotings(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "v4", page[0].Title)
	assert.Equal(t, "v2", page[1].Title)

	page, err = db.ListPublicVotings(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "v0", page[0].Title)
}

func TestSetVotingAccountsOnce(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("accounts", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	issuers := []models.Issuer{
		{VotingID: voting.ID, AccountPublic: "i1", AssetCode: "ACC1", VotesCap: 10},
		{VotingID: voting.ID, AccountPublic: "i2", AssetCode: "ACC2", VotesCap: 10},
	}
	require.NoError(t, db.CreateIssuers(ctx, issuers, nil))

	require.NoError(t, db.SetVotingAccounts(ctx, voting.ID, database.VotingAccounts{
		DistributionPublic: "dist",
		DistributionSecret: "dist-secret",
		BallotPublic:       "ballot",
		BallotSecret:       "ballot-secret",
		IssuerTokens: map[uint]string{
			issuers[0].ID: "token-1",
			issuers[1].ID: "token-2",
		},
	}))
	// A second call leaves the first result in place
	require.NoError(t, db.SetVotingAccounts(ctx, voting.ID, database.VotingAccounts{
		DistributionPublic: "other",
		BallotPublic:       "other",
	}))

	got, err := db.GetVoting(ctx, voting.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got.DistributionAccountPublic)
	assert.Equal(t, "dist", *got.DistributionAccountPublic)
	assert.Equal(t, "ballot", *got.BallotAccountPublic)
	require.Len(t, got.Issuers, 2)
	require.NotNil(t, got.Issuers[1].TokenID)
	assert.Equal(t, "token-2", *got.Issuers[1].TokenID)
}

func TestProvisionLease(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("lease", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	now := time.Now()

	ok, err := db.AcquireProvisionLease(ctx, voting.ID, "first", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.AcquireProvisionLease(ctx, voting.ID, "second", now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is held")
	require.NoError(t, db.RenewProvisionLease(ctx, voting.ID, "first", now.Add(time.Second), time.Minute, nil))

	ids, err := db.ListUnpublishedVotings(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = db.ListUnpublishedVotings(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{voting.ID}, ids, "expired lease")

	ok, err = db.AcquireProvisionLease(ctx, voting.ID, "second", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
	err = db.RenewProvisionLease(ctx, voting.ID, "first", now.Add(2*time.Minute), time.Minute, nil)
	require.ErrorIs(t, err, database.ErrLeaseLost)

	// Releasing a lost lease leaves the new holder in place
	require.NoError(t, db.ReleaseProvisionLease(ctx, voting.ID, "first"))
	got, err := db.GetVoting(ctx, voting.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got.ProvisionLeaseHolder)
	assert.Equal(t, "second", *got.ProvisionLeaseHolder)

	require.NoError(t, db.ReleaseProvisionLease(ctx, voting.ID, "second"))
	got, err = db.GetVoting(ctx, voting.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.ProvisionLeaseHolder)
	assert.Nil(t, got.ProvisionLeaseUntil)

	require.NoError(t, db.SetVotingCid(ctx, voting.ID, "bafy"))
	ids, err = db.ListUnpublishedVotings(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.ErrorIs(t, db.SetVotingCid(ctx, voting.ID+1, "bafy"), errs.ErrNotFound)
}

func TestCreateVotingIssuersOnce(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("issuers", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	now := time.Now()
	issuersFor := func(account string) []models.Issuer {
		return []models.Issuer{
			{VotingID: voting.ID, AccountPublic: account + "-1", AssetCode: "ISS1", VotesCap: 5},
			{VotingID: voting.ID, AccountPublic: account + "-2", AssetCode: "ISS2", VotesCap: 5},
		}
	}

	ok, err := db.AcquireProvisionLease(ctx, voting.ID, "stale", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.AcquireProvisionLease(ctx, voting.ID, "fresh", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "lease expired")

	err = db.CreateVotingIssuers(ctx, voting.ID, "stale", now.Add(2*time.Minute), time.Minute, issuersFor("stale"))
	require.ErrorIs(t, err, database.ErrLeaseLost)
	require.NoError(t, db.CreateVotingIssuers(ctx, voting.ID, "fresh", now.Add(2*time.Minute), time.Minute, issuersFor("fresh")))
	err = db.CreateVotingIssuers(ctx, voting.ID, "fresh", now.Add(2*time.Minute), time.Minute, issuersFor("again"))
	require.ErrorIs(t, err, database.ErrIssuersExist)

	issuers, err := db.GetIssuers(ctx, voting.ID, nil)
	require.NoError(t, err)
	require.Len(t, issuers, 2)
	for _, issuer := range issuers {
		assert.Contains(t, issuer.AccountPublic, "fresh")
	}
}

func TestSeedProgressIsIdempotent(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting, issuer := createProvisioned(t, db, 0)
	err := db.SeedProgress(ctx, []models.PooledAccountProgress{
		{VotingID: voting.ID, IssuerID: issuer.ID, ToCreate: 99, LeftToCreate: 99},
	}, nil)
	require.NoError(t, err)
	rows, err := db.GetProgress(ctx, voting.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].ToCreate)
}

func TestBatchCompletionSums(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("batches", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	issuers := []models.Issuer{{VotingID: voting.ID, AccountPublic: "i", VotesCap: 7}}
	require.NoError(t, db.CreateIssuers(ctx, issuers, nil))
	require.NoError(t, db.SeedProgress(ctx, []models.PooledAccountProgress{
		{VotingID: voting.ID, IssuerID: issuers[0].ID, ToCreate: 7, LeftToCreate: 7},
	}, nil))

	created := 0
	for _, batch := range []int{3, 0, 3, 1} {
		now := time.Now()
		rows, err := db.SampleUnfinishedProgress(ctx, now, 5)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		row := rows[0]
		ok, err := db.ClaimProgress(ctx, &row, now, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		// A claimed row is not sampled again until the claim expires
		again, err := db.SampleUnfinishedProgress(ctx, now, 5)
		require.NoError(t, err)
		assert.Empty(t, again)

		accounts := make([]models.PooledAccount, batch)
		for i := range accounts {
			accounts[i] = models.PooledAccount{
				VotingID:      voting.ID,
				IssuerID:      issuers[0].ID,
				AccountPublic: fmt.Sprintf("p%d", created+i),
			}
		}
		left, err := db.CompleteBatch(ctx, &row, accounts)
		require.NoError(t, err)
		created += batch
		assert.Equal(t, int64(7-created), left)
	}
	count, err := db.CountPooledAccounts(ctx, issuers[0].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	rows, left, err := db.ProgressSummary(ctx, voting.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.Equal(t, int64(0), left)
	sampled, err := db.SampleUnfinishedProgress(ctx, time.Now(), 5)
	require.NoError(t, err)
	assert.Empty(t, sampled)
}

func TestCompleteBatchRejectsStaleClaim(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting := newTestVoting("stale", models.VisibilityPublic)
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	issuers := []models.Issuer{{VotingID: voting.ID, AccountPublic: "i", VotesCap: 2}}
	require.NoError(t, db.CreateIssuers(ctx, issuers, nil))
	require.NoError(t, db.SeedProgress(ctx, []models.PooledAccountProgress{
		{VotingID: voting.ID, IssuerID: issuers[0].ID, ToCreate: 2, LeftToCreate: 2},
	}, nil))
	rows, err := db.GetProgress(ctx, voting.ID, nil)
	require.NoError(t, err)
	first, second := rows[0], rows[0]

	now := time.Now()
	ok, err := db.ClaimProgress(ctx, &first, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.ClaimProgress(ctx, &second, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "version moved on")

	// More accounts than are left
	accounts := make([]models.PooledAccount, 3)
	for i := range accounts {
		accounts[i] = models.PooledAccount{
			VotingID:      voting.ID,
			IssuerID:      issuers[0].ID,
			AccountPublic: fmt.Sprintf("p%d", i),
		}
	}
	_, err = db.CompleteBatch(ctx, &first, accounts)
	require.ErrorIs(t, err, database.ErrClaimLost)
	count, err := db.CountPooledAccounts(ctx, issuers[0].ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "accounts are rolled back")

	left, err := db.CompleteBatch(ctx, &first, accounts[:2])
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)
}

func TestConcurrentPooledAccountClaims(t *testing.T) {
	const accounts = 8
	for _, claimers := range []int{accounts, accounts + 1} {
		t.Run(fmt.Sprintf("%d claimers", claimers), func(t *testing.T) {
			db := testutil.NewDatabase(t)
			voting, _ := createProvisioned(t, db, accounts)
			var wg sync.WaitGroup
			var mu sync.Mutex
			claimed := make(map[uint]string)
			exhausted := 0
			for i := range claimers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					signature := fmt.Sprintf("sig-%d", i)
					var account *models.PooledAccount
					err := db.Transaction(t.Context(), func(txn *database.Txn) error {
						var err error
						account, err = db.ClaimPooledAccount(t.Context(), voting.ID, signature, txn)
						return err
					})
					mu.Lock()
					defer mu.Unlock()
					if errors.Is(err, database.ErrNoPooledAccount) {
						exhausted++
						return
					}
					if assert.NoError(t, err) {
						_, dup := claimed[account.ID]
						assert.False(t, dup, "account %d claimed twice", account.ID)
						claimed[account.ID] = signature
					}
				}()
			}
			wg.Wait()
			assert.Len(t, claimed, accounts)
			assert.Equal(t, claimers-accounts, exhausted)
			left, err := db.CountAvailablePooledAccounts(t.Context(), voting.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(0), left)
		})
	}
}

func TestClaimRolledBackWithTransaction(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting, _ := createProvisioned(t, db, 1)
	rollback := errors.New("rollback")
	err := db.Transaction(ctx, func(txn *database.Txn) error {
		_, err := db.ClaimPooledAccount(ctx, voting.ID, "sig", txn)
		require.NoError(t, err)
		return rollback
	})
	require.ErrorIs(t, err, rollback)
	left, err := db.CountAvailablePooledAccounts(ctx, voting.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestCommissionSession(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting, _ := createProvisioned(t, db, 0)

	session, err := db.CreateSession(ctx, voting.ID, "alice", nil)
	require.NoError(t, err)
	again, err := db.CreateSession(ctx, voting.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID, "create is idempotent")

	ok, err := db.SetEnvelopeSignature(ctx, voting.ID, "bob", "sig")
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.False(t, ok)

	ok, err = db.SetEnvelopeSignature(ctx, voting.ID, "alice", "sig-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.SetEnvelopeSignature(ctx, voting.ID, "alice", "sig-2")
	require.NoError(t, err)
	assert.False(t, ok, "signature is set once")

	got, err := db.GetSessionByEnvelope(ctx, "sig-1", nil)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	_, err = db.GetSessionByEnvelope(ctx, "sig-2", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStoredTransactionCreateIfAbsent(t *testing.T) {
	db := testutil.NewDatabase(t)
	ctx := t.Context()
	voting, _ := createProvisioned(t, db, 2)

	first := &models.StoredTransaction{
		Signature:       "revealed",
		Transaction:     "tx-1",
		VotingID:        voting.ID,
		PooledAccountID: 1,
	}
	created, err := db.CreateStoredTransaction(ctx, first, nil)
	require.NoError(t, err)
	assert.True(t, created)

	second := &models.StoredTransaction{
		Signature:       "revealed",
		Transaction:     "tx-2",
		VotingID:        voting.ID,
		PooledAccountID: 2,
	}
	created, err = db.CreateStoredTransaction(ctx, second, nil)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := db.GetStoredTransaction(ctx, "revealed", nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.Transaction, "stored transaction is immutable")

	_, err = db.GetStoredTransaction(ctx, "unknown", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)

	session, err := db.CreateSession(ctx, voting.ID, "alice", nil)
	require.NoError(t, err)
	require.NoError(t, db.LinkSessionTransaction(ctx, session.ID, got.ID, nil))
	session, err = db.GetSession(ctx, voting.ID, "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, session.StoredTransactionID)
	assert.Equal(t, got.ID, *session.StoredTransactionID)
}
