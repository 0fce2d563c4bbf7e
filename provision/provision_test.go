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

package provision_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/backend/mockchain"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/event"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/test/testutil"
	"github.com/blinklabs-io/devote/provision"
	"github.com/blinklabs-io/devote/publish"
)

type testEnv struct {
	db          *database.Database
	chain       *mockchain.Chain
	publisher   *publish.Publisher
	bus         *event.EventBus
	provisioner *provision.Provisioner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDatabase(t)
	var err error
	chain := mockchain.New()
	env := &testEnv{
		db:        db,
		chain:     chain,
		publisher: publish.New(db.Blob(), nil),
		bus:       event.NewEventBus(nil, nil),
	}
	env.provisioner, err = provision.New(provision.Config{
		DB:             db,
		Registry:       backend.NewRegistry(nil, chain.Entry()),
		Publisher:      env.publisher,
		EventBus:       env.bus,
		PromRegistry:   prometheus.NewRegistry(),
		BackendTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		env.provisioner.Stop()
		env.bus.Stop()
	})
	return env
}

func validRequest() provision.Request {
	now := time.Now()
	return provision.Request{
		Network:   mockchain.Name,
		Title:     "Budget 2026!",
		VotesCap:  20,
		StartDate: now.Add(time.Hour),
		EndDate:   now.Add(72 * time.Hour),
		Polls: []provision.PollInput{
			{
				Index:    1,
				Question: "Approve the budget?",
				Options: []provision.OptionInput{
					{Code: 1, Name: "yes"},
					{Code: 2, Name: "no"},
				},
			},
		},
		Authorization: models.AuthorizationOpen,
		Visibility:    models.VisibilityPublic,
		CreatedBy:     "creator",
	}
}

func TestProvisionCapacity20(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	_, events := env.bus.Subscribe(event.VotingProvisionedEventType)

	id, err := env.provisioner.Provision(ctx, validRequest())
	require.NoError(t, err)
	env.provisioner.Wait()

	ok, err := env.provisioner.IsProvisionedProperly(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	voting, err := env.db.GetVoting(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, voting.Issuers, mockchain.NumOfIssuerAccounts)
	for i, issuer := range voting.Issuers {
		assert.Equal(t, int64(10), issuer.VotesCap)
		assert.Equal(t, []string{"BUDGET201", "BUDGET202"}[i], issuer.AssetCode)
		require.NotNil(t, issuer.TokenID)
		assert.Equal(t, issuer.AssetCode, *issuer.TokenID)
	}
	assert.Equal(t, int64(2), env.chain.IssuerAccountsCreated())
	assert.Nil(t, voting.ProvisionLeaseUntil, "lease is released")
	assert.Nil(t, voting.ProvisionLeaseHolder)
	assert.Nil(t, voting.EncryptionKey)

	progress, err := env.db.GetProgress(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	for _, row := range progress {
		assert.Equal(t, int64(10), row.ToCreate)
		assert.Equal(t, int64(10), row.LeftToCreate)
	}

	require.NotNil(t, voting.IpfsCid)
	snap, err := env.publisher.Fetch(ctx, *voting.IpfsCid)
	require.NoError(t, err)
	assert.Equal(t, "Budget 2026!", snap.Title)
	assert.Equal(t, *voting.DistributionAccountPublic, snap.DistributionAccountID)
	assert.Len(t, snap.IssuerAccountIDs, 2)

	evt := testutil.RequireReceive(t, events, 2*time.Second, "voting.provisioned")
	data, ok := evt.Data.(event.VotingProvisionedEvent)
	require.True(t, ok)
	assert.Equal(t, id, data.VotingID)
	assert.Equal(t, *voting.IpfsCid, data.Cid)
}

func TestProvisionEncryptedVotingGetsKey(t *testing.T) {
	env := newTestEnv(t)
	req := validRequest()
	until := req.EndDate.Add(time.Hour)
	req.EncryptedUntil = &until
	id, err := env.provisioner.Provision(t.Context(), req)
	require.NoError(t, err)
	env.provisioner.Wait()
	voting, err := env.db.GetVoting(t.Context(), id, nil)
	require.NoError(t, err)
	require.NotNil(t, voting.EncryptionKey)
	assert.True(t, voting.Encrypted())
}

func TestProvisionValidation(t *testing.T) {
	env := newTestEnv(t)
	testDefs := []struct {
		name   string
		modify func(*provision.Request)
		target error
	}{
		{"zero cap", func(r *provision.Request) { r.VotesCap = 0 }, errs.ErrValidation},
		{"cap too large", func(r *provision.Request) { r.VotesCap = 201 }, errs.ErrValidation},
		{"empty title", func(r *provision.Request) { r.Title = "  " }, errs.ErrValidation},
		{"end before start", func(r *provision.Request) { r.EndDate = r.StartDate }, errs.ErrValidation},
		{"no polls", func(r *provision.Request) { r.Polls = nil }, errs.ErrValidation},
		{"duplicate option code", func(r *provision.Request) {
			r.Polls[0].Options[1].Code = r.Polls[0].Options[0].Code
		}, errs.ErrValidation},
		{"emails without allowlist", func(r *provision.Request) {
			r.Authorization = models.AuthorizationEmails
		}, errs.ErrValidation},
		{"bad email", func(r *provision.Request) {
			r.Authorization = models.AuthorizationEmails
			r.AuthorizationEmailOptions = []string{"not-an-email"}
		}, errs.ErrValidation},
		{"bad visibility", func(r *provision.Request) { r.Visibility = "SECRET" }, errs.ErrValidation},
		{"unknown backend", func(r *provision.Request) { r.Network = "doesnotexist" }, errs.ErrBackendNotFound},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			req := validRequest()
			testDef.modify(&req)
			_, err := env.provisioner.Provision(t.Context(), req)
			require.ErrorIs(t, err, testDef.target)
			stage, ok := errs.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, errs.StageValidate, stage)
		})
	}
	votings, err := env.db.ListPublicVotings(t.Context(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, votings, "nothing is persisted")
	assert.Zero(t, env.chain.IssuerAccountsCreated())
}

func TestProvisionInsufficientFunding(t *testing.T) {
	env := newTestEnv(t)
	env.chain.SetUnderfunded(true)
	req := validRequest()
	req.FundingAccountPublic = "funder"
	req.FundingAccountSecret = "secret"
	_, err := env.provisioner.Provision(t.Context(), req)
	require.ErrorIs(t, err, provision.ErrInsufficientFunds)
	stage, _ := errs.StageOf(err)
	assert.Equal(t, errs.StageFunding, stage)

	env.chain.SetUnderfunded(false)
	id, err := env.provisioner.Provision(t.Context(), req)
	require.NoError(t, err)
	env.provisioner.Wait()
	voting, err := env.db.GetVoting(t.Context(), id, nil)
	require.NoError(t, err)
	require.NotNil(t, voting.FundingAccountPublic)
	assert.Equal(t, "funder", *voting.FundingAccountPublic)
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.chain.FailNext(mockchain.OpDistribution, 1)
	id, err := env.provisioner.Provision(ctx, validRequest())
	require.NoError(t, err)
	env.provisioner.Wait()

	ok, err := env.provisioner.IsProvisionedProperly(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
	voting, err := env.db.GetVoting(ctx, id, nil)
	require.NoError(t, err)
	assert.Len(t, voting.Issuers, 2, "issuer stage completed")
	assert.Nil(t, voting.DistributionAccountPublic)

	require.NoError(t, env.provisioner.Resume(ctx, id))
	ok, err = env.provisioner.IsProvisionedProperly(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), env.chain.IssuerAccountsCreated(), "issuers are not recreated")

	// Resuming a provisioned voting changes nothing
	require.NoError(t, env.provisioner.Resume(ctx, id))
	assert.Equal(t, int64(2), env.chain.IssuerAccountsCreated())
}

func TestResumeHonorsLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.chain.FailNext(mockchain.OpIssuer, 1)
	id, err := env.provisioner.Provision(ctx, validRequest())
	require.NoError(t, err)
	env.provisioner.Wait()

	ok, err := env.db.AcquireProvisionLease(ctx, id, "other", time.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, env.provisioner.Resume(ctx, id), provision.ErrInProgress)

	require.NoError(t, env.db.ReleaseProvisionLease(ctx, id, "other"))
	require.NoError(t, env.provisioner.Resume(ctx, id))

	require.ErrorIs(t, env.provisioner.Resume(ctx, id+100), errs.ErrNotFound)
}

func TestRetryPass(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.chain.FailNext(mockchain.OpIssuer, 1)
	id, err := env.provisioner.Provision(ctx, validRequest())
	require.NoError(t, err)
	env.provisioner.Wait()
	ok, err := env.provisioner.IsProvisionedProperly(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	env.provisioner.RetryPass(ctx)
	ok, err = env.provisioner.IsProvisionedProperly(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
