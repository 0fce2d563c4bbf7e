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

package provision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/backend/mockchain"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/test/testutil"
	"github.com/blinklabs-io/devote/publish"
)

func TestPartition(t *testing.T) {
	testDefs := []struct {
		votesCap int64
		n        int
		expected []int64
	}{
		{20, 2, []int64{10, 10}},
		{7, 3, []int64{3, 2, 2}},
		{5, 5, []int64{1, 1, 1, 1, 1}},
		{1, 1, []int64{1}},
	}
	for _, testDef := range testDefs {
		shares := partition(testDef.votesCap, testDef.n)
		assert.Equal(t, testDef.expected, shares)
		var sum int64
		for _, s := range shares {
			sum += s
		}
		assert.Equal(t, testDef.votesCap, sum)
	}
}

func TestAssetCode(t *testing.T) {
	assert.Equal(t, "BUDGET1", assetCode("budget", 1))
	assert.Equal(t, "ELECTION12", assetCode("Election 2026 for the board", 12))
	assert.Equal(t, "VOTE3", assetCode("¿¡!", 3))
}

func TestTakenOverRunStops(t *testing.T) {
	db := testutil.NewDatabase(t)
	chain := mockchain.New()
	p, err := New(Config{
		DB:        db,
		Registry:  backend.NewRegistry(nil, chain.Entry()),
		Publisher: publish.New(db.Blob(), nil),
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	ctx := t.Context()

	now := time.Now()
	voting := &models.Voting{
		Title:         "takeover",
		Network:       mockchain.Name,
		VotesCap:      10,
		StartDate:     now,
		EndDate:       now.Add(time.Hour),
		Authorization: models.AuthorizationOpen,
		Visibility:    models.VisibilityPublic,
	}
	require.NoError(t, db.CreateVoting(ctx, voting, nil))
	ok, err := db.AcquireProvisionLease(ctx, voting.ID, "current", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	run := &stageRun{p: p, holder: "expired", logger: p.logger}
	err = run.execute(ctx, voting.ID)
	require.ErrorIs(t, err, database.ErrLeaseLost)
	stage, _ := errs.StageOf(err)
	assert.Equal(t, errs.StageIssuers, stage)
	assert.Zero(t, chain.IssuerAccountsCreated())

	issuers, err := db.GetIssuers(ctx, voting.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, issuers)
}
