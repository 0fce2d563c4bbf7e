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

package publish_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/database/plugin/blob/badger"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/publish"
)

func newPublisher(t *testing.T) (*publish.Publisher, *badger.BlobStoreBadger) {
	t.Helper()
	store, err := badger.New(badger.WithGc(false))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return publish.New(store, nil), store
}

func TestContentID(t *testing.T) {
	id, err := publish.ContentID([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(
		t,
		"bagaaieraiqjw7i2vwntyuekgvulpp2det2kpwt6cd7tx5ayqybqpmhfk76fa",
		id,
	)
}

func TestSnapshotOf(t *testing.T) {
	dist := "dist"
	ballot := "ballot"
	until := time.Date(2030, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	voting := &models.Voting{
		Title:                     "budget",
		Network:                   "mockchain",
		VotesCap:                  20,
		EncryptedUntil:            &until,
		DistributionAccountPublic: &dist,
		BallotAccountPublic:       &ballot,
		Authorization:             models.AuthorizationOpen,
		Visibility:                models.VisibilityPublic,
		Polls: []models.Poll{
			{
				Index:    1,
				Question: "q",
				Options:  []models.PollOption{{Code: 1, Name: "yes"}},
			},
		},
		Issuers: []models.Issuer{
			{AccountPublic: "i1", AssetCode: "BUDGET1"},
			{AccountPublic: "i2", AssetCode: "BUDGET2"},
		},
	}
	snap := publish.SnapshotOf(voting)
	assert.Equal(t, "dist", snap.DistributionAccountID)
	assert.Equal(t, "ballot", snap.BallotAccountID)
	assert.Equal(t, []string{"i1", "i2"}, snap.IssuerAccountIDs)
	assert.Equal(t, []string{"BUDGET1", "BUDGET2"}, snap.AssetCodes)
	require.NotNil(t, snap.EncryptedUntil)
	assert.Equal(t, time.UTC, snap.EncryptedUntil.Location())
	assert.True(t, until.Equal(*snap.EncryptedUntil))
	require.Len(t, snap.Polls, 1)
	assert.Equal(t, "yes", snap.Polls[0].Options[0].Name)
}

func TestPublishAndFetch(t *testing.T) {
	p, store := newPublisher(t)
	ctx := t.Context()
	snap := &publish.Snapshot{
		Title:    "budget",
		Network:  "mockchain",
		VotesCap: 3,
	}
	id, err := p.Publish(ctx, snap)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "bagaaiera"), id)

	again, err := p.Publish(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, id, again, "content id is deterministic")

	got, err := p.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "budget", got.Title)
	assert.Equal(t, int64(3), got.VotesCap)

	require.NoError(t, store.Put(ctx, "snapshot/"+id, []byte(`{"title":"forged"}`)))
	_, err = p.Fetch(ctx, id)
	require.Error(t, err)

	other, err := publish.ContentID([]byte("{}"))
	require.NoError(t, err)
	_, err = p.Fetch(ctx, other)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = p.Fetch(ctx, "not-a-cid")
	require.ErrorIs(t, err, errs.ErrValidation)
}
