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

package voting_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/disclosure"
	"github.com/blinklabs-io/devote/internal/base62"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/identity"
	"github.com/blinklabs-io/devote/internal/test/testutil"
	"github.com/blinklabs-io/devote/voting"
)

var unlock = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db  *database.Database
	now time.Time
	svc *voting.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDatabase(t)
	var err error
	env := &testEnv{
		db:  db,
		now: unlock.Add(-time.Hour),
	}
	env.svc, err = voting.New(voting.Config{
		DB:  db,
		Now: func() time.Time { return env.now },
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) createVoting(
	t *testing.T,
	title string,
	visibility models.Visibility,
	modify func(*models.Voting),
) *models.Voting {
	t.Helper()
	v := &models.Voting{
		Title:         title,
		Network:       "mockchain",
		VotesCap:      10,
		StartDate:     unlock.Add(-48 * time.Hour),
		EndDate:       unlock.Add(-24 * time.Hour),
		Authorization: models.AuthorizationEmails,
		Visibility:    visibility,
		CreatedBy:     "creator",
		Polls: []models.Poll{
			{
				Index:    1,
				Question: "Pick one",
				Options: []models.PollOption{
					{Code: 7, Name: "seven"},
					{Code: 9, Name: "nine"},
				},
			},
		},
		AuthorizationEmails: []models.AuthorizationEmail{
			{Email: "voter@example.com"},
		},
	}
	if modify != nil {
		modify(v)
	}
	require.NoError(t, env.db.CreateVoting(t.Context(), v, nil))
	return v
}

func encrypted(t *testing.T) func(*models.Voting) {
	key, err := disclosure.GenerateKey()
	require.NoError(t, err)
	return func(v *models.Voting) {
		until := unlock
		v.EncryptedUntil = &until
		v.EncryptionKey = &key
	}
}

func TestGetDisclosesKeyAfterUnlock(t *testing.T) {
	env := newTestEnv(t)
	v := env.createVoting(t, "secret ballot", models.VisibilityPublic, encrypted(t))

	view, err := env.svc.Get(t.Context(), v.ID, identity.User{})
	require.NoError(t, err)
	assert.Equal(t, base62.Encode(v.ID), view.ID)
	assert.Equal(t, "secret ballot", view.Title)
	require.Len(t, view.Polls, 1)
	assert.Len(t, view.Polls[0].Options, 2)
	assert.Nil(t, view.DecryptionKey, "key is hidden before unlock")

	env.now = unlock
	view, err = env.svc.Get(t.Context(), v.ID, identity.User{})
	require.NoError(t, err)
	require.NotNil(t, view.DecryptionKey)
	assert.Equal(t, *v.EncryptionKey, *view.DecryptionKey)
}

func TestGetAppliesVisibility(t *testing.T) {
	env := newTestEnv(t)
	private := env.createVoting(t, "private", models.VisibilityPrivate, nil)
	unlisted := env.createVoting(t, "unlisted", models.VisibilityUnlisted, nil)

	testDefs := []struct {
		name    string
		user    identity.User
		allowed bool
	}{
		{"anonymous", identity.User{}, false},
		{"creator", identity.User{ID: "creator"}, true},
		{"allowlisted voter", identity.User{ID: "v", Email: "VOTER@example.com", Roles: []string{"voter"}}, true},
		{"allowlisted vote caller", identity.User{ID: "v", Email: "voter@example.com", Roles: []string{"vote-caller"}}, true},
		{"allowlisted without role", identity.User{ID: "v", Email: "voter@example.com", Roles: []string{"admin"}}, false},
		{"voter not allowlisted", identity.User{ID: "o", Email: "other@example.com", Roles: []string{"voter"}}, false},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := env.svc.Get(t.Context(), private.ID, testDef.user)
			if testDef.allowed {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, errs.ErrForbidden)
			}
			_, err = env.svc.Get(t.Context(), unlisted.ID, testDef.user)
			require.NoError(t, err, "unlisted votings are readable by anyone")
		})
	}

	_, err := env.svc.Get(t.Context(), unlisted.ID+100, identity.User{})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListPublicPaging(t *testing.T) {
	env := newTestEnv(t)
	for i := range 30 {
		env.createVoting(t, "public "+strconv.Itoa(i), models.VisibilityPublic, nil)
	}
	env.createVoting(t, "private", models.VisibilityPrivate, nil)
	env.createVoting(t, "unlisted", models.VisibilityUnlisted, nil)

	page, err := env.svc.ListPublic(t.Context(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, voting.DefaultPageLimit, page.Limit)
	require.Len(t, page.Items, voting.DefaultPageLimit)
	assert.Equal(t, "public 29", page.Items[0].Title, "newest first")

	page, err = env.svc.ListPublic(t.Context(), 25, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 5)
	assert.Equal(t, "public 0", page.Items[4].Title)

	page, err = env.svc.ListPublic(t.Context(), 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, voting.MaxPageLimit, page.Limit)
	assert.Len(t, page.Items, 30)
	for _, item := range page.Items {
		assert.Equal(t, string(models.VisibilityPublic), item.Visibility)
	}

	_, err = env.svc.ListPublic(t.Context(), -1, 0)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestEncryptOptionCode(t *testing.T) {
	env := newTestEnv(t)
	v := env.createVoting(t, "secret ballot", models.VisibilityPublic, encrypted(t))
	plain := env.createVoting(t, "open ballot", models.VisibilityPublic, nil)

	first, err := env.svc.EncryptOptionCode(t.Context(), v.ID, 7)
	require.NoError(t, err)
	second, err := env.svc.EncryptOptionCode(t.Context(), v.ID, 7)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "every encryption uses a fresh IV")
	for _, ciphertext := range []string{first, second} {
		decrypted, err := disclosure.Decrypt(*v.EncryptionKey, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, "7", decrypted)
	}

	_, err = env.svc.EncryptOptionCode(t.Context(), v.ID, 8)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = env.svc.EncryptOptionCode(t.Context(), plain.ID, 7)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = env.svc.EncryptOptionCode(t.Context(), v.ID+100, 7)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
