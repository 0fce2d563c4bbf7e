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

package backend_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/backend/mockchain"
	"github.com/blinklabs-io/devote/internal/errs"
)

func TestResolveMockchain(t *testing.T) {
	chain := mockchain.New()
	registry := backend.NewRegistry(nil, chain.Entry())

	factory, err := registry.Resolve("mockchain")
	require.NoError(t, err)
	require.NotNil(t, factory)

	// Repeated resolution yields an equivalent factory
	again, err := registry.Resolve("MockChain")
	require.NoError(t, err)
	assert.Equal(t, factory, again)

	issuerOp := factory.NewIssuerAccountOp()
	require.NoError(t, issuerOp.Init(backend.Config{}))
	account, err := issuerOp.Create(t.Context(), 10)
	require.NoError(t, err)
	assert.Equal(t, "1", account.ID)
	assert.Equal(t, 2, issuerOp.CalcNumOfAccountsNeeded(10))
}

func TestResolveUnknownBackend(t *testing.T) {
	registry := backend.NewRegistry(nil, mockchain.New().Entry())
	_, err := registry.Resolve("doesnotexist")
	require.ErrorIs(t, err, errs.ErrBackendNotFound)
}

func TestResolveFailingConstructors(t *testing.T) {
	registry := backend.NewRegistry(
		nil,
		backend.Entry{Name: "nil-func"},
		backend.Entry{
			Name: "erroring",
			NewFactoryFunc: func() (backend.Factory, error) {
				return nil, errors.New("missing credentials")
			},
		},
		backend.Entry{
			Name: "panicking",
			NewFactoryFunc: func() (backend.Factory, error) {
				panic("boom")
			},
		},
		backend.Entry{
			Name: "nil-factory",
			NewFactoryFunc: func() (backend.Factory, error) {
				return nil, nil
			},
		},
	)
	for _, name := range []string{"nil-func", "erroring", "panicking", "nil-factory"} {
		_, err := registry.Resolve(name)
		require.ErrorIs(t, err, errs.ErrBackendNotFound, name)
		assert.NotContains(t, err.Error(), "missing credentials")
		assert.NotContains(t, err.Error(), "boom")
	}
}

func TestOpenInitializesOperations(t *testing.T) {
	chain := mockchain.New()
	registry := backend.NewRegistry(nil, chain.Entry())
	registry.SetOptions("mockchain", map[string]any{"unused": "value"})

	ops, err := registry.Open("mockchain", true)
	require.NoError(t, err)
	assert.Equal(t, mockchain.MaxBatchSize, ops.Pooled.MaxBatchSize())

	ok, err := ops.Funding.HasEnoughBalance(
		t.Context(),
		backend.Account{ID: "funding"},
		100,
	)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = registry.Open("doesnotexist", false)
	require.ErrorIs(t, err, errs.ErrBackendNotFound)
}

func TestEntriesSorted(t *testing.T) {
	registry := backend.NewRegistry(
		nil,
		backend.Entry{Name: "zeta"},
		backend.Entry{Name: "alpha"},
	)
	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[1].Name)
}

func TestConfigStringOption(t *testing.T) {
	cfg := backend.Config{
		Options: map[string]any{
			"rpc-url": "http://localhost:8545",
			"chain":   5,
		},
	}
	assert.Equal(t, "http://localhost:8545", cfg.StringOption("rpc-url", ""))
	assert.Equal(t, "5", cfg.StringOption("chain", ""))
	assert.Equal(t, "fallback", cfg.StringOption("missing", "fallback"))
}
