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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/envelope"
	"github.com/blinklabs-io/devote/internal/config"
)

func TestLoadCommandConfigAppliesChangedFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devote.yaml")
	require.NoError(t, os.WriteFile(
		path,
		[]byte("listenAddress: \":9000\"\nmetadataPlugin: postgres\n"),
		0o600,
	))
	configFile = path
	t.Cleanup(func() { configFile = "" })

	cmd := rootCommand()
	cmd.SetContext(t.Context())
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--listen", "127.0.0.1:8081"}))
	require.NoError(t, loadCommandConfig(cmd, nil))

	cfg := config.FromContext(cmd.Context())
	require.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1:8081", cfg.ListenAddress)
	assert.Equal(t, "postgres", cfg.MetadataPlugin, "unset flag keeps the file value")
}

func TestListPlugins(t *testing.T) {
	shouldExit, output := listPlugins("list", "sqlite")
	assert.True(t, shouldExit)
	assert.Contains(t, output, "Available blob plugins:")
	assert.Contains(t, output, "badger")
	assert.NotContains(t, output, "Available metadata plugins:")

	shouldExit, output = listPlugins("badger", "sqlite")
	assert.False(t, shouldExit)
	assert.Empty(t, output)
}

func TestListAll(t *testing.T) {
	output := listAll()
	for _, name := range []string{"mockchain", "evm", "badger", "gcs", "s3", "sqlite", "postgres", "mysql"} {
		assert.Contains(t, output, name)
	}
}

func TestWriteEnvelopeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.pem")
	require.NoError(t, writeEnvelopeKey(path, 2048, false, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	signer, err := envelope.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, signer.PublicKey().N.BitLen())

	assert.ErrorContains(t, writeEnvelopeKey(path, 2048, false, false), "already exists")
	assert.NoError(t, writeEnvelopeKey(path, 2048, false, true))
	assert.ErrorContains(t, writeEnvelopeKey(path, 1024, false, true), "too small")
}
