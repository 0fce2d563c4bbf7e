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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ".devote", cfg.DataDir())
}

func TestLoadConfigSection(t *testing.T) {
	path := writeConfig(t, `
config:
  listenAddress: "127.0.0.1:9000"
  maxVotesCap: 50
  poolInterval: 2s
  inMemory: true
database:
  metadata:
    plugin: sqlite
    sqlite:
      max-connections: 1
  blob:
    plugin: badger
backends:
  evm:
    rpcUrl: "http://localhost:8545"
    chainId: 1337
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	assert.Equal(t, int64(50), cfg.MaxVotesCap)
	assert.Equal(t, 2*time.Second, cfg.PoolInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout, "unset values keep their default")
	assert.Equal(t, "sqlite", cfg.MetadataPlugin)
	assert.Empty(t, cfg.DataDir())
	require.Contains(t, cfg.Backends, "evm")
	assert.Equal(t, "http://localhost:8545", cfg.Backends["evm"]["rpcUrl"])
}

func TestLoadFlatConfigFile(t *testing.T) {
	path := writeConfig(t, `
databasePath: /var/lib/devote
envelopeKeyFile: /etc/devote/envelope.pem
tracing: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/devote", cfg.DataDir())
	assert.Equal(t, "/etc/devote/envelope.pem", cfg.EnvelopeKeyFile)
	assert.True(t, cfg.Tracing)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listenAddress: ":9000"
`)
	t.Setenv("DEVOTE_LISTEN_ADDRESS", ":9100")
	t.Setenv("DEVOTE_BACKEND_TIMEOUT", "5s")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.ListenAddress)
	assert.Equal(t, 5*time.Second, cfg.BackendTimeout)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	testDefs := []string{
		"maxVotesCap: 0\n",
		"poolInterval: 0s\n",
		"poolParallelism: -1\n",
		"databasePath: \"\"\n",
		"listenAddress: [unterminated\n",
	}
	for _, content := range testDefs {
		_, err := LoadConfig(writeConfig(t, content))
		assert.Error(t, err, content)
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
