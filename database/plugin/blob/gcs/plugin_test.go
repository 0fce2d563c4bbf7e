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

package gcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/database/plugin"
)

func TestValidateCredentials(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "service-account.json")
	require.NoError(t, os.WriteFile(keyFile, []byte("{}"), 0o600))

	assert.NoError(t, validateCredentials(""), "application default credentials")
	assert.NoError(t, validateCredentials(keyFile))
	assert.ErrorContains(
		t,
		validateCredentials(filepath.Join(dir, "missing.json")),
		"GCS credentials file does not exist",
	)
}

func TestPluginRegistered(t *testing.T) {
	var entry *plugin.PluginEntry
	for _, e := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if e.Name == "gcs" {
			entry = &e
			break
		}
	}
	require.NotNil(t, entry)
	names := make([]string, 0, len(entry.Options))
	for _, opt := range entry.Options {
		names = append(names, opt.Name)
	}
	assert.Equal(t, []string{"bucket", "prefix", "credentials-file"}, names)
}
