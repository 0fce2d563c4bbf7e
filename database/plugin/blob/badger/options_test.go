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

package badger

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	b, err := NewWithOptions(
		WithDataDir("/tmp/test"),
		WithBlockCacheSize(123456789),
		WithIndexCacheSize(987654321),
		WithGc(false),
		WithValueLogFileSize(1<<20),
		WithMemTableSize(1<<21),
		WithValueThreshold(1<<10),
		WithLogger(logger),
		WithPromRegistry(reg),
	)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test", b.dataDir)
	assert.Equal(t, uint64(123456789), b.blockCacheSize)
	assert.Equal(t, uint64(987654321), b.indexCacheSize)
	assert.False(t, b.gcEnabled)
	assert.Equal(t, int64(1<<20), b.valueLogFileSize)
	assert.Equal(t, int64(1<<21), b.memTableSize)
	assert.Equal(t, int64(1<<10), b.valueThreshold)
	assert.Same(t, logger, b.logger)
	assert.Same(t, reg, b.promRegistry)
}

func TestDefaults(t *testing.T) {
	b, err := NewWithOptions()
	require.NoError(t, err)
	assert.True(t, b.gcEnabled)
	assert.Equal(t, uint64(DefaultBlockCacheSize), b.blockCacheSize)
	assert.Equal(t, int64(DefaultValueThreshold), b.valueThreshold)
	assert.NotNil(t, b.logger)
	// Closing a store that was never started is a no-op
	assert.NoError(t, b.Close())
}

func TestSetInstrumentationKeepsLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewWithOptions(WithLogger(logger))
	require.NoError(t, err)
	b.SetInstrumentation(nil, nil)
	assert.Same(t, logger, b.logger)
	assert.Nil(t, b.promRegistry)
}
