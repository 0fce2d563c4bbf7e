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
		WithBucket("votes"),
		WithPrefix("/snapshots/"),
		WithCredentialsFile("/etc/gcs.json"),
		WithLogger(logger),
		WithPromRegistry(reg),
	)
	require.NoError(t, err)
	assert.Equal(t, "votes", b.bucketName)
	assert.Equal(t, "snapshots/", b.prefix)
	assert.Equal(t, "/etc/gcs.json", b.credentialsFile)
	assert.NotNil(t, b.logger)
	assert.Same(t, reg, b.promRegistry)
	assert.Equal(t, "snapshots/bafy", b.fullKey("bafy"))
}

func TestNewFromURL(t *testing.T) {
	b, err := New("gcs://votes/published", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "votes", b.bucketName)
	assert.Equal(t, "published/", b.prefix)

	b, err = New("gcs://votes", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, b.prefix)

	for _, bad := range []string{"", "gcs://", "s3://votes", "gcs:///x"} {
		_, err := New(bad, nil, nil)
		assert.Error(t, err, bad)
	}
}

func TestStartWithoutBucket(t *testing.T) {
	b, err := NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, b.Start(), "bucket not set")
	require.NoError(t, b.Stop())
}

func TestUnstartedStore(t *testing.T) {
	b, err := NewWithOptions(WithBucket("votes"))
	require.NoError(t, err)
	_, err = b.Get(t.Context(), "k")
	require.Error(t, err)
	require.Error(t, b.Put(t.Context(), "k", nil))
}
