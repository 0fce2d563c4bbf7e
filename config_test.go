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

package devote

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/envelope"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg.logger)
	assert.Equal(t, DefaultShutdownTimeout, cfg.shutdownTimeout)
	assert.Equal(t, DefaultPoolInterval, cfg.poolInterval)
	assert.Equal(t, DefaultRetryInterval, cfg.retryInterval)
	assert.Nil(t, cfg.promGatherer)
	assert.NoError(t, cfg.validate())
}

func TestWithPrometheusRegistrySetsGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := NewConfig(WithPrometheusRegistry(reg))
	assert.Equal(t, reg, cfg.promRegistry)
	assert.Equal(t, reg, cfg.promGatherer)
}

func TestConfigValidate(t *testing.T) {
	signer, err := envelope.Generate(1024)
	require.NoError(t, err)
	testDefs := []struct {
		name string
		opts []ConfigOptionFunc
	}{
		{"key file and signer", []ConfigOptionFunc{
			WithEnvelopeKeyFile("key.pem"),
			WithEnvelopeSigner(signer),
		}},
		{"negative cap", []ConfigOptionFunc{WithMaxVotesCap(-1)}},
		{"zero pool interval", []ConfigOptionFunc{WithPoolInterval(0)}},
		{"endpoint without tracing", []ConfigOptionFunc{
			WithTracingEndpoint("http://localhost:4318"),
		}},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			cfg := NewConfig(testDef.opts...)
			assert.Error(t, cfg.validate())
			_, err := New(cfg)
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestRetryTicks(t *testing.T) {
	testDefs := []struct {
		pool     time.Duration
		retry    time.Duration
		expected int
	}{
		{10 * time.Second, time.Minute, 6},
		{time.Second, 1500 * time.Millisecond, 1},
		{time.Minute, time.Second, 1},
	}
	for _, testDef := range testDefs {
		cfg := NewConfig(
			WithPoolInterval(testDef.pool),
			WithRetryInterval(testDef.retry),
		)
		assert.Equal(t, testDef.expected, retryTicks(cfg))
	}
}
