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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/envelope"
)

const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPoolInterval    = 10 * time.Second
	DefaultRetryInterval   = time.Minute
	// envelope keys generated at startup when no key file is configured
	generatedKeyBits = 2048
)

type Config struct {
	promRegistry    prometheus.Registerer
	promGatherer    prometheus.Gatherer
	logger          *slog.Logger
	signer          *envelope.Signer
	backends        []backend.Entry
	backendOptions  map[string]map[string]any
	dataDir         string
	blobPlugin      string
	metadataPlugin  string
	listenAddress   string
	envelopeKeyFile string
	tracingEndpoint string
	maxVotesCap     int64
	poolSampleSize  int
	poolParallelism int
	tracing         bool
	backendTimeout  time.Duration
	shutdownTimeout time.Duration
	poolInterval    time.Duration
	retryInterval   time.Duration
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new devote config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		shutdownTimeout: DefaultShutdownTimeout,
		poolInterval:    DefaultPoolInterval,
		retryInterval:   DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.envelopeKeyFile != "" && c.signer != nil {
		return errors.New("envelope key file and signer are mutually exclusive")
	}
	if c.maxVotesCap < 0 {
		return fmt.Errorf("invalid max votes cap: %d", c.maxVotesCap)
	}
	if c.poolInterval <= 0 || c.retryInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if c.tracingEndpoint != "" && !c.tracing {
		return errors.New("tracing endpoint given without enabling tracing")
	}
	return nil
}

// WithLogger specifies the logger to use. The default discards all output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. Metrics are disabled without one
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
		if gatherer, ok := registry.(prometheus.Gatherer); ok {
			c.promGatherer = gatherer
		}
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithListenAddress specifies the address of the HTTP API. An empty value disables the API
func WithListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = addr
	}
}

// WithEnvelopeKeyFile specifies the PEM file, optionally SOPS encrypted, holding the commission envelope key.
// A fresh key is generated at startup when neither this nor WithEnvelopeSigner is given
func WithEnvelopeKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.envelopeKeyFile = path
	}
}

// WithEnvelopeSigner specifies the commission envelope signer directly
func WithEnvelopeSigner(signer *envelope.Signer) ConfigOptionFunc {
	return func(c *Config) {
		c.signer = signer
	}
}

// WithBackends registers additional ledger backends. Entries with the name of a built-in backend replace it
func WithBackends(entries ...backend.Entry) ConfigOptionFunc {
	return func(c *Config) {
		c.backends = append(c.backends, entries...)
	}
}

// WithBackendOptions specifies per backend configuration sections, keyed by backend name
func WithBackendOptions(options map[string]map[string]any) ConfigOptionFunc {
	return func(c *Config) {
		c.backendOptions = options
	}
}

// WithBackendTimeout bounds every ledger backend call
func WithBackendTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.backendTimeout = timeout
	}
}

// WithMaxVotesCap specifies the largest votes cap a voting may request
func WithMaxVotesCap(maxVotesCap int64) ConfigOptionFunc {
	return func(c *Config) {
		c.maxVotesCap = maxVotesCap
	}
}

// WithPoolInterval specifies how often the pooled account batch task runs
func WithPoolInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.poolInterval = interval
	}
}

// WithPoolTuning specifies how many progress rows a pool pass samples and how many it handles at once
func WithPoolTuning(sampleSize int, parallelism int) ConfigOptionFunc {
	return func(c *Config) {
		c.poolSampleSize = sampleSize
		c.poolParallelism = parallelism
	}
}

// WithRetryInterval specifies how often votings that are not provisioned properly are resumed
func WithRetryInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.retryInterval = interval
	}
}

// WithTracing enables tracing. Spans are written to stdout unless an OTLP endpoint is given with WithTracingEndpoint
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingEndpoint specifies the OTLP HTTP(s) endpoint URL spans are submitted to
func WithTracingEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingEndpoint = endpoint
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
