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
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/devote/database/plugin"
)

type ctxKey string

const configContextKey ctxKey = "devote.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
	EnvPrefix             = "devote"
)

type tempConfig struct {
	Config   *yaml.Node                `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
	Backends map[string]map[string]any `yaml:"backends,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type Config struct {
	// Backends holds per backend options passed to the backend operations.
	// It is only read from the config file.
	Backends        map[string]map[string]any `yaml:"-"               ignored:"true"`
	DatabasePath    string                    `yaml:"databasePath"                                         split_words:"true"`
	MetadataPlugin  string                    `yaml:"metadataPlugin"  envconfig:"DEVOTE_DATABASE_METADATA_PLUGIN"`
	BlobPlugin      string                    `yaml:"blobPlugin"      envconfig:"DEVOTE_DATABASE_BLOB_PLUGIN"`
	ListenAddress   string                    `yaml:"listenAddress"                                        split_words:"true"`
	EnvelopeKeyFile string                    `yaml:"envelopeKeyFile"                                      split_words:"true"`
	TracingEndpoint string                    `yaml:"tracingEndpoint"                                      split_words:"true"`
	ShutdownTimeout time.Duration             `yaml:"shutdownTimeout"                                      split_words:"true"`
	BackendTimeout  time.Duration             `yaml:"backendTimeout"                                       split_words:"true"`
	PoolInterval    time.Duration             `yaml:"poolInterval"                                         split_words:"true"`
	RetryInterval   time.Duration             `yaml:"retryInterval"                                        split_words:"true"`
	MaxVotesCap     int64                     `yaml:"maxVotesCap"                                          split_words:"true"`
	PoolSampleSize  int                       `yaml:"poolSampleSize"                                       split_words:"true"`
	PoolParallelism int                       `yaml:"poolParallelism"                                      split_words:"true"`
	// Tracing enables OpenTelemetry tracing. Spans go to stdout unless
	// TracingEndpoint is set.
	Tracing bool `yaml:"tracing" split_words:"true"`
	// InMemory keeps all state in memory and ignores DatabasePath
	InMemory bool `yaml:"inMemory" split_words:"true"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    ".devote",
		MetadataPlugin:  DefaultMetadataPlugin,
		BlobPlugin:      DefaultBlobPlugin,
		ListenAddress:   ":8080",
		ShutdownTimeout: 30 * time.Second,
		BackendTimeout:  30 * time.Second,
		PoolInterval:    10 * time.Second,
		RetryInterval:   time.Minute,
		MaxVotesCap:     200,
		PoolSampleSize:  20,
		PoolParallelism: 4,
	}
}

// DataDir returns the directory passed to storage plugins. It is empty
// for in-memory storage.
func (c *Config) DataDir() string {
	if c.InMemory {
		return ""
	}
	return c.DatabasePath
}

func (c *Config) Validate() error {
	if c.MaxVotesCap < 1 {
		return fmt.Errorf("invalid maxVotesCap: %d", c.MaxVotesCap)
	}
	for name, d := range map[string]time.Duration{
		"shutdownTimeout": c.ShutdownTimeout,
		"backendTimeout":  c.BackendTimeout,
		"poolInterval":    c.PoolInterval,
		"retryInterval":   c.RetryInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %s", name, d)
		}
	}
	if c.PoolSampleSize < 1 || c.PoolParallelism < 1 {
		return errors.New("poolSampleSize and poolParallelism must be positive")
	}
	if !c.InMemory && c.DatabasePath == "" {
		return errors.New("databasePath is required unless inMemory is set")
	}
	return nil
}

// LoadConfig overlays the config file, then the environment, onto the
// defaults. Without an explicit path, ~/.devote/devote.yaml and
// /etc/devote/devote.yaml are tried in turn.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := cfg.loadYaml(buf); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".devote", "devote.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/devote/devote.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

func (c *Config) loadYaml(buf []byte) error {
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if tempCfg.Config != nil {
		if err := tempCfg.Config.Decode(c); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else {
		// Without a config section the whole file is the main config
		if err := yaml.Unmarshal(buf, c); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if tempCfg.Backends != nil {
		c.Backends = tempCfg.Backends
	}
	pluginConfig := make(map[string]map[string]map[string]any)
	if tempCfg.Blob != nil {
		pluginConfig["blob"] = tempCfg.Blob
	}
	if tempCfg.Metadata != nil {
		pluginConfig["metadata"] = tempCfg.Metadata
	}
	if tempCfg.Database != nil {
		if tempCfg.Database.Blob != nil {
			name, blobConfig := pluginSection("blob", tempCfg.Database.Blob)
			if name != "" {
				c.BlobPlugin = name
			}
			mergePluginConfig(pluginConfig, "blob", blobConfig)
		}
		if tempCfg.Database.Metadata != nil {
			name, metadataConfig := pluginSection("metadata", tempCfg.Database.Metadata)
			if name != "" {
				c.MetadataPlugin = name
			}
			mergePluginConfig(pluginConfig, "metadata", metadataConfig)
		}
	}
	if len(pluginConfig) > 0 {
		if err := plugin.ProcessConfig(pluginConfig); err != nil {
			return fmt.Errorf("error processing plugin config: %w", err)
		}
	}
	return nil
}

// pluginSection splits a database subsection into the selected plugin
// name and the per-plugin option maps
func pluginSection(
	typeName string,
	section map[string]any,
) (string, map[string]map[string]any) {
	var name string
	if pluginVal, exists := section["plugin"]; exists {
		if pluginName, ok := pluginVal.(string); ok {
			name = pluginName
		}
	}
	ret := make(map[string]map[string]any)
	for k, v := range section {
		if k == "plugin" {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			ret[k] = val
		case map[any]any:
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			ret[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				typeName,
				k,
				v,
			)
		}
	}
	return name, ret
}

func mergePluginConfig(
	pluginConfig map[string]map[string]map[string]any,
	typeName string,
	cfg map[string]map[string]any,
) {
	if pluginConfig[typeName] == nil {
		pluginConfig[typeName] = cfg
		return
	}
	maps.Copy(pluginConfig[typeName], cfg)
}
