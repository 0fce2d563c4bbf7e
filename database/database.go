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

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/blinklabs-io/devote/database/plugin"
	"github.com/blinklabs-io/devote/database/plugin/blob"
	"github.com/blinklabs-io/devote/database/plugin/metadata"

	// Register built-in plugins
	_ "github.com/blinklabs-io/devote/database/plugin/blob/aws"
	_ "github.com/blinklabs-io/devote/database/plugin/blob/badger"
	_ "github.com/blinklabs-io/devote/database/plugin/blob/gcs"
	_ "github.com/blinklabs-io/devote/database/plugin/metadata/mysql"
	_ "github.com/blinklabs-io/devote/database/plugin/metadata/postgres"
	_ "github.com/blinklabs-io/devote/database/plugin/metadata/sqlite"
)

const (
	DefaultMetadataPlugin = "sqlite"
	DefaultBlobPlugin     = "badger"
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir is passed to plugins with a data-dir option. An empty value
	// selects in-memory storage for sqlite and badger.
	DataDir        string
	MetadataPlugin string
	BlobPlugin     string
}

// Database combines the relational metadata store holding votings, pools
// and commission state with the blob store holding published snapshots
type Database struct {
	logger   *slog.Logger
	blob     blob.BlobStore
	metadata metadata.MetadataStore
	config   Config
}

// Blob returns the underling blob store instance
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.config.DataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// db returns the handle queries should run on: the transaction when one
// is given, else the root handle bound to ctx
func (d *Database) db(ctx context.Context, txn *Txn) *gorm.DB {
	if txn != nil {
		return txn.tx
	}
	return d.metadata.DB().WithContext(ctx)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

// New opens the configured metadata and blob plugins
func New(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{}
	}
	db := &Database{
		logger: config.Logger,
		config: *config,
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if db.config.MetadataPlugin == "" {
		db.config.MetadataPlugin = DefaultMetadataPlugin
	}
	if db.config.BlobPlugin == "" {
		db.config.BlobPlugin = DefaultBlobPlugin
	}
	if err := setDataDir(plugin.PluginTypeMetadata, db.config.MetadataPlugin, db.config.DataDir); err != nil {
		return nil, err
	}
	if err := setDataDir(plugin.PluginTypeBlob, db.config.BlobPlugin, db.config.DataDir); err != nil {
		return nil, err
	}
	metadataDb, err := metadata.New(
		db.config.MetadataPlugin,
		db.logger,
		db.config.PromRegistry,
	)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	db.metadata = metadataDb
	blobDb, err := blob.New(
		db.config.BlobPlugin,
		db.logger,
		db.config.PromRegistry,
	)
	if err != nil {
		_ = metadataDb.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	db.blob = blobDb
	db.logger.Debug(
		"opened database",
		"component", "database",
		"metadata", db.config.MetadataPlugin,
		"blob", db.config.BlobPlugin,
		"data_dir", db.config.DataDir,
	)
	return db, nil
}

// setDataDir is a no-op for plugins without a data-dir option
func setDataDir(pluginType plugin.PluginType, name string, dataDir string) error {
	return plugin.SetPluginOption(pluginType, name, "data-dir", dataDir)
}
