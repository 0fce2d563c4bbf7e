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

package mysql

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/blinklabs-io/devote/database/plugin/metadata"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 3306
	DefaultUser     = "root"
	DefaultDatabase = "devote"
	DefaultTimeZone = "UTC"

	// MySQL error for an unknown database
	errBadDB = 1049
)

// MetadataStoreMysql stores metadata in MySQL.
type MetadataStoreMysql struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger

	host     string
	port     uint
	user     string
	password string
	database string
	sslMode  string
	timeZone string
	dsn      string // Data source name (MySQL connection string)
}

// NewWithOptions creates a new database with options
func NewWithOptions(opts ...MysqlOptionFunc) (*MetadataStoreMysql, error) {
	db := &MetadataStoreMysql{}

	// Apply options
	for _, opt := range opts {
		opt(db)
	}

	if db.host == "" {
		db.host = DefaultHost
	}
	if db.port == 0 {
		db.port = DefaultPort
	}
	if db.user == "" {
		db.user = DefaultUser
	}
	if db.database == "" {
		db.database = DefaultDatabase
	}
	if db.timeZone == "" {
		db.timeZone = DefaultTimeZone
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return db, nil
}

// connConfig returns the driver configuration from the DSN option, or
// built from the individual options when no DSN is given. Times are
// always parsed, and updates report matched rather than changed rows so
// conditional updates that rewrite an equal value still count.
func (d *MetadataStoreMysql) connConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(d.dsn); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.user
		cfg.Passwd = d.password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.host, strconv.FormatUint(uint64(d.port), 10))
		cfg.DBName = d.database
		loc, err := time.LoadLocation(d.timeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql time zone: %w", err)
		}
		cfg.Loc = loc
		cfg.TLSConfig = d.sslMode
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return cfg, nil
}

// Start implements the plugin.Plugin interface. A missing database is
// created on first connect.
func (d *MetadataStoreMysql) Start() error {
	cfg, err := d.connConfig()
	if err != nil {
		return err
	}
	metadataDb, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), metadata.GormConfig(true))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if !errors.As(err, &mysqlErr) || mysqlErr.Number != errBadDB {
			return err
		}
		if createErr := d.createDatabase(cfg); createErr != nil {
			return errors.Join(err, createErr)
		}
		metadataDb, err = gorm.Open(gormmysql.Open(cfg.FormatDSN()), metadata.GormConfig(true))
		if err != nil {
			return err
		}
	}
	d.logger.Info(
		"connected to mysql metadata store",
		"component", "database",
		"addr", cfg.Addr,
		"database", cfg.DBName,
	)
	d.db = metadataDb
	if err := metadata.LimitServerPool(d.db); err != nil {
		return err
	}
	return metadata.Prepare(d.db, d.logger, d.promRegistry, "metadata_mysql")
}

// createDatabase connects without a default database and creates the one
// cfg names
func (d *MetadataStoreMysql) createDatabase(cfg *mysql.Config) error {
	if cfg.DBName == "" {
		return errors.New("no database name to create")
	}
	serverCfg := cfg.Clone()
	serverCfg.DBName = ""
	serverDb, err := gorm.Open(gormmysql.Open(serverCfg.FormatDSN()), metadata.GormConfig(false))
	if err != nil {
		return err
	}
	sqlDB, err := serverDb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	d.logger.Info(
		"creating mysql database",
		"component", "database",
		"database", cfg.DBName,
	)
	return serverDb.Exec(
		"CREATE DATABASE IF NOT EXISTS " + quoteIdentifier(cfg.DBName),
	).Error
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreMysql) Stop() error {
	return d.Close()
}

// Close gets the database handle from our MetadataStore and closes it
func (d *MetadataStoreMysql) Close() error {
	// Guard against nil DB handle (e.g., if Start() failed or was never called)
	if d.db == nil {
		return nil
	}
	db, err := d.DB().DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// DB returns the database handle
func (d *MetadataStoreMysql) DB() *gorm.DB {
	return d.db
}
