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

package metadata

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/devote/database/models"
)

// Pool limits for the server databases
const (
	ServerMaxIdleConns    = 10
	ServerMaxOpenConns    = 100
	ServerConnMaxLifetime = time.Hour
)

// GormConfig returns the gorm settings every metadata plugin opens with.
// Repositories manage their own transactions.
func GormConfig(prepareStmt bool) *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		PrepareStmt:            prepareStmt,
	}
}

// LimitServerPool applies the connection pool limits used for server
// databases
func LimitServerPool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(ServerMaxIdleConns)
	sqlDB.SetMaxOpenConns(ServerMaxOpenConns)
	sqlDB.SetConnMaxLifetime(ServerConnMaxLifetime)
	return nil
}

// Prepare adds tracing and connection stats to db and migrates the schema.
// Stats are registered as db_stats under statsName when promRegistry is set.
func Prepare(
	db *gorm.DB,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
	statsName string,
) error {
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	if promRegistry != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := promRegistry.Register(
			collectors.NewDBStatsCollector(sqlDB, statsName),
		); err != nil {
			return fmt.Errorf("register %s stats: %w", statsName, err)
		}
	}
	for _, model := range models.MigrateModels {
		logger.Debug(
			fmt.Sprintf("migrating table: %T", model),
			"component", "database",
		)
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}
