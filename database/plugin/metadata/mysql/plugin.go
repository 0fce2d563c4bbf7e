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
	"sync"

	"github.com/blinklabs-io/devote/database/plugin"
)

var (
	cmdlineOptions struct {
		host     string
		port     uint64
		user     string
		password string
		database string
		sslMode  string
		timeZone string
		dsn      string
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions.
// Note: password is intentionally empty - users must provide their own credentials.
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.host = DefaultHost
	cmdlineOptions.port = DefaultPort
	cmdlineOptions.user = DefaultUser
	cmdlineOptions.password = ""
	cmdlineOptions.database = DefaultDatabase
	cmdlineOptions.sslMode = ""
	cmdlineOptions.timeZone = DefaultTimeZone
	cmdlineOptions.dsn = ""
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "mysql",
			Description:        "MySQL relational database",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				plugin.StringOption(
					"host",
					"MySQL host",
					DefaultHost,
					&cmdlineOptions.host,
				).WithEnvVar("MYSQL_HOST"),
				plugin.UintOption(
					"port",
					"MySQL port",
					DefaultPort,
					&cmdlineOptions.port,
				).WithEnvVar("MYSQL_PORT"),
				plugin.StringOption(
					"user",
					"MySQL user",
					DefaultUser,
					&cmdlineOptions.user,
				).WithEnvVar("MYSQL_USER"),
				plugin.StringOption(
					"password",
					"MySQL password (required)",
					"",
					&cmdlineOptions.password,
				).WithEnvVar("MYSQL_PASSWORD"),
				plugin.StringOption(
					"database",
					"MySQL database name",
					DefaultDatabase,
					&cmdlineOptions.database,
				).WithEnvVar("MYSQL_DATABASE"),
				plugin.StringOption(
					"ssl-mode",
					"MySQL TLS mode (mapped to tls= in DSN)",
					"",
					&cmdlineOptions.sslMode,
				).WithEnvVar("MYSQL_SSLMODE"),
				plugin.StringOption(
					"timezone",
					"MySQL time zone location",
					DefaultTimeZone,
					&cmdlineOptions.timeZone,
				).WithEnvVar("MYSQL_TIMEZONE"),
				plugin.StringOption(
					"dsn",
					"Full MySQL DSN (overrides other options when set)",
					"",
					&cmdlineOptions.dsn,
				).WithEnvVar("MYSQL_DSN"),
			},
		},
	)
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	host := cmdlineOptions.host
	port := uint(cmdlineOptions.port)
	user := cmdlineOptions.user
	password := cmdlineOptions.password
	database := cmdlineOptions.database
	sslMode := cmdlineOptions.sslMode
	timeZone := cmdlineOptions.timeZone
	dsn := cmdlineOptions.dsn
	cmdlineOptionsMutex.RUnlock()

	opts := []MysqlOptionFunc{
		WithHost(host),
		WithPort(port),
		WithUser(user),
		WithPassword(password),
		WithDatabase(database),
		WithSSLMode(sslMode),
		WithTimeZone(timeZone),
		WithDSN(dsn),
		// Logger and promRegistry will use defaults if nil
	}
	p, err := NewWithOptions(opts...)
	if err != nil {
		// Return a plugin that defers the error to Start()
		return plugin.NewErrorPlugin(err)
	}
	return p
}
