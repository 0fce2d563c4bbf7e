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

package blob

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger adapts slog to the printf style logger interface storage
// clients expect. Records carry the plugin name.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger, pluginName string) *Logger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Logger{
		logger: logger.With("component", "database", "plugin", pluginName),
	}
}

// some clients terminate their messages with a newline
func format(msg string, args ...any) string {
	return strings.TrimRight(fmt.Sprintf(msg, args...), "\n")
}

func (l *Logger) Infof(msg string, args ...any) {
	l.logger.Info(format(msg, args...))
}

func (l *Logger) Warningf(msg string, args ...any) {
	l.logger.Warn(format(msg, args...))
}

func (l *Logger) Debugf(msg string, args ...any) {
	l.logger.Debug(format(msg, args...))
}

func (l *Logger) Errorf(msg string, args ...any) {
	l.logger.Error(format(msg, args...))
}
