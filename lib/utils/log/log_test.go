/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"trace", TraceLevel},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  DEBUG  ", slog.LevelDebug},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, level, tt.in)
	}

	_, err := ParseLevel("loud")
	require.True(t, trace.IsBadParameter(err))
}

func TestInitializeRejectsUnknownFormat(t *testing.T) {
	_, err := Initialize(Config{Format: "xml"})
	require.True(t, trace.IsBadParameter(err))
}

func TestInitializeTextFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Initialize(Config{Severity: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "visible")
}

func TestInitializeGCPFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Initialize(Config{Severity: "info", Format: "gcp", Output: &buf})
	require.NoError(t, err)

	logger.Info("hello", "component", "web")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "web", line["component"])
}

func TestPackageLoggerFollowsInitialize(t *testing.T) {
	pkgLogger := NewPackageLogger("component", "test")

	var buf bytes.Buffer
	_, err := Initialize(Config{Severity: "debug", Output: &buf})
	require.NoError(t, err)

	// Created before Initialize, must still write to the new output.
	pkgLogger.Debug("late binding")
	require.Contains(t, buf.String(), "late binding")
	require.Contains(t, buf.String(), "component=test")
}
