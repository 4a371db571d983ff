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

// Package log configures the process-wide slog logger and hands out
// component-scoped child loggers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gravitational/trace"
)

// TraceLevel is a verbosity level below slog.LevelDebug, matching the
// "trace" setting accepted by the configuration file.
const TraceLevel = slog.Level(-8)

// TraceLevelText is the text representation of [TraceLevel].
const TraceLevelText = "TRACE"

// Config configures the process-wide default logger.
type Config struct {
	// Severity is the minimum level that gets emitted: one of
	// trace, debug, info, warn, error.
	Severity string
	// Format selects the handler: "text" (default) or "json"/"gcp" for
	// structured output suitable for log collectors.
	Format string
	// Output overrides the destination, stderr when nil.
	Output io.Writer
}

// Initialize builds the default slog logger from cfg and installs it
// process-wide. Loggers previously returned by NewPackageLogger pick up
// the new configuration automatically.
func Initialize(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Severity)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	case "json", "gcp":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: gcpAttrs,
		})
	default:
		return nil, trace.BadParameter("unsupported log format %q", cfg.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// gcpAttrs renames the standard slog keys to the ones Google Cloud
// Logging understands.
func gcpAttrs(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
	case slog.MessageKey:
		a.Key = "message"
	case slog.TimeKey:
		a.Key = "timestamp"
	}
	return a
}

// ParseLevel converts a configuration string into a slog level.
func ParseLevel(severity string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return TraceLevel, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, trace.BadParameter("invalid logging level %q, must be one of trace, debug, info, warn, error", severity)
	}
}

// NewPackageLogger returns a logger carrying the given attributes. It is
// meant for package-level vars: the returned logger resolves the default
// handler at log time, so it honours Initialize calls made later.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.New(&deferredHandler{}).With(args...)
}

// deferredHandler proxies every call to the current default handler, so
// that package-level loggers created before Initialize still honour it.
type deferredHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *deferredHandler) current() slog.Handler {
	handler := slog.Default().Handler()
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.current().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.current().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.groups) > 0 {
		// attrs added after a group belong inside that group; keep the
		// proxy simple by resolving eagerly in that case.
		return h.current().WithAttrs(attrs)
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &deferredHandler{attrs: merged}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &deferredHandler{attrs: h.attrs, groups: groups}
}
