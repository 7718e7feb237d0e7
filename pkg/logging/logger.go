// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for audit pipeline
// components.
//
// Built on Go's standard library slog package. Default output is stderr
// in text form, following Unix CLI conventions; an optional log directory
// adds a JSON file handler writing `{service}_{date}.log`, with the file
// kept open for the logger's lifetime and closed on Close.
//
// Basic usage:
//
//	logger := logging.New(logging.Config{Level: "info", Service: "repoaudit"})
//	defer logger.Close()
//	slog.SetDefault(logger.Logger)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back
	// to info.
	Level string
	// LogDir, when set, enables JSON file logging in that directory.
	// Supports ~ expansion.
	LogDir string
	// Service names the component; used in the log file name.
	Service string
	// Quiet suppresses stderr output (file logging, if any, remains).
	Quiet bool
}

// Logger wraps slog.Logger with ownership of the optional log file.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Default returns a stderr-only logger at info level.
func Default() *Logger {
	logger, _ := New(Config{Service: "repoaudit"})
	return logger
}

// New builds a Logger from cfg.
//
// A file handler failure is not fatal: the stderr handler is returned
// along with the error so callers can keep logging.
func New(cfg Config) (*Logger, error) {
	if cfg.Service == "" {
		cfg.Service = "repoaudit"
	}
	level := parseLevel(cfg.Level)

	var handlers []slog.Handler
	if !cfg.Quiet {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	logger := &Logger{}
	var fileErr error
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fileErr = err
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
		}
	}

	switch len(handlers) {
	case 0:
		logger.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		logger.Logger = slog.New(handlers[0])
	default:
		logger.Logger = slog.New(multiHandler(handlers))
	}
	return logger, fileErr
}

// Close closes the log file, if one is open.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expanding log dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, nil
}

// multiHandler fans every record out to all wrapped handlers.
type multiHandler []slog.Handler

func (h multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(multiHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (h multiHandler) WithGroup(name string) slog.Handler {
	next := make(multiHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithGroup(name)
	}
	return next
}
