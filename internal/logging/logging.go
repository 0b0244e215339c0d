// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package logging wraps gopkg.in/op/go-logging.v1 behind a small Backend
// abstraction: one process-wide set of handlers, but per-component level
// filtering via a name->level map instead of a mutable global singleton.
package logging

import (
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Level mirrors the op/go-logging levels that crossdesk components
// configure per subsystem.
type Level int

const (
	CRITICAL Level = iota
	ERROR
	WARNING
	NOTICE
	INFO
	DEBUG
)

func (l Level) toBackend() logging.Level {
	return logging.Level(l)
}

// Logger is the per-component handle returned by Backend.GetLogger.
type Logger = logging.Logger

// Backend owns the shared writer and per-component level map. Create
// one per process and hand out Logger instances to each subsystem.
type Backend struct {
	base    *logging.Logger
	leveled logging.LeveledBackend
	levels  map[string]Level
	def     Level
}

// New builds a Backend writing formatted records to w. levels maps a
// component name (as passed to GetLogger) to its minimum level; a
// component absent from the map runs at def.
func New(w io.Writer, levels map[string]Level, def Level) *Backend {
	if w == nil {
		w = os.Stderr
	}
	backend := logging.NewLogBackend(w, "", 0)
	formatter := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(def.toBackend(), "")

	b := &Backend{
		leveled: leveled,
		levels:  levels,
		def:     def,
	}
	logging.SetBackend(leveled)
	return b
}

// GetLogger returns the Logger for a named component, applying that
// component's configured level (or the Backend default).
func (b *Backend) GetLogger(name string) *Logger {
	lvl := b.def
	if l, ok := b.levels[name]; ok {
		lvl = l
	}
	b.leveled.SetLevel(lvl.toBackend(), name)
	return logging.MustGetLogger(name)
}

// SetLevel changes a component's level at runtime.
func (b *Backend) SetLevel(name string, lvl Level) {
	if b.levels == nil {
		b.levels = map[string]Level{}
	}
	b.levels[name] = lvl
	b.leveled.SetLevel(lvl.toBackend(), name)
}

// ParseLevel converts a config-file string ("debug", "info", ...) into
// a Level, defaulting to INFO on an unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "critical", "CRITICAL":
		return CRITICAL
	case "error", "ERROR":
		return ERROR
	case "warning", "WARNING", "warn":
		return WARNING
	case "notice", "NOTICE":
		return NOTICE
	case "debug", "DEBUG":
		return DEBUG
	default:
		return INFO
	}
}
