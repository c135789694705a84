// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logger implements a leveled, facility-scoped logger in the style
// used throughout the rest of this module. Facilities are toggled
// independently through the SYNCSPIRIT_TRACE environment variable, a comma
// separated list of facility names or "all".
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

// Logger is a facility-scoped wrapper around the standard library logger.
// Debug output is gated by the facility's inclusion in SYNCSPIRIT_TRACE.
type Logger struct {
	facility string
}

var (
	mut          sync.Mutex
	std          = log.New(os.Stderr, "", log.Ldate|log.Ltime)
	traceAll     bool
	traceFacs    = map[string]bool{}
	traceEnvOnce sync.Once
)

func loadTraceEnv() {
	traceEnvOnce.Do(func() {
		v := os.Getenv("SYNCSPIRIT_TRACE")
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if f == "all" {
				traceAll = true
			}
			traceFacs[f] = true
		}
	})
}

// New returns a Logger scoped to the given facility name, e.g. "model",
// "scanner", "db", "connections", "beacon".
func New(facility string) *Logger {
	loadTraceEnv()
	return &Logger{facility: facility}
}

// ShouldDebug reports whether debug-level output is enabled for this
// facility, either specifically or via "all".
func (l *Logger) ShouldDebug() bool {
	loadTraceEnv()
	return traceAll || traceFacs[l.facility]
}

func (l *Logger) prefix() string {
	return "[" + l.facility + "] "
}

func (l *Logger) output(level Level, s string) {
	mut.Lock()
	defer mut.Unlock()
	tag := "INFO"
	switch level {
	case LevelDebug:
		tag = "DEBUG"
	case LevelWarn:
		tag = "WARN"
	}
	std.Output(3, tag+": "+l.prefix()+s)
}

func (l *Logger) Debugln(vals ...interface{}) {
	if !l.ShouldDebug() {
		return
	}
	l.output(LevelDebug, strings.TrimSuffix(fmt.Sprintln(vals...), "\n"))
}

func (l *Logger) Debugf(format string, vals ...interface{}) {
	if !l.ShouldDebug() {
		return
	}
	l.output(LevelDebug, fmt.Sprintf(format, vals...))
}

func (l *Logger) Infoln(vals ...interface{}) {
	l.output(LevelInfo, strings.TrimSuffix(fmt.Sprintln(vals...), "\n"))
}

func (l *Logger) Infof(format string, vals ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, vals...))
}

func (l *Logger) Warnln(vals ...interface{}) {
	l.output(LevelWarn, strings.TrimSuffix(fmt.Sprintln(vals...), "\n"))
}

func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.output(LevelWarn, fmt.Sprintf(format, vals...))
}
