// Copyright 2024 The uqoin-node Authors
// This file is part of the uqoin-node library.
//
// The uqoin-node library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package log implements the small structured, leveled logger used across
// the node. It follows the module-logger pattern of the teacher codebase
// (log.NewModuleLogger(log.Common), log.NewModuleLogger(log.API), ...),
// printing key/value pairs and colorizing the level tag when attached to a
// terminal.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

var lvlNames = map[Lvl]string{
	LvlCrit:  "CRIT",
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
	LvlTrace: "TRACE",
}

var lvlColors = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Module names, mirroring the teacher's log.Common / log.API / log.StorageDatabase
// constants used to scope loggers per package.
const (
	Appdata = "APPDATA"
	Chain   = "CHAIN"
	Store   = "CHAINSTORE"
	State   = "STATE"
	Pool    = "POOL"
	Peer    = "PEERCLIENT"
	Sync    = "SYNC"
	Mine    = "MINE"
	Commit  = "COMMIT"
	Task    = "TASKSUP"
	API     = "API"
	Crypto  = "CRYPTO"
	Main    = "MAIN"
)

var (
	mu          sync.Mutex
	out         io.Writer = colorable.NewColorableStdout()
	globalLevel           = LvlInfo
)

// SetLevel parses a LOG_LEVEL string ("trace".."crit") and sets it globally.
func SetLevel(s string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(s) {
	case "trace":
		globalLevel = LvlTrace
	case "debug":
		globalLevel = LvlDebug
	case "warn":
		globalLevel = LvlWarn
	case "error":
		globalLevel = LvlError
	case "crit":
		globalLevel = LvlCrit
	default:
		globalLevel = LvlInfo
	}
}

// Logger is a per-module leveled logger, analogous to the teacher's
// ModuleLogger returned by log.NewModuleLogger.
type Logger struct {
	module string
}

// NewModuleLogger creates a Logger scoped to a module name (see the Module
// names above).
func NewModuleLogger(module string) *Logger {
	return &Logger{module: module}
}

func (l *Logger) log(lvl Lvl, msg string, ctx ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > globalLevel {
		return
	}
	c := lvlColors[lvl]
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s", ts, c.Sprint(lvlNames[lvl]), l.module, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if lvl <= LvlError {
		b.WriteString(" call=" + callsite())
	}
	b.WriteByte('\n')
	io.WriteString(out, b.String())
}

func callsite() string {
	s := stack.Caller(3)
	return fmt.Sprintf("%+v", s)
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx...) }
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.log(LvlCrit, msg, ctx...)
	os.Exit(1)
}
