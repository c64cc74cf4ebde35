// Package nlog is a small severity-leveled logger used by every
// layer of the toolkit instead of ad hoc fmt.Printf/log.Printf calls,
// following the teacher's cmn/nlog package shape.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
	lvl          = sevInfo
)

// SetOutput redirects all log output; tests typically point this at a
// bytes.Buffer to assert on emitted lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetLevel raises the minimum severity that is actually written; levels
// below are dropped cheaply without formatting.
func SetLevel(s string) {
	mu.Lock()
	defer mu.Unlock()
	switch s {
	case "warn", "warning":
		lvl = sevWarn
	case "error":
		lvl = sevErr
	default:
		lvl = sevInfo
	}
}

func write(sev severity, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < lvl {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(out, "%s %s %s\n", ts, sevTag(sev), msg)
}

func sevTag(s severity) string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

func Infof(format string, args ...any)    { write(sevInfo, format, args...) }
func Warningf(format string, args ...any) { write(sevWarn, format, args...) }
func Errorf(format string, args ...any)   { write(sevErr, format, args...) }

func Infoln(args ...any)    { write(sevInfo, "%s", fmt.Sprint(args...)) }
func Warningln(args ...any) { write(sevWarn, "%s", fmt.Sprint(args...)) }
func Errorln(args ...any)   { write(sevErr, "%s", fmt.Sprint(args...)) }

// PackageLogger adapts the package-level functions to cmn.Logger, for hosts
// that want to pass nlog itself wherever the core asks for a Logger.
type PackageLogger struct{}

func (PackageLogger) Infof(format string, args ...any)    { Infof(format, args...) }
func (PackageLogger) Warningf(format string, args ...any) { Warningf(format, args...) }
func (PackageLogger) Errorf(format string, args ...any)   { Errorf(format, args...) }
