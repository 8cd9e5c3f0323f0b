// Package logger defines the process-wide logging interface. It is
// always passed in as a constructor argument, never reached for as a
// package-level global, so tests can swap in a discard logger.
package logger

import log15 "gopkg.in/inconshreveable/log15.v2"

// Logger is the structured leveled logging surface used throughout this
// module.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type log15Logger struct {
	l log15.Logger
}

// New returns a Logger backed by log15, named by ctx.
func New(ctx ...interface{}) Logger {
	return log15Logger{l: log15.New(ctx...)}
}

func (l log15Logger) Debug(msg string, ctx ...interface{}) { l.l.Debug(msg, ctx...) }
func (l log15Logger) Info(msg string, ctx ...interface{})  { l.l.Info(msg, ctx...) }
func (l log15Logger) Warn(msg string, ctx ...interface{})  { l.l.Warn(msg, ctx...) }
func (l log15Logger) Error(msg string, ctx ...interface{}) { l.l.Error(msg, ctx...) }
func (l log15Logger) New(ctx ...interface{}) Logger        { return log15Logger{l: l.l.New(ctx...)} }

// Discard is a Logger that drops everything, useful in tests.
type discard struct{}

// Discard returns a Logger that drops every message.
func Discard() Logger { return discard{} }

func (discard) Debug(string, ...interface{}) {}
func (discard) Info(string, ...interface{})  {}
func (discard) Warn(string, ...interface{})  {}
func (discard) Error(string, ...interface{}) {}
func (d discard) New(...interface{}) Logger  { return d }
