// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package commons

// nopLogger discards everything. Used in tests and as a safe default
// when a component is constructed without a logger.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all output.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})   {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})   {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Errorw(string, ...interface{}) {}
func (nopLogger) With(...interface{}) Logger    { return nopLogger{} }
func (nopLogger) Sync() error                   { return nil }
