// Package xlog is the thin glog wrapper every other blockforge package logs
// through.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package xlog

import "github.com/golang/glog"

func Infof(format string, args ...interface{})  { glog.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { glog.Warningf(format, args...) }
func Errorf(format string, args ...interface{}) { glog.Errorf(format, args...) }

// V reports whether verbosity level v is enabled, mirroring glog.V so call
// sites can guard expensive per-rule logging: `if xlog.V(2) { xlog.Infof(...) }`.
func V(level glog.Level) bool { return bool(glog.V(level)) }

// Flush flushes buffered log entries; called from cmd/compilerd on shutdown.
func Flush() { glog.Flush() }
