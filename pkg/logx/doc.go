// Package logx wraps zerolog for trackspeed.
//
// Console output is human readable on stderr with a short caller, the
// optional log file is JSON lines. The level belongs to a Service and can
// change while loggers derived from it stay in use.
package logx
