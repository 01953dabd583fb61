// Package logx is toybot's structured logging layer on top of zerolog.
//
// A Service owns the sink configuration (console, file, optional Telegram
// relay) and can swap it at runtime via Apply without invalidating loggers
// already handed out: a Logger created from a Service always writes through
// the Service's current root.
//
// The zero Logger value is a safe no-op, so components may hold a Logger
// field without nil checks.
package logx
