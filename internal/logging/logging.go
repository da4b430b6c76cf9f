// Package logging constructs the standard library loggers used throughout
// the gateway, one per subsystem, following cmd/flowersec-tunnel's
// log.New(stderr, "", log.LstdFlags) convention.
package logging

import (
	"io"
	"log"
)

// New returns a *log.Logger prefixed with "<name>: " writing to w.
func New(w io.Writer, name string) *log.Logger {
	return log.New(w, name+": ", log.LstdFlags)
}

// Discard is a logger that drops everything, used as a default when callers
// construct a component without wiring a destination explicitly.
func Discard(name string) *log.Logger {
	return New(io.Discard, name)
}
