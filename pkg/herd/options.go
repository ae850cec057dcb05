// Package herd provides the public API for the herd runtime.
package herd

import (
	"github.com/tliron/commonlog"

	"nickandperla.net/herd/internal/store"
)

// Option configures a Runtime.
type Option func(*Runtime)

// Library is a versioned store of script documents.
type Library = store.Store

// WithDiagnostics sets the sink that receives compile diagnostics. Without a
// sink, diagnostics are logged.
func WithDiagnostics(sink func(Diagnostic)) Option {
	return func(r *Runtime) {
		r.sink = sink
	}
}

// WithLogger sets the logger used by the compiler and the evaluator.
func WithLogger(log commonlog.Logger) Option {
	return func(r *Runtime) {
		r.log = log
	}
}

// WithService makes a host value available to instructions by name.
func WithService(name string, svc any) Option {
	return func(r *Runtime) {
		r.services[name] = svc
	}
}

// WithStepLimit bounds the number of group steps one Resolve may take.
func WithStepLimit(n int) Option {
	return func(r *Runtime) {
		r.stepLimit = n
	}
}

// WithPrelude sets a custom prelude source to be compiled on startup.
// If not set, DefaultPrelude is used.
func WithPrelude(source string) Option {
	return func(r *Runtime) {
		r.prelude = source
	}
}

// WithNoPrelude disables compiling the prelude.
func WithNoPrelude() Option {
	return func(r *Runtime) {
		r.noPrelude = true
	}
}

// WithLibrary sets the script library. The runtime closes it on Close.
func WithLibrary(lib Library) Option {
	return func(r *Runtime) {
		r.library = lib
	}
}

// WithSQLiteLibrary configures a SQLite script library at the given path.
func WithSQLiteLibrary(path string) Option {
	return func(r *Runtime) {
		s, err := store.NewSQLite(path)
		if err != nil {
			r.err = err
			return
		}
		r.library = s
	}
}

// WithMemoryLibrary configures an in-memory script library (for testing).
func WithMemoryLibrary() Option {
	return func(r *Runtime) {
		r.library = store.NewMemory()
	}
}
