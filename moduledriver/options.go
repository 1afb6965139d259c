package moduledriver

import (
	"log/slog"

	"github.com/tswasm/lower/internal/logging"
)

// options holds every knob an [Option] can set.
type options struct {
	logger                *slog.Logger
	hostModule            string
	hostABIVersion        string // "" skips the host ABI compatibility gate
	declaredImportModule  string
	suppressGlobalDestroy bool
	proposalSet           string // "" disables the validation pass
	baseline              []byte
}

func defaultOptions() options {
	return options{
		logger:               logging.DiscardLogger(),
		hostModule:           "dyntype",
		declaredImportModule: "env",
	}
}

// Option configures a [Driver] at construction time.
type Option func(*options)

// WithLogger directs the Driver's progress messages (one per function
// lowered, one per class vtable synthesized, and a warning for an
// UnsupportedError before it is returned) to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHostModule overrides the import-module name every dyntype_* host
// call is registered under (default "dyntype").
func WithHostModule(name string) Option {
	return func(o *options) { o.hostModule = name }
}

// WithHostABIVersion declares the version of the dyntype host runtime
// the compiled module will be instantiated against. Compile rejects a
// version whose major is older than the surface this backend was built
// for (hostabi.MinVersion) before emitting anything.
func WithHostABIVersion(version string) Option {
	return func(o *options) { o.hostABIVersion = version }
}

// WithDeclaredImportModule overrides the import-module name `declare
// function` wrappers are registered under (default "env"), kept
// distinct from the host ABI's own module name so an embedder can wire
// the two to different import namespaces.
func WithDeclaredImportModule(name string) Option {
	return func(o *options) { o.declaredImportModule = name }
}

// SuppressGlobalDestroy omits the call to this module's global-destroy
// stub from its start function, for embedders that manage teardown
// ordering themselves across multiple linked modules.
func SuppressGlobalDestroy() Option {
	return func(o *options) { o.suppressGlobalDestroy = true }
}

// WithValidation enables the emit-then-reparse validation pass,
// gated on a minimum supported WebAssembly "proposal
// set" version string (e.g. "v1.2.0": GC + function-references +
// typed-tables at a given maturity).
func WithValidation(minProposalSet string) Option {
	return func(o *options) { o.proposalSet = minProposalSet }
}

// WithBaseline supplies a last-known-valid compiled module to diff
// against when the validation pass rejects a later compilation; the
// mismatch is rendered as a readable diff rather than two byte dumps.
func WithBaseline(wasm []byte) Option {
	return func(o *options) { o.baseline = wasm }
}
