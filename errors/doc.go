// Package errors provides structured error types for the wasm-cache library.
//
// Errors are categorized by Phase (which operation failed) and Kind (error category).
// The Error type carries the offending checksum or value, a detail message and the
// cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSave, errors.KindValidation).
//		Checksum(sum.String()).
//		Detail("module exports %d memories", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseLoad, "wasm", sum.String())
//	err := errors.IO(errors.PhaseStore, "write raw bytecode", cause)
//
// Match by kind with the standard library:
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
// A capability gate failure is reported as *MissingCapabilitiesError which
// lists every capability the host lacks, not only the first one.
package errors
