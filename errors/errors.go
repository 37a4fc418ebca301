package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseConfig      Phase = "config"      // option validation, cache construction
	PhaseSave        Phase = "save"        // bytecode upload
	PhaseLoad        Phase = "load"        // raw bytecode retrieval
	PhaseAnalyze     Phase = "analyze"     // static module analysis
	PhaseCompile     Phase = "compile"     // engine compilation
	PhasePin         Phase = "pin"         // pinned tier operations
	PhaseInstantiate Phase = "instantiate" // instance creation
	PhaseStore       Phase = "store"       // filesystem tier
	PhaseRuntime     Phase = "runtime"     // execution inside an instance
	PhaseHost        Phase = "host"        // host import calls
)

// Kind categorizes the error
type Kind string

const (
	KindValidation        Kind = "validation"
	KindMissingCapability Kind = "missing_capability"
	KindNotFound          Kind = "not_found"
	KindIO                Kind = "io"
	KindInvalidInput      Kind = "invalid_input"
	KindCompile           Kind = "compile"
	KindInstantiation     Kind = "instantiation"
	KindOutOfGas          Kind = "out_of_gas"
	KindLimit             Kind = "limit"
	KindLocked            Kind = "locked"
	KindClosed            Kind = "closed"
	KindTrap              Kind = "trap"
)

// Sentinels for errors.Is matching by kind, regardless of phase.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrIO            = &Error{Kind: KindIO}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrOutOfGas      = &Error{Kind: KindOutOfGas}
	ErrLimit         = &Error{Kind: KindLimit}
	ErrLocked        = &Error{Kind: KindLocked}
	ErrClosed        = &Error{Kind: KindClosed}
	ErrCompile       = &Error{Kind: KindCompile}
	ErrInstantiation = &Error{Kind: KindInstantiation}
)

// Error is the structured error type used throughout the cache
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Checksum string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Checksum != "" {
		b.WriteString(" for ")
		b.WriteString(e.Checksum)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Checksum sets the content address the error refers to
func (b *Builder) Checksum(sum string) *Builder {
	b.err.Checksum = sum
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Validation creates a bytecode validation error
func Validation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseAnalyze,
		Kind:   KindValidation,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error for a content address
func NotFound(phase Phase, what, sum string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNotFound,
		Checksum: sum,
		Detail:   what + " not found",
	}
}

// IO creates a filesystem error
func IO(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Compile creates a compilation error
func Compile(sum string, cause error) *Error {
	return &Error{
		Phase:    PhaseCompile,
		Kind:     KindCompile,
		Checksum: sum,
		Detail:   "compile module",
		Cause:    cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(sum string, cause error) *Error {
	return &Error{
		Phase:    PhaseInstantiate,
		Kind:     KindInstantiation,
		Checksum: sum,
		Detail:   "instantiate module",
		Cause:    cause,
	}
}

// OutOfGas creates a gas exhaustion error
func OutOfGas(limit uint64) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindOutOfGas,
		Detail: fmt.Sprintf("gas limit %d exhausted", limit),
		Value:  limit,
	}
}

// Limit creates a resource limit error
func Limit(phase Phase, what string, got, max uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimit,
		Detail: fmt.Sprintf("%s %d exceeds limit %d", what, got, max),
		Value:  got,
	}
}

// Locked creates an error for a base directory held by another cache
func Locked(dir string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindLocked,
		Detail: fmt.Sprintf("base directory %q is in use by another cache", dir),
		Cause:  cause,
	}
}

// Closed creates an error for operations on a closed cache or instance
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Trap creates an error for a trapped execution
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: fmt.Sprintf("call %q", export),
		Cause:  cause,
	}
}

// MissingCapabilitiesError is returned when a module requires host capabilities
// that are not enabled
type MissingCapabilitiesError struct {
	Checksum string
	Missing  []string
}

// NewMissingCapabilitiesError creates an error listing every missing capability in sorted order
func NewMissingCapabilitiesError(sum string, missing []string) *MissingCapabilitiesError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &MissingCapabilitiesError{
		Checksum: sum,
		Missing:  sorted,
	}
}

func (e *MissingCapabilitiesError) Error() string {
	if len(e.Missing) == 0 {
		return "[save] missing_capability: no capabilities specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[save] missing_capability: module requires %d unavailable capabilit", len(e.Missing)))
	if len(e.Missing) == 1 {
		b.WriteString("y: ")
	} else {
		b.WriteString("ies: ")
	}
	b.WriteString(strings.Join(e.Missing, ", "))
	if e.Checksum != "" {
		b.WriteString(" (checksum ")
		b.WriteString(e.Checksum)
		b.WriteByte(')')
	}
	return b.String()
}

// Is reports whether target matches this error type.
// It also matches an *Error sentinel of KindMissingCapability.
func (e *MissingCapabilitiesError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingCapabilitiesError:
		return true
	case *Error:
		return t.Kind == KindMissingCapability
	}
	return false
}

// ErrMissingCapability matches any *MissingCapabilitiesError.
var ErrMissingCapability = &Error{Kind: KindMissingCapability}
