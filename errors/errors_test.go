package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseSave,
				Kind:     KindValidation,
				Checksum: "abcd",
				Detail:   "module has no memory",
			},
			contains: []string{"[save]", "validation", "for abcd", "module has no memory"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLoad,
				Kind:  KindNotFound,
			},
			contains: []string{"[load]", "not_found"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStore,
				Kind:   KindIO,
				Detail: "write raw bytecode",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[store]", "io", "write raw bytecode", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := IO(PhaseStore, "read", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := NotFound(PhaseLoad, "wasm", "abcd")

	if !errors.Is(err, ErrNotFound) {
		t.Error("kind sentinel should match any phase")
	}
	if !errors.Is(err, &Error{Phase: PhaseLoad, Kind: KindNotFound}) {
		t.Error("same phase and kind should match")
	}
	if errors.Is(err, &Error{Phase: PhaseInstantiate, Kind: KindNotFound}) {
		t.Error("different phase should not match")
	}
	if errors.Is(err, ErrIO) {
		t.Error("different kind should not match")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	inner := OutOfGas(100)
	wrapped := Trap("execute", inner)

	if !errors.Is(wrapped, ErrOutOfGas) {
		t.Error("out of gas should be found through trap wrapper")
	}
	var e *Error
	if !errors.As(wrapped, &e) || e.Kind != KindTrap {
		t.Errorf("errors.As should yield the outer trap error, got %v", e)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseSave, KindValidation).
		Checksum("ff00").
		Value(3).
		Cause(cause).
		Detail("module exports %d memories", 3).
		Build()

	if err.Phase != PhaseSave {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseSave)
	}
	if err.Kind != KindValidation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindValidation)
	}
	if err.Checksum != "ff00" {
		t.Errorf("Checksum = %q", err.Checksum)
	}
	if err.Value != 3 {
		t.Errorf("Value = %v", err.Value)
	}
	if err.Detail != "module exports 3 memories" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
}

func TestBuilder_DetailWithoutArgs(t *testing.T) {
	err := New(PhaseConfig, KindInvalidInput).Detail("plain literal").Build()
	if err.Detail != "plain literal" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestMissingCapabilitiesError(t *testing.T) {
	err := NewMissingCapabilitiesError("abcd", []string{"staking", "iterator", "stargate"})

	want := []string{"iterator", "staking", "stargate"}
	if len(err.Missing) != len(want) {
		t.Fatalf("Missing = %v, want %v", err.Missing, want)
	}
	for i := range want {
		if err.Missing[i] != want[i] {
			t.Errorf("Missing[%d] = %q, want %q", i, err.Missing[i], want[i])
		}
	}

	msg := err.Error()
	for _, s := range append(want, "3 unavailable capabilities", "abcd") {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q does not contain %q", msg, s)
		}
	}

	if !errors.Is(err, ErrMissingCapability) {
		t.Error("should match kind sentinel")
	}
	if !errors.Is(err, &MissingCapabilitiesError{}) {
		t.Error("should match type")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("should not match validation")
	}
}

func TestMissingCapabilitiesError_Single(t *testing.T) {
	err := NewMissingCapabilitiesError("", []string{"iterator"})
	if !strings.Contains(err.Error(), "1 unavailable capability: iterator") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestMissingCapabilitiesError_DoesNotAliasInput(t *testing.T) {
	in := []string{"b", "a"}
	_ = NewMissingCapabilitiesError("", in)
	if in[0] != "b" {
		t.Error("input slice was reordered")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"validation", Validation("bad", nil), PhaseAnalyze, KindValidation},
		{"not found", NotFound(PhasePin, "wasm", "ab"), PhasePin, KindNotFound},
		{"io", IO(PhaseStore, "x", nil), PhaseStore, KindIO},
		{"invalid input", InvalidInput(PhaseConfig, "x"), PhaseConfig, KindInvalidInput},
		{"compile", Compile("ab", nil), PhaseCompile, KindCompile},
		{"instantiation", Instantiation("ab", nil), PhaseInstantiate, KindInstantiation},
		{"out of gas", OutOfGas(10), PhaseRuntime, KindOutOfGas},
		{"limit", Limit(PhaseInstantiate, "memory", 2, 1), PhaseInstantiate, KindLimit},
		{"locked", Locked("/tmp", nil), PhaseConfig, KindLocked},
		{"closed", Closed(PhaseLoad, "cache"), PhaseLoad, KindClosed},
		{"trap", Trap("execute", nil), PhaseRuntime, KindTrap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
				t.Errorf("got [%s] %s, want [%s] %s", tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}
