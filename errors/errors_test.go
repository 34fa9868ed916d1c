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
				Phase:  PhaseStart,
				Kind:   KindInvalidState,
				Detail: "already performing",
			},
			contains: []string{"[start]", "invalid_state", "already performing"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseTransport,
				Kind:  KindClosed,
			},
			contains: []string{"[transport]", "closed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindInstantiation,
				Detail: "compile module",
				Cause:  errors.New("bad magic"),
			},
			contains: []string{"[load]", "instantiation", "compile module", "caused by", "bad magic"},
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
	err := Load("instantiate", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := InvalidState(PhaseStart, "already performing")

	if !errors.Is(err, &Error{Phase: PhaseStart, Kind: KindInvalidState}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseBridge, Kind: KindInvalidState}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, &Error{Phase: PhaseStart, Kind: KindClosed}) {
		t.Error("Is should not match different kind")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{NotInitialized(PhaseBridge, "realm"), PhaseBridge, KindNotInitialized},
		{InvalidInput(PhaseLoad, "empty image"), PhaseLoad, KindInvalidInput},
		{NotFound(PhaseLoad, "export", "csoundCreate"), PhaseLoad, KindNotFound},
		{Unsupported(PhasePerform, "channel layout"), PhasePerform, KindUnsupported},
		{Closed(PhaseTransport, "port"), PhaseTransport, KindClosed},
		{Timeout(PhaseBridge, "realm never signaled ready"), PhaseBridge, KindTimeout},
		{Remote("start", "instance not created"), PhaseTransport, KindRemote},
	}

	for _, tt := range tests {
		if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
			t.Errorf("%v: got phase=%s kind=%s, want %s/%s",
				tt.err, tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
		}
	}
}
