// Package errors provides structured error types for the audio bridge.
//
// Every error carries a Phase (where in the lifecycle it happened) and
// a Kind (what went wrong), so callers can match with errors.Is against
// a prototype without string comparison:
//
//	if errors.Is(err, &csounderrors.Error{Phase: csounderrors.PhaseStart, Kind: csounderrors.KindInvalidState}) {
//	    // already performing
//	}
//
// Nothing in the render core treats an error as fatal; the worst case
// is silent audio output and a logged condition.
package errors
