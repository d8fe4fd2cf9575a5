package alarm

import "errors"

// Sentinel errors for the external command surface: nothing in the core is
// fatal, every rejection is a returned error, never a panic.
var (
	ErrCancelInvalidState  = errors.New("alarm: cancel is only valid from pre or pending")
	ErrResolveInvalidState = errors.New("alarm: resolve is only valid from triggered")
	ErrUnknownEntryPoint   = errors.New("alarm: unknown entry point")
	ErrCoordinatorStopped  = errors.New("alarm: coordinator is shutting down")
)

// ResultError translates a rejected MachineResult's Reason into the matching
// sentinel, for callers (e.g. a keypad host) that want a Go error rather
// than a string to branch on. Returns nil for an accepted result.
func ResultError(res MachineResult) error {
	if res.Accepted {
		return nil
	}
	switch res.Reason {
	case "cancel_invalid_from_state":
		return ErrCancelInvalidState
	case "resolve_invalid_from_state":
		return ErrResolveInvalidState
	case "coordinator_stopped":
		return ErrCoordinatorStopped
	default:
		return errors.New("alarm: command rejected: " + res.Reason)
	}
}
