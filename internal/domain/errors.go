package domain

import "errors"

// Sentinel errors for the taxonomy in SPEC_FULL.md §7. Callers use
// errors.Is against these; wrapped context is added with fmt.Errorf("%w", ...)
// at each call site, matching the plain-wrapped-error style used throughout
// the rest of this codebase.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrAuthFailure     = errors.New("broker auth failure")
	ErrTransientBroker = errors.New("transient broker error")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrOrderRejected   = errors.New("order rejected")
	ErrRiskDenied      = errors.New("risk denied")
	ErrKillSwitch      = errors.New("kill switch tripped")
	ErrFeedStarved     = errors.New("feed starved")
	ErrShutdown        = errors.New("offload pool shut down")
	ErrUnauthorized    = errors.New("unauthorized")
)
