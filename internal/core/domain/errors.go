package domain

import "errors"

// ErrNoMoreProxy is raised by the Selector when no backend pick remains for
// a session; terminal for the fallback controller's retry loop.
var ErrNoMoreProxy = errors.New("no more proxy backends available")

// ErrRefreshCooldown names the refresh-in-cooldown condition. Registry.Refresh
// does not return it: a call inside the cooldown window returns false.
var ErrRefreshCooldown = errors.New("refresh still in cooldown")

// FatalSessionError wraps a post-start upstream failure: the session must
// close both sockets without attempting any further fallback.
type FatalSessionError struct {
	Cause error
}

func (e *FatalSessionError) Error() string {
	return "fatal session error: " + e.Cause.Error()
}

func (e *FatalSessionError) Unwrap() error {
	return e.Cause
}

func NewFatalSessionError(cause error) *FatalSessionError {
	return &FatalSessionError{Cause: cause}
}
