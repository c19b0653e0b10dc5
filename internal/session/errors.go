package session

import "errors"

var (
	errMissingLogout = errors.New("session: OnLogout callback is required")

	// ErrNoSession is returned when a user has no tracked session.
	ErrNoSession = errors.New("session: no active session")
)
