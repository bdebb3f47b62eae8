//go:build !linux

// File: reactor/unsupported.go
//
// Non-Linux platforms get a clear stub rather than a half-working poller.
package reactor

import "errors"

// New reports that no Reactor backend is available on this platform.
func New() (Reactor, error) {
	return nil, errors.New("reactor: no readiness backend for this platform (linux only)")
}
