// Package transport owns the non-blocking TCP plumbing under the event
// loop: a raw-fd listener whose descriptor registers directly with the
// reactor, and a connection type implementing api.NetConn over the same
// descriptors.
package transport

import "errors"

// ErrWouldBlock is returned by reads and writes that would have blocked;
// the event loop responds by waiting for the next readiness notification.
var ErrWouldBlock = errors.New("transport: operation would block")
