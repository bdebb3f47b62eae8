//go:build !linux

package transport

import (
	"errors"

	"github.com/xentixar/sockeon-go/api"
)

// Listener is unavailable without a platform readiness backend.
type Listener struct{}

func Listen(host string, port int) (*Listener, error) {
	return nil, errors.New("transport: no non-blocking TCP backend for this platform (linux only)")
}

func (l *Listener) Accept() (api.NetConn, error) { return nil, ErrWouldBlock }
func (l *Listener) RawFD() uintptr               { return 0 }
func (l *Listener) Port() int                    { return 0 }
func (l *Listener) Close() error                 { return nil }
