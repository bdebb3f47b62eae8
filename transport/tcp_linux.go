//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/xentixar/sockeon-go/api"
)

// Listener is a non-blocking TCP listening socket.
type Listener struct {
	fd   int
	port int
}

// Listen binds a non-blocking IPv4 listener. host may be empty or
// "0.0.0.0" for any-interface; port 0 picks an ephemeral port, readable
// back via Port.
func Listen(host string, port int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			unix.Close(fd)
			return nil, fmt.Errorf("transport: %q is not an IPv4 address", host)
		}
		copy(sa.Addr[:], ip.To4())
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, 512); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: getsockname: %w", err)
	}
	l := &Listener{fd: fd}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		l.port = in4.Port
	}
	return l, nil
}

// Accept takes one pending connection, already non-blocking. It returns
// ErrWouldBlock when the backlog is empty.
func (l *Listener) Accept() (api.NetConn, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return &conn{fd: fd, remote: sockaddrString(sa)}, nil
}

// RawFD exposes the listening descriptor for reactor registration.
func (l *Listener) RawFD() uintptr { return uintptr(l.fd) }

// Port reports the bound port, useful after binding port 0.
func (l *Listener) Port() int { return l.port }

// Close shuts the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// conn is one accepted non-blocking socket.
type conn struct {
	fd     int
	remote string
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (c *conn) Close() error       { return unix.Close(c.fd) }
func (c *conn) RawFD() uintptr     { return uintptr(c.fd) }
func (c *conn) RemoteAddr() string { return c.remote }

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]).String(), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.Port)
	default:
		return "unknown"
	}
}
