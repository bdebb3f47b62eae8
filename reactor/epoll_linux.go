//go:build linux

// File: reactor/epoll_linux.go
//
// Linux epoll(7)-based Reactor, level-triggered: the event loop reads one
// chunk (or accepts one connection) per readiness notification and relies
// on the notification firing again while data remains, which edge
// triggering would not do.
package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

type epollReactor struct {
	epfd int
}

// New constructs the platform Reactor for Linux.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollReactor{epfd: epfd}, nil
}

func toEpollEvents(e EventType) uint32 {
	var ev uint32
	if e&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) EventType {
	var e EventType
	if ev&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		e |= EventError
	}
	return e
}

func (r *epollReactor) Register(fd uintptr, events EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev)
}

func (r *epollReactor) Modify(fd uintptr, events EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
}

func (r *epollReactor) Unregister(fd uintptr) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

func (r *epollReactor) Wait(dst []ReadyEvent, timeout time.Duration) (int, error) {
	timeoutMs := -1
	if timeout > 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}

	raw := make([]unix.EpollEvent, len(dst))
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		dst[i] = ReadyEvent{Fd: uintptr(raw[i].Fd), Events: fromEpollEvents(raw[i].Events)}
	}
	return n, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
