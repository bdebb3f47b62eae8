// Package middleware implements the three ordered handler chains: HTTP
// requests, WebSocket messages, and WebSocket handshakes. Globals run in
// insertion order, minus any a route excludes by name, followed by the
// route's own middleware; each link decides whether to call next() or
// short-circuit by returning.
package middleware

import (
	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/protocol"
)

// HTTPFunc intercepts an HTTP request. Returning without calling next
// short-circuits the chain with that response.
type HTTPFunc func(req *httpwire.Request, next func() *httpwire.Response, srv api.ServerHandle) *httpwire.Response

// MessageFunc intercepts a WebSocket message dispatch.
type MessageFunc func(clientID int64, event string, data any, next func() any, srv api.ServerHandle) any

// HandshakeFunc intercepts a WebSocket upgrade before 101 is sent. A nil
// return continues (or, at the chain's end, accepts); returning an error
// denies the upgrade.
type HandshakeFunc func(clientID int64, req *protocol.HandshakeRequest, next func() error, srv api.ServerHandle) error

// Denial is the error a handshake middleware returns to refuse an upgrade
// without it being treated as an internal failure.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string { return "handshake denied: " + d.Reason }

// Deny builds a Denial.
func Deny(reason string) error { return &Denial{Reason: reason} }

type namedHTTP struct {
	name string
	fn   HTTPFunc
}

type namedMessage struct {
	name string
	fn   MessageFunc
}

type namedHandshake struct {
	name string
	fn   HandshakeFunc
}

// Chains owns the three global stacks.
type Chains struct {
	http      []namedHTTP
	message   []namedMessage
	handshake []namedHandshake
}

// NewChains returns empty chains.
func NewChains() *Chains {
	return &Chains{}
}

// UseHTTP appends a named global HTTP middleware.
func (c *Chains) UseHTTP(name string, fn HTTPFunc) {
	c.http = append(c.http, namedHTTP{name: name, fn: fn})
}

// UseMessage appends a named global WebSocket-message middleware.
func (c *Chains) UseMessage(name string, fn MessageFunc) {
	c.message = append(c.message, namedMessage{name: name, fn: fn})
}

// UseHandshake appends a named global handshake middleware.
func (c *Chains) UseHandshake(name string, fn HandshakeFunc) {
	c.handshake = append(c.handshake, namedHandshake{name: name, fn: fn})
}

func excluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if e == name {
			return true
		}
	}
	return false
}

// RunHTTP executes (globals \ exclude) ++ perRoute, ending in final.
func (c *Chains) RunHTTP(req *httpwire.Request, srv api.ServerHandle, exclude []string, perRoute []HTTPFunc, final func(*httpwire.Request) *httpwire.Response) *httpwire.Response {
	var stack []HTTPFunc
	for _, m := range c.http {
		if !excluded(m.name, exclude) {
			stack = append(stack, m.fn)
		}
	}
	stack = append(stack, perRoute...)

	var run func(i int) *httpwire.Response
	run = func(i int) *httpwire.Response {
		if i >= len(stack) {
			return final(req)
		}
		return stack[i](req, func() *httpwire.Response { return run(i + 1) }, srv)
	}
	return run(0)
}

// RunMessage executes the WebSocket-message chain ending in final.
func (c *Chains) RunMessage(clientID int64, event string, data any, srv api.ServerHandle, exclude []string, perRoute []MessageFunc, final func(int64, any) any) any {
	var stack []MessageFunc
	for _, m := range c.message {
		if !excluded(m.name, exclude) {
			stack = append(stack, m.fn)
		}
	}
	stack = append(stack, perRoute...)

	var run func(i int) any
	run = func(i int) any {
		if i >= len(stack) {
			return final(clientID, data)
		}
		return stack[i](clientID, event, data, func() any { return run(i + 1) }, srv)
	}
	return run(0)
}

// RunHandshake executes the handshake chain. A nil result accepts the
// upgrade; a *Denial refuses it; any other error is an internal failure.
func (c *Chains) RunHandshake(clientID int64, req *protocol.HandshakeRequest, srv api.ServerHandle, perRoute []HandshakeFunc) error {
	stack := make([]HandshakeFunc, 0, len(c.handshake)+len(perRoute))
	for _, m := range c.handshake {
		stack = append(stack, m.fn)
	}
	stack = append(stack, perRoute...)

	var run func(i int) error
	run = func(i int) error {
		if i >= len(stack) {
			return nil
		}
		return stack[i](clientID, req, func() error { return run(i + 1) }, srv)
	}
	return run(0)
}
