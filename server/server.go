// Package server ties the pieces together into the single-threaded
// cooperative event loop: accept, protocol sniffing, handshake, frame and
// request draining, dispatch through the middleware chains, broadcasting,
// and housekeeping. Everything mutable lives on the loop goroutine.
package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/broadcast"
	"github.com/xentixar/sockeon-go/config"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/membership"
	"github.com/xentixar/sockeon-go/middleware"
	"github.com/xentixar/sockeon-go/pool"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/queue"
	"github.com/xentixar/sockeon-go/ratelimit"
	"github.com/xentixar/sockeon-go/reactor"
	"github.com/xentixar/sockeon-go/registry"
	"github.com/xentixar/sockeon-go/routing"
	"github.com/xentixar/sockeon-go/transport"
	"github.com/xentixar/sockeon-go/validation"
)

// Server is the application server. Construct with New, register routes
// and middleware, then call Run.
type Server struct {
	cfg *config.Config
	log logging.Logger

	table     *routing.Table
	chains    *middleware.Chains
	limiter   *ratelimit.Limiter
	validator validation.Validator

	bufs       api.BufferPool
	clients    *registry.Registry
	members    *membership.Store
	dispatcher *broadcast.Dispatcher
	qreader    *queue.Reader

	rx       reactor.Reactor
	listener *transport.Listener

	byFD       map[uintptr]int64
	pending    map[int64]*broadcast.Pending
	frag       map[int64]*protocol.Reassembler
	closeAfter map[int64]bool

	shutdownCh chan struct{}
	readyCh    chan struct{}
	stopping   bool

	lastSweep     time.Time
	lastQueueTick time.Time
	now           func() time.Time
}

// New builds a Server from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Standard(cfg.Debug)
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		table:      routing.NewTable(),
		chains:     middleware.NewChains(),
		limiter:    ratelimit.New(),
		validator:  validation.NewStruct(),
		bufs:       pool.New(),
		clients:    registry.New(),
		members:    membership.New(),
		byFD:       make(map[uintptr]int64),
		pending:    make(map[int64]*broadcast.Pending),
		frag:       make(map[int64]*protocol.Reassembler),
		closeAfter: make(map[int64]bool),
		shutdownCh: make(chan struct{}),
		readyCh:    make(chan struct{}),
		now:        time.Now,
	}
	s.dispatcher = broadcast.New(s.members, s.clients, s.bufs, s, log)
	if cfg.QueueFile != "" {
		s.qreader = queue.NewReader(cfg.QueueFile, cfg.BroadcastSalt, s.dispatcher, log)
	}
	return s
}

// Routes exposes the route table for registration. Register everything
// before calling Run; the table is not safe to mutate while serving.
func (s *Server) Routes() *routing.Table { return s.table }

// Attach registers a controller's routes.
func (s *Server) Attach(c routing.Controller) { s.table.Attach(c) }

// UseHTTP, UseMessage, and UseHandshake append named global middleware.
func (s *Server) UseHTTP(name string, fn middleware.HTTPFunc)     { s.chains.UseHTTP(name, fn) }
func (s *Server) UseMessage(name string, fn middleware.MessageFunc) {
	s.chains.UseMessage(name, fn)
}
func (s *Server) UseHandshake(name string, fn middleware.HandshakeFunc) {
	s.chains.UseHandshake(name, fn)
}

// SetValidator swaps the payload validator. Pass nil to disable schema
// validation entirely.
func (s *Server) SetValidator(v validation.Validator) { s.validator = v }

// Addr reports the bound listen address (host:port) once Run has started,
// useful when configured with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.listener.Port())
}

// Ready is closed once Run has bound the listener, after which Addr and
// Port report real values.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Port reports the bound listen port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Port()
}

// Shutdown signals the loop to stop accepting, drain open connections
// with close frames, and return from Run. Safe to call from any
// goroutine.
func (s *Server) Shutdown() {
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
}

// pendingFor lazily builds a client's outbound queue.
func (s *Server) pendingFor(id int64) *broadcast.Pending {
	p := s.pending[id]
	if p == nil {
		p = broadcast.NewPending(s.cfg.HighWaterMark)
		s.pending[id] = p
	}
	return p
}

// SendFrame implements broadcast.Sink.
func (s *Server) SendFrame(c *registry.Client, frame []byte) error {
	return s.writeToClient(c, frame)
}

// DropClient implements broadcast.Sink.
func (s *Server) DropClient(id int64, cause error) {
	code := protocol.CloseGoingAway
	if errors.Is(cause, broadcast.ErrHighWater) {
		code = protocol.CloseTryAgainLater
	}
	s.disconnectClient(id, true, code)
}

// runProtected is the per-client error boundary: a panic in user code is
// logged with its stack and context, never propagated to other clients.
func (s *Server) runProtected(phase api.Phase, clientID int64, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logging.LogError(s.log, api.NewError(api.ErrCodeHandler, phase, fmt.Sprintf("panic: %v", r)).
				WithClient(clientID).
				WithContext("stack", string(debug.Stack())))
		}
	}()
	fn()
	return false
}
