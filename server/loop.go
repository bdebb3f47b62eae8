package server

import (
	"bytes"
	"errors"
	"time"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/broadcast"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/membership"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/reactor"
	"github.com/xentixar/sockeon-go/registry"
	"github.com/xentixar/sockeon-go/transport"
)

// loopTick bounds the readiness wait so housekeeping fires even on a
// quiet wire.
const loopTick = 200 * time.Millisecond

// Run binds the listener, registers it with the reactor, and serves until
// Shutdown. It returns only on a fatal error or after a clean drain.
func (s *Server) Run() error {
	rx, err := reactor.New()
	if err != nil {
		return api.NewError(api.ErrCodeFatal, api.PhaseAccept, "cannot create reactor").WithCause(err)
	}
	s.rx = rx
	defer rx.Close()

	listener, err := transport.Listen(s.cfg.Host, s.cfg.Port)
	if err != nil {
		return api.NewError(api.ErrCodeFatal, api.PhaseAccept, "cannot bind listener").WithCause(err)
	}
	s.listener = listener
	defer listener.Close()

	if err := rx.Register(listener.RawFD(), reactor.EventRead); err != nil {
		return api.NewError(api.ErrCodeFatal, api.PhaseAccept, "cannot watch listener").WithCause(err)
	}

	s.log.Infof("listening on %s", s.Addr())
	s.lastSweep = s.now()
	s.lastQueueTick = s.now()
	close(s.readyCh)

	events := make([]reactor.ReadyEvent, 256)
	for {
		select {
		case <-s.shutdownCh:
			s.stopping = true
		default:
		}
		if s.stopping {
			break
		}

		n, err := rx.Wait(events, loopTick)
		if err != nil {
			s.drainAndClose()
			return api.NewError(api.ErrCodeFatal, api.PhaseAccept, "reactor wait failed").WithCause(err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Fd == listener.RawFD() {
				s.acceptOne()
				continue
			}
			s.handleClientEvent(ev)
		}

		s.housekeeping(s.now())
	}

	s.drainAndClose()
	return nil
}

// acceptOne takes a single pending connection per readiness notification;
// level-triggered epoll re-fires while the backlog is non-empty.
func (s *Server) acceptOne() {
	conn, err := s.listener.Accept()
	if errors.Is(err, transport.ErrWouldBlock) {
		return
	}
	if err != nil {
		logging.LogError(s.log, api.NewError(api.ErrCodeResource, api.PhaseAccept, "accept failed").WithCause(err))
		time.Sleep(100 * time.Millisecond)
		return
	}

	if s.cfg.TLSWrap != nil {
		conn = s.cfg.TLSWrap(conn)
	}

	now := s.now()
	c := s.clients.Create(conn, conn.RemoteAddr(), now)
	s.members.JoinNamespace(membership.ClientID(c.ID), membership.Root)
	s.byFD[conn.RawFD()] = c.ID

	if err := s.rx.Register(conn.RawFD(), reactor.EventRead); err != nil {
		logging.LogError(s.log, api.NewError(api.ErrCodeResource, api.PhaseAccept, "cannot watch client").
			WithClient(c.ID).WithCause(err))
		s.disconnectClient(c.ID, false, 0)
		return
	}
	s.log.Debugf("client %d connected from %s", c.ID, c.RemoteIP)
}

func (s *Server) handleClientEvent(ev reactor.ReadyEvent) {
	id, ok := s.byFD[ev.Fd]
	if !ok {
		return
	}
	c, ok := s.clients.Get(id)
	if !ok {
		return
	}

	if ev.Events&reactor.EventError != 0 {
		s.disconnectClient(id, false, 0)
		return
	}
	if ev.Events&reactor.EventWrite != 0 {
		if err := s.flushPending(c); err != nil {
			s.DropClient(id, err)
			return
		}
		if _, alive := s.clients.Get(id); !alive {
			return
		}
	}
	if ev.Events&reactor.EventRead != 0 {
		s.readClient(c)
	}
}

// readClient pulls one chunk off the socket into the client's inbound
// buffer, then drains it inside the error boundary.
func (s *Server) readClient(c *registry.Client) {
	buf := s.bufs.Get(s.cfg.ReadChunk)
	defer buf.Release()

	n, err := c.Conn.Read(buf.Data)
	if errors.Is(err, transport.ErrWouldBlock) {
		return
	}
	if err != nil || n == 0 {
		// End-of-stream or read error.
		s.disconnectClient(c.ID, false, 0)
		return
	}

	c.Inbound = append(c.Inbound, buf.Data[:n]...)
	c.Touch(s.now())

	if s.runProtected(api.PhaseDecode, c.ID, func() { s.drainClient(c) }) {
		s.disconnectClient(c.ID, true, protocol.CloseGoingAway)
	}
}

// drainClient consumes whatever complete units the inbound buffer holds:
// a protocol decision first, then frames or requests.
func (s *Server) drainClient(c *registry.Client) {
	if c.Type == registry.Unknown {
		t := detectType(c.Inbound)
		if t == registry.Unknown {
			return
		}
		c.Type = t
		s.log.Debugf("client %d classified as %s", c.ID, t)
	}

	switch c.Type {
	case registry.WS:
		if !c.HandshakeDone {
			s.progressHandshake(c)
			if _, alive := s.clients.Get(c.ID); !alive || !c.HandshakeDone {
				return
			}
		}
		s.drainFrames(c)
	case registry.HTTP:
		s.progressHTTP(c)
	}
}

var methodTokens = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
	[]byte("OPTIONS "), []byte("PATCH "), []byte("HEAD "),
}

var headerEnd = []byte("\r\n\r\n")

// detectType sniffs the first bytes of a connection. A buffer that does
// not start with a known HTTP method token is tagged http immediately (it
// will fail parsing with a 400); one that does is held until the full
// header block arrives, since the Upgrade header decides ws versus http.
func detectType(buf []byte) registry.ConnType {
	if len(buf) < 14 {
		return registry.Unknown
	}
	method := false
	for _, tok := range methodTokens {
		if bytes.HasPrefix(buf, tok) {
			method = true
			break
		}
	}
	if !method {
		return registry.HTTP
	}
	head := buf
	if i := bytes.Index(buf, headerEnd); i >= 0 {
		head = buf[:i]
	} else {
		return registry.Unknown
	}
	if hasUpgradeWebsocket(head) {
		return registry.WS
	}
	return registry.HTTP
}

func hasUpgradeWebsocket(head []byte) bool {
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if bytes.EqualFold(bytes.TrimSpace(name), []byte("Upgrade")) &&
			bytes.EqualFold(bytes.TrimSpace(value), []byte("websocket")) {
			return true
		}
	}
	return false
}

// writeToClient queues-or-writes one payload. Bytes that the socket will
// not take immediately land in the client's pending queue and the reactor
// starts watching for writability.
func (s *Server) writeToClient(c *registry.Client, b []byte) error {
	p := s.pendingFor(c.ID)
	if !p.Empty() {
		return s.enqueue(c, p, b)
	}

	n, err := c.Conn.Write(b)
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		return err
	}
	if n < len(b) {
		return s.enqueue(c, p, b[n:])
	}
	return nil
}

func (s *Server) enqueue(c *registry.Client, p *broadcast.Pending, b []byte) error {
	if err := p.Push(b); err != nil {
		return err
	}
	if s.rx != nil {
		if err := s.rx.Modify(c.Conn.RawFD(), reactor.EventRead|reactor.EventWrite); err != nil {
			return err
		}
	}
	return nil
}

// flushPending writes queued bytes until the socket pushes back or the
// queue empties, then stops watching for writability.
func (s *Server) flushPending(c *registry.Client) error {
	p := s.pendingFor(c.ID)
	for !p.Empty() {
		head := p.Head()
		n, err := c.Conn.Write(head)
		p.Advance(n)
		if errors.Is(err, transport.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	if s.rx != nil {
		if err := s.rx.Modify(c.Conn.RawFD(), reactor.EventRead); err != nil {
			return err
		}
	}
	if s.closeAfter[c.ID] {
		s.disconnectClient(c.ID, false, 0)
	}
	return nil
}

// closeWhenFlushed disconnects now if nothing is queued, or after the
// pending queue drains.
func (s *Server) closeWhenFlushed(c *registry.Client) {
	if p := s.pending[c.ID]; p != nil && !p.Empty() {
		s.closeAfter[c.ID] = true
		return
	}
	s.disconnectClient(c.ID, false, 0)
}

// disconnectClient removes every trace of a client: fires disconnect
// handlers, optionally sends a close frame, closes the socket, and clears
// membership, registry, and loop-side state. Idempotent.
func (s *Server) disconnectClient(id int64, sendClose bool, code protocol.CloseCode) {
	c, ok := s.clients.Get(id)
	if !ok {
		return
	}

	if c.Type == registry.WS && c.HandshakeDone {
		for _, fn := range s.table.DisconnectHandlers() {
			s.runProtected(api.PhaseDispatch, id, func() { fn(id) })
		}
		if sendClose {
			payload := []byte{byte(code >> 8), byte(code)}
			c.Conn.Write(protocol.EncodeFrame(protocol.OpClose, payload, true))
		}
	}

	fd := c.Conn.RawFD()
	if s.rx != nil {
		s.rx.Unregister(fd)
	}
	c.Conn.Close()

	delete(s.byFD, fd)
	delete(s.pending, id)
	delete(s.frag, id)
	delete(s.closeAfter, id)
	s.members.Cleanup(membership.ClientID(id))
	s.clients.Delete(id)
	s.log.Debugf("client %d disconnected", id)
}

// housekeeping runs the periodic work between readiness waits: rate-limit
// bucket sweeps, queue-reader ticks, and the connection timeouts.
func (s *Server) housekeeping(now time.Time) {
	if s.cfg.RateLimit.CleanupInterval > 0 && now.Sub(s.lastSweep) >= s.cfg.RateLimit.CleanupInterval {
		s.limiter.Sweep(now)
		s.lastSweep = now
	}

	if s.qreader != nil && now.Sub(s.lastQueueTick) >= s.cfg.QueuePollInterval {
		s.lastQueueTick = now
		if err := s.qreader.Tick(); err != nil {
			logging.LogError(s.log, api.NewError(api.ErrCodeResource, api.PhaseBroadcast, "queue tick failed").WithCause(err))
		}
	}

	// Collect first; timeouts disconnect, which mutates the registry.
	var stale []*registry.Client
	s.clients.Range(func(c *registry.Client) { stale = append(stale, c) })
	for _, c := range stale {
		s.checkTimeouts(c, now)
	}
}

func (s *Server) checkTimeouts(c *registry.Client, now time.Time) {
	switch {
	case c.Type == registry.WS && c.HandshakeDone:
		s.checkIdle(c, now)
	case c.Type == registry.WS:
		if now.Sub(c.CreatedAt) > s.cfg.HandshakeTimeout {
			s.disconnectClient(c.ID, false, 0)
		}
	default:
		// Unknown or HTTP still buffering an incomplete request.
		if now.Sub(c.CreatedAt) > s.cfg.HTTPRequestTimeout {
			s.disconnectClient(c.ID, false, 0)
		}
	}
}

// pingRetry spaces follow-up pings to an unresponsive client.
const pingRetry = 30 * time.Second

func (s *Server) checkIdle(c *registry.Client, now time.Time) {
	idle := now.Sub(c.LastUsedAt)
	if c.UnansweredPings == 0 {
		if idle > s.cfg.IdlePingInterval {
			s.sendPing(c, now)
		}
		return
	}
	if now.Sub(c.LastPingAt) < pingRetry {
		return
	}
	if c.UnansweredPings >= s.cfg.MaxUnansweredPings {
		s.disconnectClient(c.ID, true, protocol.CloseGoingAway)
		return
	}
	s.sendPing(c, now)
}

func (s *Server) sendPing(c *registry.Client, now time.Time) {
	if err := s.writeToClient(c, protocol.EncodeFrame(protocol.OpPing, nil, true)); err != nil {
		s.DropClient(c.ID, err)
		return
	}
	c.UnansweredPings++
	c.LastPingAt = now
}

// drainAndClose is the shutdown path: every established WebSocket client
// gets a 1001 close frame before its socket is torn down.
func (s *Server) drainAndClose() {
	var all []*registry.Client
	s.clients.Range(func(c *registry.Client) { all = append(all, c) })
	for _, c := range all {
		s.disconnectClient(c.ID, true, protocol.CloseGoingAway)
	}
}
