package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/middleware"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/ratelimit"
	"github.com/xentixar/sockeon-go/registry"
	"github.com/xentixar/sockeon-go/validation"
)

// progressHandshake tries to complete the WebSocket upgrade from the
// buffered bytes. Residual bytes after the request stay in the inbound
// buffer for the frame decoder.
func (s *Server) progressHandshake(c *registry.Client) {
	req, consumed, err := httpwire.TryParse(c.Inbound)
	if errors.Is(err, httpwire.ErrIncomplete) {
		return
	}
	if err != nil {
		s.rejectHandshake(c, 400, "malformed upgrade request")
		return
	}
	c.Inbound = c.Inbound[consumed:]

	hreq := &protocol.HandshakeRequest{
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
		Headers: req.Headers,
		Origin:  req.Header("Origin"),
	}

	if reason := protocol.Validate(hreq); reason != nil {
		s.rejectHandshake(c, reason.Status, reason.Detail)
		return
	}
	if !protocol.ValidateOrigin(hreq.Origin, s.cfg.AllowedOrigins) {
		s.rejectHandshake(c, 403, "origin not allowed")
		return
	}
	if s.cfg.AuthKey != "" {
		keys := hreq.Query["key"]
		if len(keys) == 0 || keys[0] != s.cfg.AuthKey {
			s.rejectHandshake(c, 403, "missing or invalid auth key")
			return
		}
	}

	// Resolve the rate-limit identity once, while the proxy headers are
	// still in hand.
	c.Data.Set("ip", ratelimit.ClientIP(c.RemoteIP, hreq.Header, s.cfg.TrustProxy, s.cfg.TrustedProxies))

	var denied *middleware.Denial
	var chainErr error
	panicked := s.runProtected(api.PhaseHandshake, c.ID, func() {
		chainErr = s.chains.RunHandshake(c.ID, hreq, s, nil)
	})
	switch {
	case panicked || (chainErr != nil && !errors.As(chainErr, &denied)):
		if chainErr != nil {
			logging.LogError(s.log, api.NewError(api.ErrCodeHandler, api.PhaseHandshake, "handshake middleware failed").
				WithClient(c.ID).WithCause(chainErr))
		}
		s.rejectHandshake(c, 500, "handshake middleware failure")
		return
	case denied != nil:
		s.rejectHandshake(c, 403, denied.Reason)
		return
	}

	s.acceptHandshake(c, hreq)
}

func (s *Server) rejectHandshake(c *registry.Client, status int, detail string) {
	resp := httpwire.NewJSON(status, map[string]any{"error": detail})
	if status == 426 {
		resp.SetHeader("Sec-WebSocket-Version", protocol.RequiredVersion)
	}
	c.Conn.Write(resp.Bytes())
	s.disconnectClient(c.ID, false, 0)
}

func (s *Server) acceptHandshake(c *registry.Client, hreq *protocol.HandshakeRequest) {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", protocol.AcceptKey(hreq.Header("Sec-WebSocket-Key")))
	if hreq.Origin != "" && !wildcardOnly(s.cfg.AllowedOrigins) {
		fmt.Fprintf(&b, "Access-Control-Allow-Origin: %s\r\n", hreq.Origin)
	}
	b.WriteString("\r\n")

	if err := s.writeToClient(c, []byte(b.String())); err != nil {
		s.disconnectClient(c.ID, false, 0)
		return
	}

	c.HandshakeDone = true
	c.UnansweredPings = 0
	c.Data.Set("handshake_path", hreq.Path)

	for _, fn := range s.table.ConnectHandlers() {
		s.runProtected(api.PhaseDispatch, c.ID, func() { fn(c.ID) })
		if _, alive := s.clients.Get(c.ID); !alive {
			return
		}
	}
}

func wildcardOnly(origins []string) bool {
	return len(origins) == 1 && origins[0] == "*"
}

// drainFrames decodes every complete frame in the inbound buffer and
// processes each, retaining any trailing partial frame.
func (s *Server) drainFrames(c *registry.Client) {
	frames, residual, err := protocol.DecodeFrames(c.Inbound)
	c.Inbound = residual
	if err != nil {
		var fe *protocol.FrameError
		code := protocol.CloseProtocolError
		if errors.As(err, &fe) {
			code = fe.Code
		}
		logging.LogError(s.log, api.NewError(api.ErrCodeProtocol, api.PhaseDecode, "frame decode failed").
			WithClient(c.ID).WithCause(err))
		s.disconnectClient(c.ID, true, code)
		return
	}

	for _, f := range frames {
		if !s.processFrame(c, f) {
			return
		}
		if _, alive := s.clients.Get(c.ID); !alive {
			return
		}
	}
}

// processFrame handles one frame; false means the connection is gone.
func (s *Server) processFrame(c *registry.Client, f protocol.Frame) bool {
	r := s.frag[c.ID]
	if r == nil {
		r = &protocol.Reassembler{}
		s.frag[c.ID] = r
	}

	opcode, payload, complete, err := r.Feed(f)
	if err != nil {
		logging.LogError(s.log, api.NewError(api.ErrCodeProtocol, api.PhaseDecode, "bad fragmentation").
			WithClient(c.ID).WithCause(err))
		s.disconnectClient(c.ID, true, protocol.CloseProtocolError)
		return false
	}
	if !complete {
		return true
	}

	switch opcode {
	case protocol.OpPing:
		if err := s.writeToClient(c, protocol.EncodeFrame(protocol.OpPong, payload, true)); err != nil {
			s.DropClient(c.ID, err)
			return false
		}
	case protocol.OpPong:
		c.UnansweredPings = 0
	case protocol.OpClose:
		code := protocol.CloseNormal
		if len(payload) >= 2 {
			code = protocol.CloseCode(payload[0])<<8 | protocol.CloseCode(payload[1])
		}
		s.disconnectClient(c.ID, true, code)
		return false
	case protocol.OpText, protocol.OpBinary:
		s.handleMessage(c, payload)
	}
	return true
}

// handleMessage parses the application framing and dispatches the event.
// Structurally invalid messages are dropped silently.
func (s *Server) handleMessage(c *registry.Client, payload []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return
	}
	rawEvent, hasEvent := raw["event"]
	rawData, hasData := raw["data"]
	if !hasEvent || !hasData {
		return
	}
	var event string
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return
	}
	var data any
	if err := json.Unmarshal(rawData, &data); err != nil {
		return
	}

	route, ok := s.table.WSRoute(event)
	if !ok {
		return
	}

	ip := s.wsClientIP(c)
	if s.cfg.RateLimit.Enabled {
		d := s.limiter.Check(ratelimit.ScopeGlobalWS, s.cfg.RateLimit.WS, ratelimit.EventScope(event), route.RateLimit, ip)
		if !d.Allowed {
			name, body := ratelimit.ExceededEvent(d, "ws")
			s.Emit(c.ID, name, body)
			return
		}
	}

	if route.Schema != nil && s.validator != nil {
		typed, err := validation.DecodeInto(route.Schema, data)
		if err != nil {
			s.Emit(c.ID, "validation_error", map[string]any{"event": event, "errors": map[string]string{"_": err.Error()}})
			return
		}
		if errs := s.validator.Validate(typed); errs != nil {
			s.Emit(c.ID, "validation_error", map[string]any{"event": event, "errors": errs})
			return
		}
		data = typed
	}

	s.runProtected(api.PhaseDispatch, c.ID, func() {
		s.chains.RunMessage(c.ID, event, data, s, route.ExcludeGlobal, route.Middlewares,
			func(id int64, d any) any { return route.Handler(id, d) })
	})
}

func (s *Server) wsClientIP(c *registry.Client) string {
	if v, ok := c.Data.Get("ip"); ok {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return ratelimit.ClientIP(c.RemoteIP, nil, false, nil)
}
