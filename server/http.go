package server

import (
	"errors"
	"strings"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/ratelimit"
	"github.com/xentixar/sockeon-go/registry"
	"github.com/xentixar/sockeon-go/validation"
)

// progressHTTP parses and answers as many complete requests as the
// inbound buffer holds. The default is one request per connection; with
// keep-alive enabled a connection survives until the client stops asking
// for it.
func (s *Server) progressHTTP(c *registry.Client) {
	for {
		req, consumed, err := httpwire.TryParse(c.Inbound)
		if errors.Is(err, httpwire.ErrIncomplete) {
			return
		}
		var chunked *httpwire.ChunkedNotSupportedError
		if errors.As(err, &chunked) {
			s.respondAndClose(c, httpwire.NewJSON(411, map[string]any{"error": "length required"}))
			return
		}
		if err != nil {
			s.respondAndClose(c, httpwire.NewJSON(400, map[string]any{"error": "malformed request"}))
			return
		}
		c.Inbound = c.Inbound[consumed:]

		var resp *httpwire.Response
		panicked := s.runProtected(api.PhaseDispatch, c.ID, func() {
			resp = s.dispatchHTTP(c, req)
		})
		if panicked || resp == nil {
			resp = httpwire.NewJSON(500, map[string]any{"error": "internal server error"})
		}

		keepAlive := s.cfg.ExperimentalKeepAlive &&
			strings.EqualFold(req.Header("Connection"), "keep-alive")
		if keepAlive {
			resp.SetHeader("Connection", "keep-alive")
		}

		if err := s.writeToClient(c, resp.Bytes()); err != nil {
			s.DropClient(c.ID, err)
			return
		}
		if !keepAlive {
			s.closeWhenFlushed(c)
			return
		}
		if _, alive := s.clients.Get(c.ID); !alive {
			return
		}
	}
}

func (s *Server) respondAndClose(c *registry.Client, resp *httpwire.Response) {
	if err := s.writeToClient(c, resp.Bytes()); err != nil {
		s.disconnectClient(c.ID, false, 0)
		return
	}
	s.closeWhenFlushed(c)
}

// dispatchHTTP runs one request through CORS preflight, routing, rate
// limiting, schema validation, and the middleware chain.
func (s *Server) dispatchHTTP(c *registry.Client, req *httpwire.Request) *httpwire.Response {
	origin := req.Header("Origin")

	if req.Method == "OPTIONS" && s.cfg.CORS != nil {
		if resp := httpwire.ApplyCORS(req.Method, origin, s.cfg.CORS, nil); resp != nil {
			return resp
		}
	}

	route, params, ok := s.table.MatchHTTP(req.Method, req.Path)
	if !ok {
		resp := httpwire.NewJSON(404, map[string]any{"error": "not_found", "path": req.Path})
		httpwire.ApplyCORS(req.Method, origin, s.cfg.CORS, resp)
		return resp
	}
	req.Params = params

	if s.cfg.RateLimit.Enabled {
		ip := ratelimit.ClientIP(c.RemoteIP, req.Header, s.cfg.TrustProxy, s.cfg.TrustedProxies)
		d := s.limiter.Check(ratelimit.ScopeGlobalHTTP, s.cfg.RateLimit.HTTP, route.Scope(), route.RateLimit, ip)
		if !d.Allowed {
			resp := ratelimit.TooManyRequests(d, "http")
			httpwire.ApplyCORS(req.Method, origin, s.cfg.CORS, resp)
			return resp
		}
	}

	if route.Schema != nil && s.validator != nil && req.JSON != nil {
		typed, err := validation.DecodeInto(route.Schema, req.JSON)
		if err != nil {
			return httpwire.NewJSON(422, map[string]any{
				"error":  "validation_failed",
				"errors": map[string]string{"_": err.Error()},
			})
		}
		if errs := s.validator.Validate(typed); errs != nil {
			return httpwire.NewJSON(422, map[string]any{
				"error":  "validation_failed",
				"errors": errs,
			})
		}
		req.JSON = typed
	}

	resp := s.chains.RunHTTP(req, s, route.ExcludeGlobal, route.Middlewares,
		func(r *httpwire.Request) *httpwire.Response { return route.Handler(r) })
	if resp == nil {
		resp = httpwire.NewResponse(204, "text/plain", nil)
	}
	httpwire.ApplyCORS(req.Method, origin, s.cfg.CORS, resp)
	return resp
}
