// Package routing holds the declarative route table: WebSocket event
// routes keyed by event name, HTTP routes keyed by method and path (exact
// or with {param} captures), and the connection lifecycle handler lists.
// Controllers register their routes once through the builder methods; the
// table is read-only after the server starts.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/middleware"
	"github.com/xentixar/sockeon-go/ratelimit"
)

// WSHandler handles one dispatched WebSocket event.
type WSHandler func(clientID int64, data any) any

// HTTPHandler handles one dispatched HTTP request.
type HTTPHandler func(req *httpwire.Request) *httpwire.Response

// ConnectHandler fires on connection lifecycle transitions.
type ConnectHandler func(clientID int64)

// Controller registers a group of related routes. A controller object is
// scanned exactly once, at Attach time.
type Controller interface {
	Register(t *Table)
}

// eventName constrains what an event route may be called.
var eventName = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// WSRoute is one registered WebSocket event route.
type WSRoute struct {
	Event         string
	Handler       WSHandler
	Middlewares   []middleware.MessageFunc
	ExcludeGlobal []string
	RateLimit     *ratelimit.Policy
	// Schema, when set, is a struct prototype the event payload is decoded
	// into and validated against before the handler runs.
	Schema any
}

// HTTPRoute is one registered HTTP route. Pattern paths contain {name}
// segments, each capturing one non-"/" path segment.
type HTTPRoute struct {
	Method        string
	Path          string
	Handler       HTTPHandler
	Middlewares   []middleware.HTTPFunc
	ExcludeGlobal []string
	RateLimit     *ratelimit.Policy
	Schema        any

	pattern    *regexp.Regexp
	paramNames []string
}

// Scope returns the route's rate-limit scope name.
func (r *HTTPRoute) Scope() string { return ratelimit.RouteScope(r.Method, r.Path) }

// WSOption customises a WebSocket route at registration.
type WSOption func(*WSRoute)

// WithWSMiddleware appends per-route message middleware.
func WithWSMiddleware(mws ...middleware.MessageFunc) WSOption {
	return func(r *WSRoute) { r.Middlewares = append(r.Middlewares, mws...) }
}

// WithWSExcludeGlobal names global middleware this route skips.
func WithWSExcludeGlobal(names ...string) WSOption {
	return func(r *WSRoute) { r.ExcludeGlobal = append(r.ExcludeGlobal, names...) }
}

// WithWSRateLimit attaches a per-event rate-limit policy.
func WithWSRateLimit(p ratelimit.Policy) WSOption {
	return func(r *WSRoute) { r.RateLimit = &p }
}

// WithWSSchema attaches a payload schema prototype.
func WithWSSchema(schema any) WSOption {
	return func(r *WSRoute) { r.Schema = schema }
}

// HTTPOption customises an HTTP route at registration.
type HTTPOption func(*HTTPRoute)

// WithHTTPMiddleware appends per-route middleware.
func WithHTTPMiddleware(mws ...middleware.HTTPFunc) HTTPOption {
	return func(r *HTTPRoute) { r.Middlewares = append(r.Middlewares, mws...) }
}

// WithHTTPExcludeGlobal names global middleware this route skips.
func WithHTTPExcludeGlobal(names ...string) HTTPOption {
	return func(r *HTTPRoute) { r.ExcludeGlobal = append(r.ExcludeGlobal, names...) }
}

// WithHTTPRateLimit attaches a per-route rate-limit policy.
func WithHTTPRateLimit(p ratelimit.Policy) HTTPOption {
	return func(r *HTTPRoute) { r.RateLimit = &p }
}

// WithHTTPSchema attaches a body schema prototype.
func WithHTTPSchema(schema any) HTTPOption {
	return func(r *HTTPRoute) { r.Schema = schema }
}

// Table is the complete routing state.
type Table struct {
	ws        map[string]*WSRoute
	httpExact map[string]*HTTPRoute
	// httpPatterns keeps registration order: among equally specific
	// parameterised matches, the first registered wins.
	httpPatterns []*HTTPRoute

	onConnect    []ConnectHandler
	onDisconnect []ConnectHandler
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		ws:        make(map[string]*WSRoute),
		httpExact: make(map[string]*HTTPRoute),
	}
}

// Attach registers every route a controller declares.
func (t *Table) Attach(c Controller) {
	c.Register(t)
}

// OnEvent registers a WebSocket event route.
func (t *Table) OnEvent(event string, h WSHandler, opts ...WSOption) error {
	if !eventName.MatchString(event) {
		return fmt.Errorf("routing: invalid event name %q", event)
	}
	r := &WSRoute{Event: event, Handler: h}
	for _, opt := range opts {
		opt(r)
	}
	t.ws[event] = r
	return nil
}

// OnHTTP registers an HTTP route for the given method and path pattern.
func (t *Table) OnHTTP(method, path string, h HTTPHandler, opts ...HTTPOption) error {
	method = strings.ToUpper(method)
	r := &HTTPRoute{Method: method, Path: path, Handler: h}
	for _, opt := range opts {
		opt(r)
	}

	if strings.Contains(path, "{") {
		pattern, names, err := compilePattern(path)
		if err != nil {
			return err
		}
		r.pattern = pattern
		r.paramNames = names
		t.httpPatterns = append(t.httpPatterns, r)
		return nil
	}
	t.httpExact[method+" "+path] = r
	return nil
}

// OnConnect registers a handler fired immediately after a successful
// WebSocket handshake.
func (t *Table) OnConnect(fn ConnectHandler) {
	t.onConnect = append(t.onConnect, fn)
}

// OnDisconnect registers a handler fired just before a client's socket is
// closed.
func (t *Table) OnDisconnect(fn ConnectHandler) {
	t.onDisconnect = append(t.onDisconnect, fn)
}

// WSRoute resolves an event route by name.
func (t *Table) WSRoute(event string) (*WSRoute, bool) {
	r, ok := t.ws[event]
	return r, ok
}

// MatchHTTP resolves an HTTP route. Exact matches always win; otherwise
// parameterised routes of the same method are tried in registration order
// and the captures are returned by name.
func (t *Table) MatchHTTP(method, path string) (*HTTPRoute, map[string]string, bool) {
	if r, ok := t.httpExact[method+" "+path]; ok {
		return r, nil, true
	}
	for _, r := range t.httpPatterns {
		if r.Method != method {
			continue
		}
		m := r.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		params := make(map[string]string, len(r.paramNames))
		for i, name := range r.paramNames {
			params[name] = m[i+1]
		}
		return r, params, true
	}
	return nil, nil, false
}

// ConnectHandlers and DisconnectHandlers expose the lifecycle lists to the
// event loop.
func (t *Table) ConnectHandlers() []ConnectHandler    { return t.onConnect }
func (t *Table) DisconnectHandlers() []ConnectHandler { return t.onDisconnect }

var paramSegment = regexp.MustCompile(`^\{([a-zA-Z_][a-zA-Z0-9_]*)\}$`)

// compilePattern turns "/users/{id}/posts/{post}" into an anchored regexp
// with one capture group per {name} segment.
func compilePattern(path string) (*regexp.Regexp, []string, error) {
	parts := strings.Split(path, "/")
	var names []string
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if m := paramSegment.FindStringSubmatch(part); m != nil {
			names = append(names, m[1])
			out = append(out, `([^/]+)`)
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return nil, nil, fmt.Errorf("routing: malformed path segment %q in %q", part, path)
		}
		out = append(out, regexp.QuoteMeta(part))
	}
	re, err := regexp.Compile("^" + strings.Join(out, "/") + "$")
	if err != nil {
		return nil, nil, fmt.Errorf("routing: cannot compile pattern for %q: %w", path, err)
	}
	return re, names, nil
}
