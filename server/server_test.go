package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/broadcast"
	"github.com/xentixar/sockeon-go/config"
	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/membership"
	"github.com/xentixar/sockeon-go/middleware"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/ratelimit"
	"github.com/xentixar/sockeon-go/registry"
	"github.com/xentixar/sockeon-go/routing"
	"github.com/xentixar/sockeon-go/transport"
)

// scriptConn captures everything the server writes and never has bytes to
// read; tests stuff the inbound buffer directly.
type scriptConn struct {
	out    bytes.Buffer
	closed bool
	fd     uintptr
	remote string
}

func (c *scriptConn) Read(p []byte) (int, error)  { return 0, transport.ErrWouldBlock }
func (c *scriptConn) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *scriptConn) Close() error                { c.closed = true; return nil }
func (c *scriptConn) RawFD() uintptr              { return c.fd }
func (c *scriptConn) RemoteAddr() string          { return c.remote }

func newTestServer() *Server {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	return New(cfg)
}

var nextFD uintptr = 100

// connect mimics the accept path without a real socket.
func connect(s *Server, remote string) (*registry.Client, *scriptConn) {
	nextFD++
	conn := &scriptConn{fd: nextFD, remote: remote}
	c := s.clients.Create(conn, remote, s.now())
	s.members.JoinNamespace(membership.ClientID(c.ID), membership.Root)
	s.byFD[conn.RawFD()] = c.ID
	return c, conn
}

const upgradeRequest = "GET /chat?t=abc HTTP/1.1\r\n" +
	"Host: x\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

// establish runs the real handshake and clears the captured output.
func establish(t *testing.T, s *Server) (*registry.Client, *scriptConn) {
	t.Helper()
	c, conn := connect(s, "127.0.0.1:40001")
	c.Inbound = append(c.Inbound, []byte(upgradeRequest)...)
	s.drainClient(c)
	if !c.HandshakeDone {
		t.Fatalf("handshake did not complete; wrote: %q", conn.out.String())
	}
	conn.out.Reset()
	return c, conn
}

// maskFrame builds a client-to-server frame.
func maskFrame(opcode byte, payload []byte, fin bool) []byte {
	key := [4]byte{0xA1, 0xB2, 0xC3, 0xD4}
	first := opcode
	if fin {
		first |= 0x80
	}
	var out []byte
	n := len(payload)
	switch {
	case n <= 125:
		out = append(out, first, byte(n)|0x80)
	case n <= 0xFFFF:
		out = append(out, first, 126|0x80, byte(n>>8), byte(n))
	default:
		out = append(out, first, 127|0x80)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		out = append(out, ext[:]...)
	}
	out = append(out, key[:]...)
	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	return append(out, masked...)
}

func eventFrame(t *testing.T, event string, data any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	return maskFrame(protocol.OpText, payload, true)
}

// serverFrames parses the unmasked frames the server wrote.
func serverFrames(t *testing.T, b []byte) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for len(b) >= 2 {
		fin := b[0]&0x80 != 0
		opcode := b[0] & 0x0F
		n := int(b[1] & 0x7F)
		pos := 2
		switch n {
		case 126:
			n = int(binary.BigEndian.Uint16(b[pos:]))
			pos += 2
		case 127:
			n = int(binary.BigEndian.Uint64(b[pos:]))
			pos += 8
		}
		if len(b) < pos+n {
			t.Fatalf("truncated server frame: %v", b)
		}
		frames = append(frames, protocol.Frame{Fin: fin, Opcode: opcode, Payload: b[pos : pos+n]})
		b = b[pos+n:]
	}
	return frames
}

func decodeEmitted(t *testing.T, f protocol.Frame) broadcast.Message {
	t.Helper()
	var m broadcast.Message
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("frame payload is not a message: %q", f.Payload)
	}
	return m
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want registry.ConnType
	}{
		{"too short", "GET /", registry.Unknown},
		{"not http at all", "\x00\x01\x02binarygarbage!", registry.HTTP},
		{"http without upgrade", "GET /x HTTP/1.1\r\nHost: a\r\n\r\n", registry.HTTP},
		{"ws upgrade", upgradeRequest, registry.WS},
		{"method but headers incomplete", "GET /x HTTP/1.1\r\nHost: a\r\n", registry.Unknown},
	}
	for _, tc := range cases {
		if got := detectType([]byte(tc.in)); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestHandshakeAccept(t *testing.T) {
	s := newTestServer()
	connected := 0
	s.Routes().OnConnect(func(int64) { connected++ })

	c, conn := connect(s, "127.0.0.1:40001")
	c.Inbound = append(c.Inbound, []byte(upgradeRequest)...)
	s.drainClient(c)

	out := conn.out.String()
	if !strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("expected 101, got %q", out)
	}
	if !strings.Contains(out, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Fatalf("wrong accept key in %q", out)
	}
	if !c.HandshakeDone || c.Type != registry.WS {
		t.Fatal("client not marked as an established websocket")
	}
	if connected != 1 {
		t.Fatalf("connect handlers fired %d times", connected)
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	s := newTestServer()
	c, conn := connect(s, "127.0.0.1:40002")
	req := strings.Replace(upgradeRequest, "Sec-WebSocket-Version: 13", "Sec-WebSocket-Version: 8", 1)
	c.Inbound = append(c.Inbound, []byte(req)...)
	s.drainClient(c)

	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 426 ") {
		t.Fatalf("expected 426, got %q", conn.out.String())
	}
	if _, alive := s.clients.Get(c.ID); alive {
		t.Fatal("rejected client must be gone")
	}
}

func TestHandshakeRejectsDisallowedOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.AllowedOrigins = []string{"https://good.example"}
	s := New(cfg)

	c, conn := connect(s, "127.0.0.1:40003")
	req := strings.Replace(upgradeRequest, "Host: x\r\n", "Host: x\r\nOrigin: https://evil.example\r\n", 1)
	c.Inbound = append(c.Inbound, []byte(req)...)
	s.drainClient(c)

	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 403 ") {
		t.Fatalf("expected 403, got %q", conn.out.String())
	}
}

func TestHandshakeAuthKey(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.AuthKey = "sekrit"
	s := New(cfg)

	c, conn := connect(s, "127.0.0.1:40004")
	c.Inbound = append(c.Inbound, []byte(upgradeRequest)...)
	s.drainClient(c)
	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 403 ") {
		t.Fatalf("missing key should 403, got %q", conn.out.String())
	}

	c2, conn2 := connect(s, "127.0.0.1:40005")
	req := strings.Replace(upgradeRequest, "/chat?t=abc", "/chat?key=sekrit", 1)
	c2.Inbound = append(c2.Inbound, []byte(req)...)
	s.drainClient(c2)
	if !strings.HasPrefix(conn2.out.String(), "HTTP/1.1 101 ") {
		t.Fatalf("valid key should upgrade, got %q", conn2.out.String())
	}
}

func TestHandshakeMiddlewareDenial(t *testing.T) {
	s := newTestServer()
	s.UseHandshake("gate", func(id int64, req *protocol.HandshakeRequest, next func() error, _ api.ServerHandle) error {
		return middleware.Deny("not today")
	})

	c, conn := connect(s, "127.0.0.1:40006")
	c.Inbound = append(c.Inbound, []byte(upgradeRequest)...)
	s.drainClient(c)
	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 403 ") {
		t.Fatalf("denial should 403, got %q", conn.out.String())
	}
}

func TestPingPongEchoesPayload(t *testing.T) {
	s := newTestServer()
	c, conn := establish(t, s)

	c.Inbound = append(c.Inbound, maskFrame(protocol.OpPing, []byte("hello"), true)...)
	s.drainClient(c)

	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 || frames[0].Opcode != protocol.OpPong {
		t.Fatalf("expected one pong, got %+v", frames)
	}
	if string(frames[0].Payload) != "hello" {
		t.Fatalf("pong must echo the ping payload, got %q", frames[0].Payload)
	}
}

func TestCloseFrameEchoedAndClientGone(t *testing.T) {
	s := newTestServer()
	c, conn := establish(t, s)

	c.Inbound = append(c.Inbound, maskFrame(protocol.OpClose, []byte{0x03, 0xE8}, true)...)
	s.drainClient(c)

	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 || frames[0].Opcode != protocol.OpClose {
		t.Fatalf("expected a close reply, got %+v", frames)
	}
	if _, alive := s.clients.Get(c.ID); alive {
		t.Fatal("client must be gone after close")
	}
	if !conn.closed {
		t.Fatal("socket must be closed")
	}
}

func TestUnmaskedFrameFailsConnection(t *testing.T) {
	s := newTestServer()
	c, conn := establish(t, s)

	// A server-style (unmasked) frame from the client is a protocol error.
	c.Inbound = append(c.Inbound, protocol.EncodeFrame(protocol.OpText, []byte("x"), true)...)
	s.drainClient(c)

	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 || frames[0].Opcode != protocol.OpClose {
		t.Fatalf("expected close frame, got %+v", frames)
	}
	code := uint16(frames[0].Payload[0])<<8 | uint16(frames[0].Payload[1])
	if code != 1002 {
		t.Fatalf("expected close code 1002, got %d", code)
	}
	if _, alive := s.clients.Get(c.ID); alive {
		t.Fatal("client must be gone")
	}
}

func TestFragmentedMessageReassembled(t *testing.T) {
	s := newTestServer()
	var got string
	s.Routes().OnEvent("chat.msg", func(id int64, data any) any {
		got, _ = data.(string)
		return nil
	})
	c, _ := establish(t, s)

	payload, _ := json.Marshal(map[string]any{"event": "chat.msg", "data": "split"})
	half := len(payload) / 2
	c.Inbound = append(c.Inbound, maskFrame(protocol.OpText, payload[:half], false)...)
	c.Inbound = append(c.Inbound, maskFrame(protocol.OpContinuation, payload[half:], true)...)
	s.drainClient(c)

	if got != "split" {
		t.Fatalf("fragmented message not reassembled, handler saw %q", got)
	}
}

func TestEventDispatchMiddlewareOrder(t *testing.T) {
	s := newTestServer()
	var calls []string
	s.UseMessage("G1", func(id int64, event string, data any, next func() any, _ api.ServerHandle) any {
		calls = append(calls, "G1")
		return next()
	})
	s.UseMessage("G2", func(id int64, event string, data any, next func() any, _ api.ServerHandle) any {
		calls = append(calls, "G2")
		return next()
	})
	s.Routes().OnEvent("order.test", func(id int64, data any) any {
		calls = append(calls, "handler")
		return nil
	},
		routing.WithWSMiddleware(func(id int64, event string, data any, next func() any, _ api.ServerHandle) any {
			calls = append(calls, "R1")
			return next()
		}),
		routing.WithWSExcludeGlobal("G1"))

	c, _ := establish(t, s)
	c.Inbound = append(c.Inbound, eventFrame(t, "order.test", map[string]any{})...)
	s.drainClient(c)

	want := "G2,R1,handler"
	if strings.Join(calls, ",") != want {
		t.Fatalf("expected %s, got %s", want, strings.Join(calls, ","))
	}
}

func TestUnknownEventDroppedSilently(t *testing.T) {
	s := newTestServer()
	c, conn := establish(t, s)

	c.Inbound = append(c.Inbound, eventFrame(t, "no.such.event", map[string]any{})...)
	s.drainClient(c)

	if conn.out.Len() != 0 {
		t.Fatalf("unknown events are dropped silently, wrote %q", conn.out.String())
	}
	if _, alive := s.clients.Get(c.ID); !alive {
		t.Fatal("client must be retained")
	}
}

func TestMessageMissingKeysDropped(t *testing.T) {
	s := newTestServer()
	handled := false
	s.Routes().OnEvent("x", func(int64, any) any { handled = true; return nil })
	c, conn := establish(t, s)

	c.Inbound = append(c.Inbound, maskFrame(protocol.OpText, []byte(`{"event":"x"}`), true)...)
	s.drainClient(c)

	if handled || conn.out.Len() != 0 {
		t.Fatal("a message without a data key must be dropped silently")
	}
}

func TestWSRateLimitEmitsEvent(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.RateLimit.WS = ratelimit.Policy{MaxRequests: 5, Window: time.Second}
	s := New(cfg)

	dispatched := 0
	s.Routes().OnEvent("burst", func(int64, any) any { dispatched++; return nil })
	c, conn := establish(t, s)

	for i := 0; i < 6; i++ {
		c.Inbound = append(c.Inbound, eventFrame(t, "burst", map[string]any{"i": i})...)
		s.drainClient(c)
	}

	if dispatched != 5 {
		t.Fatalf("expected 5 dispatched, got %d", dispatched)
	}
	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 {
		t.Fatalf("expected one refusal frame, got %d", len(frames))
	}
	if m := decodeEmitted(t, frames[0]); m.Event != "rate_limit_exceeded" {
		t.Fatalf("expected rate_limit_exceeded, got %q", m.Event)
	}
	if _, alive := s.clients.Get(c.ID); !alive {
		t.Fatal("rate-limited client must be retained")
	}
}

func TestWhitelistedIPNeverRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.RateLimit.WS = ratelimit.Policy{MaxRequests: 1, Window: time.Minute, Whitelist: []string{"127.0.0.1"}}
	s := New(cfg)

	dispatched := 0
	s.Routes().OnEvent("free", func(int64, any) any { dispatched++; return nil })
	c, conn := establish(t, s)

	for i := 0; i < 10; i++ {
		c.Inbound = append(c.Inbound, eventFrame(t, "free", nil)...)
		s.drainClient(c)
	}
	if dispatched != 10 {
		t.Fatalf("whitelisted IP must never be limited, dispatched %d", dispatched)
	}
	if conn.out.Len() != 0 {
		t.Fatal("no refusal frames expected")
	}
}

type joinPayload struct {
	Room string `json:"room" validate:"required"`
}

func TestSchemaValidationFailureEmitsEvent(t *testing.T) {
	s := newTestServer()
	handled := false
	s.Routes().OnEvent("room.join", func(int64, any) any { handled = true; return nil },
		routing.WithWSSchema(joinPayload{}))
	c, conn := establish(t, s)

	c.Inbound = append(c.Inbound, eventFrame(t, "room.join", map[string]any{"room": ""})...)
	s.drainClient(c)

	if handled {
		t.Fatal("handler must not run on validation failure")
	}
	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 {
		t.Fatalf("expected one validation_error frame, got %d", len(frames))
	}
	if m := decodeEmitted(t, frames[0]); m.Event != "validation_error" {
		t.Fatalf("expected validation_error, got %q", m.Event)
	}
}

func TestSchemaValidationPassesTypedValue(t *testing.T) {
	s := newTestServer()
	var seen any
	s.Routes().OnEvent("room.join", func(id int64, data any) any { seen = data; return nil },
		routing.WithWSSchema(joinPayload{}))
	c, _ := establish(t, s)

	c.Inbound = append(c.Inbound, eventFrame(t, "room.join", map[string]any{"room": "ops"})...)
	s.drainClient(c)

	p, ok := seen.(*joinPayload)
	if !ok || p.Room != "ops" {
		t.Fatalf("handler should receive the typed payload, got %T %v", seen, seen)
	}
}

func TestPanickingHandlerKeepsClient(t *testing.T) {
	s := newTestServer()
	s.Routes().OnEvent("boom", func(int64, any) any { panic("kaboom") })
	c, _ := establish(t, s)

	c.Inbound = append(c.Inbound, eventFrame(t, "boom", nil)...)
	s.drainClient(c)

	if _, alive := s.clients.Get(c.ID); !alive {
		t.Fatal("a panicking handler drops the event, not the client")
	}
}

func TestBroadcastScoping(t *testing.T) {
	s := newTestServer()
	a, connA := establish(t, s)
	b, connB := establish(t, s)
	cc, connC := establish(t, s)

	s.JoinNamespace(a.ID, "/admin")
	s.JoinRoom(a.ID, "/admin", "ops")
	s.JoinNamespace(b.ID, "/admin")
	s.JoinRoom(b.ID, "/admin", "ops")
	s.JoinNamespace(cc.ID, "/user")

	s.Broadcast("msg", map[string]any{"k": "v"}, "/admin", "ops")

	for _, conn := range []*scriptConn{connA, connB} {
		frames := serverFrames(t, conn.out.Bytes())
		if len(frames) != 1 {
			t.Fatalf("room member should receive exactly one frame, got %d", len(frames))
		}
		if m := decodeEmitted(t, frames[0]); m.Event != "msg" {
			t.Fatalf("unexpected event %q", m.Event)
		}
	}
	if connC.out.Len() != 0 {
		t.Fatal("client outside the room must receive nothing")
	}
}

func TestDisconnectCleansEverything(t *testing.T) {
	s := newTestServer()
	c, _ := establish(t, s)
	s.JoinNamespace(c.ID, "/admin")
	s.JoinRoom(c.ID, "/admin", "ops")
	c.Data.Set("k", "v")

	fired := 0
	s.Routes().OnDisconnect(func(int64) { fired++ })

	s.disconnectClient(c.ID, true, protocol.CloseNormal)

	if fired != 1 {
		t.Fatalf("disconnect handlers fired %d times", fired)
	}
	if _, alive := s.clients.Get(c.ID); alive {
		t.Fatal("registry entry must be gone")
	}
	if members := s.members.ClientsInNamespace("/admin"); len(members) != 0 {
		t.Fatalf("namespace membership must be gone, got %v", members)
	}
	if members := s.members.ClientsInRoom("/admin", "ops"); len(members) != 0 {
		t.Fatalf("room membership must be gone, got %v", members)
	}
	// Idempotent.
	s.disconnectClient(c.ID, true, protocol.CloseNormal)
	if fired != 1 {
		t.Fatal("double disconnect must be a no-op")
	}
}

func TestShutdownDrainSendsGoingAway(t *testing.T) {
	s := newTestServer()
	_, conn := establish(t, s)

	s.drainAndClose()

	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 || frames[0].Opcode != protocol.OpClose {
		t.Fatalf("expected a close frame on drain, got %+v", frames)
	}
	code := uint16(frames[0].Payload[0])<<8 | uint16(frames[0].Payload[1])
	if code != 1001 {
		t.Fatalf("expected 1001 going away, got %d", code)
	}
	if s.clients.Len() != 0 {
		t.Fatal("all clients must be gone after drain")
	}
}

func TestHTTPExactRoute(t *testing.T) {
	s := newTestServer()
	s.Routes().OnHTTP("GET", "/users/all", func(req *httpwire.Request) *httpwire.Response {
		return httpwire.NewJSON(200, map[string]any{"which": "exact"})
	})
	s.Routes().OnHTTP("GET", "/users/{id}", func(req *httpwire.Request) *httpwire.Response {
		return httpwire.NewJSON(200, map[string]any{"which": "param", "id": req.Param("id")})
	})

	c, conn := connect(s, "127.0.0.1:50001")
	c.Inbound = append(c.Inbound, []byte("GET /users/all HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c)
	if !strings.Contains(conn.out.String(), `"which":"exact"`) {
		t.Fatalf("exact route should win, got %q", conn.out.String())
	}
	if _, alive := s.clients.Get(c.ID); alive {
		t.Fatal("http connection closes after one response")
	}

	c2, conn2 := connect(s, "127.0.0.1:50002")
	c2.Inbound = append(c2.Inbound, []byte("GET /users/123 HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c2)
	if !strings.Contains(conn2.out.String(), `"id":"123"`) {
		t.Fatalf("param capture broken, got %q", conn2.out.String())
	}
}

func TestHTTPNotFound(t *testing.T) {
	s := newTestServer()
	c, conn := connect(s, "127.0.0.1:50003")
	c.Inbound = append(c.Inbound, []byte("GET /nowhere HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c)
	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 404 ") {
		t.Fatalf("expected 404, got %q", conn.out.String())
	}
}

func TestHTTPMiddlewareExclusionOrder(t *testing.T) {
	s := newTestServer()
	var calls []string
	s.UseHTTP("G1", func(req *httpwire.Request, next func() *httpwire.Response, _ api.ServerHandle) *httpwire.Response {
		calls = append(calls, "G1")
		return next()
	})
	s.UseHTTP("G2", func(req *httpwire.Request, next func() *httpwire.Response, _ api.ServerHandle) *httpwire.Response {
		calls = append(calls, "G2")
		return next()
	})
	s.Routes().OnHTTP("GET", "/pipeline", func(req *httpwire.Request) *httpwire.Response {
		calls = append(calls, "handler")
		return httpwire.NewResponse(200, "text/plain", []byte("ok"))
	},
		routing.WithHTTPMiddleware(func(req *httpwire.Request, next func() *httpwire.Response, _ api.ServerHandle) *httpwire.Response {
			calls = append(calls, "R1")
			return next()
		}),
		routing.WithHTTPExcludeGlobal("G1"))

	c, _ := connect(s, "127.0.0.1:50004")
	c.Inbound = append(c.Inbound, []byte("GET /pipeline HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c)

	if strings.Join(calls, ",") != "G2,R1,handler" {
		t.Fatalf("expected G2,R1,handler, got %s", strings.Join(calls, ","))
	}
}

func TestHTTPPanicReturns500(t *testing.T) {
	s := newTestServer()
	s.Routes().OnHTTP("GET", "/boom", func(req *httpwire.Request) *httpwire.Response {
		panic("kaboom")
	})
	c, conn := connect(s, "127.0.0.1:50005")
	c.Inbound = append(c.Inbound, []byte("GET /boom HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c)
	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 500 ") {
		t.Fatalf("expected 500, got %q", conn.out.String())
	}
}

func TestHTTPRateLimit429(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.RateLimit.HTTP = ratelimit.Policy{MaxRequests: 1, Window: time.Minute}
	s := New(cfg)
	s.Routes().OnHTTP("GET", "/limited", func(req *httpwire.Request) *httpwire.Response {
		return httpwire.NewResponse(200, "text/plain", []byte("ok"))
	})

	c, conn := connect(s, "127.0.0.1:50006")
	c.Inbound = append(c.Inbound, []byte("GET /limited HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c)
	if !strings.HasPrefix(conn.out.String(), "HTTP/1.1 200 ") {
		t.Fatalf("first request should pass, got %q", conn.out.String())
	}

	c2, conn2 := connect(s, "127.0.0.1:50007")
	c2.Inbound = append(c2.Inbound, []byte("GET /limited HTTP/1.1\r\nHost: x\r\n\r\n")...)
	s.drainClient(c2)
	out := conn2.out.String()
	if !strings.HasPrefix(out, "HTTP/1.1 429 ") {
		t.Fatalf("second request should be limited, got %q", out)
	}
	if !strings.Contains(out, "Retry-After: ") || !strings.Contains(out, "X-RateLimit-Remaining: 0") {
		t.Fatalf("refusal headers missing: %q", out)
	}
}

func TestIdlePingAndPongReset(t *testing.T) {
	cfg := config.Default()
	cfg.QueueFile = ""
	cfg.Logger = logging.Nop()
	cfg.IdlePingInterval = 50 * time.Millisecond
	s := New(cfg)

	base := time.Unix(5000, 0)
	now := base
	s.now = func() time.Time { return now }

	c, conn := establish(t, s)
	c.LastUsedAt = base

	now = base.Add(100 * time.Millisecond)
	s.housekeeping(now)

	frames := serverFrames(t, conn.out.Bytes())
	if len(frames) != 1 || frames[0].Opcode != protocol.OpPing {
		t.Fatalf("expected an idle ping, got %+v", frames)
	}
	if c.UnansweredPings != 1 {
		t.Fatalf("expected 1 unanswered ping, got %d", c.UnansweredPings)
	}

	// A pong resets the counter.
	c.Inbound = append(c.Inbound, maskFrame(protocol.OpPong, nil, true)...)
	s.drainClient(c)
	if c.UnansweredPings != 0 {
		t.Fatal("pong must reset the unanswered counter")
	}
}
