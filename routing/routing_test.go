package routing

import (
	"testing"

	"github.com/xentixar/sockeon-go/httpwire"
)

func okHandler(req *httpwire.Request) *httpwire.Response {
	return httpwire.NewResponse(200, "text/plain", []byte("ok"))
}

func TestExactBeatsParameterised(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnHTTP("GET", "/users/{id}", okHandler); err != nil {
		t.Fatal(err)
	}
	if err := tbl.OnHTTP("GET", "/users/all", okHandler); err != nil {
		t.Fatal(err)
	}

	route, params, ok := tbl.MatchHTTP("GET", "/users/all")
	if !ok || route.Path != "/users/all" {
		t.Fatalf("expected exact route to win, got %+v", route)
	}
	if len(params) != 0 {
		t.Fatalf("exact match should capture nothing, got %v", params)
	}
}

func TestParameterisedCapture(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnHTTP("GET", "/users/{id}/posts/{post}", okHandler); err != nil {
		t.Fatal(err)
	}

	route, params, ok := tbl.MatchHTTP("GET", "/users/123/posts/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if route.Path != "/users/{id}/posts/{post}" {
		t.Fatalf("unexpected route %q", route.Path)
	}
	if params["id"] != "123" || params["post"] != "42" {
		t.Fatalf("unexpected captures %v", params)
	}
}

func TestFirstRegisteredPatternWins(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnHTTP("GET", "/a/{x}", okHandler); err != nil {
		t.Fatal(err)
	}
	if err := tbl.OnHTTP("GET", "/{y}/b", okHandler); err != nil {
		t.Fatal(err)
	}

	route, _, ok := tbl.MatchHTTP("GET", "/a/b")
	if !ok || route.Path != "/a/{x}" {
		t.Fatalf("expected first registered pattern, got %+v", route)
	}
}

func TestMethodMismatchDoesNotMatch(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnHTTP("POST", "/submit", okHandler); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := tbl.MatchHTTP("GET", "/submit"); ok {
		t.Fatal("GET must not match a POST route")
	}
}

func TestEventNameValidation(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnEvent("chat.message:send", func(int64, any) any { return nil }); err != nil {
		t.Fatalf("legal event name rejected: %v", err)
	}
	if err := tbl.OnEvent("bad name!", func(int64, any) any { return nil }); err == nil {
		t.Fatal("expected invalid event name to be rejected")
	}
}

func TestWSRouteOptions(t *testing.T) {
	tbl := NewTable()
	err := tbl.OnEvent("join", func(int64, any) any { return nil },
		WithWSExcludeGlobal("logger"),
		WithWSSchema(struct{}{}))
	if err != nil {
		t.Fatal(err)
	}
	r, ok := tbl.WSRoute("join")
	if !ok {
		t.Fatal("route not found")
	}
	if len(r.ExcludeGlobal) != 1 || r.ExcludeGlobal[0] != "logger" {
		t.Fatalf("exclusion list not stored: %v", r.ExcludeGlobal)
	}
	if r.Schema == nil {
		t.Fatal("schema not stored")
	}
}

func TestMalformedPatternRejected(t *testing.T) {
	tbl := NewTable()
	if err := tbl.OnHTTP("GET", "/bad/{seg", okHandler); err == nil {
		t.Fatal("expected malformed pattern to be rejected")
	}
}

type testController struct {
	registered bool
}

func (tc *testController) Register(t *Table) {
	tc.registered = true
	t.OnEvent("ctl.event", func(int64, any) any { return nil })
	t.OnConnect(func(int64) {})
	t.OnDisconnect(func(int64) {})
}

func TestAttachScansControllerOnce(t *testing.T) {
	tbl := NewTable()
	ctl := &testController{}
	tbl.Attach(ctl)

	if !ctl.registered {
		t.Fatal("controller was not scanned")
	}
	if _, ok := tbl.WSRoute("ctl.event"); !ok {
		t.Fatal("controller route missing")
	}
	if len(tbl.ConnectHandlers()) != 1 || len(tbl.DisconnectHandlers()) != 1 {
		t.Fatal("lifecycle handlers missing")
	}
}
