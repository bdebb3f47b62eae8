package protocol

import "testing"

func TestAcceptKeyKnownVector(t *testing.T) {
	// Known vector from RFC 6455 §1.3.
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := AcceptKey(key); got != want {
		t.Fatalf("AcceptKey(%q) = %q, want %q", key, got, want)
	}
}

func newReq() *HandshakeRequest {
	return &HandshakeRequest{
		Method: "GET",
		Path:   "/chat",
		Headers: map[string][]string{
			"Connection":            {"Upgrade"},
			"Upgrade":               {"websocket"},
			"Sec-Websocket-Key":     {"dGhlIHNhbXBsZSBub25jZQ=="},
			"Sec-Websocket-Version": {"13"},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if reason := Validate(newReq()); reason != nil {
		t.Fatalf("expected valid handshake, got reject: %+v", reason)
	}
}

func TestValidateRejectsNonGet(t *testing.T) {
	req := newReq()
	req.Method = "POST"
	reason := Validate(req)
	if reason == nil || reason.Status != 400 {
		t.Fatalf("expected 400 for non-GET, got %+v", reason)
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	req := newReq()
	req.Headers["Sec-Websocket-Version"] = []string{"8"}
	reason := Validate(req)
	if reason == nil || reason.Status != 426 {
		t.Fatalf("expected 426 for bad version, got %+v", reason)
	}
}

func TestValidateOrigin(t *testing.T) {
	if !ValidateOrigin("https://example.com", []string{"*"}) {
		t.Fatal("wildcard should allow any origin")
	}
	if !ValidateOrigin("", []string{"https://example.com"}) {
		t.Fatal("absent origin should always be allowed")
	}
	if ValidateOrigin("https://evil.com", []string{"https://example.com"}) {
		t.Fatal("non-whitelisted origin should be rejected")
	}
}
