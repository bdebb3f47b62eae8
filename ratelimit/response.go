package ratelimit

import (
	"strconv"

	"github.com/xentixar/sockeon-go/httpwire"
)

// refusalBody is the JSON payload both transports send on denial.
func refusalBody(d Decision, kind string) map[string]any {
	body := map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "too many requests, slow down",
		"retry_after": int(d.RetryAfter.Seconds()),
		"limit":       d.Limit,
		"window":      int(d.Window.Seconds()),
	}
	if kind != "" {
		body["type"] = kind
	}
	return body
}

// TooManyRequests builds the 429 response for a denied HTTP request,
// including the X-RateLimit-* and Retry-After headers.
func TooManyRequests(d Decision, kind string) *httpwire.Response {
	resp := httpwire.NewJSON(429, refusalBody(d, kind))
	resp.SetHeader("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	resp.SetHeader("X-RateLimit-Remaining", "0")
	resp.SetHeader("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	resp.SetHeader("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	return resp
}

// ExceededEvent builds the rate_limit_exceeded event emitted to a
// WebSocket client whose message was refused.
func ExceededEvent(d Decision, kind string) (string, map[string]any) {
	return "rate_limit_exceeded", refusalBody(d, kind)
}
