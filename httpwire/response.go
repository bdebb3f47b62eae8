package httpwire

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Response is a buildable HTTP/1.1 response.
type Response struct {
	Status  int
	Reason  string
	Headers map[string]string
	Body    []byte
}

var reasonPhrases = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	411: "Length Required",
	422: "Unprocessable Entity",
	426: "Upgrade Required",
	429: "Too Many Requests",
	500: "Internal Server Error",
}

func reasonFor(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return "Unknown"
}

// NewResponse builds a raw-body response.
func NewResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:  status,
		Reason:  reasonFor(status),
		Headers: map[string]string{"Content-Type": contentType},
		Body:    body,
	}
}

// NewJSON serializes v as an application/json response, the default for
// handlers that return a structured value.
func NewJSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"encode_failed"}`)
		status = 500
	}
	return NewResponse(status, "application/json", body)
}

// SetHeader overrides or adds a custom header.
func (r *Response) SetHeader(key, value string) *Response {
	r.Headers[key] = value
	return r
}

// securityHeaders are applied to every response unless the handler
// explicitly overrides one via SetHeader.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"X-XSS-Protection":       "1; mode=block",
}

// Bytes serializes the full wire response: status line, then the
// canonical, security, and custom headers merged (custom values win) and
// written in sorted key order, blank line, body.
func (r *Response) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, r.Reason)

	headers := map[string]string{
		"Content-Length": strconv.Itoa(len(r.Body)),
		"Connection":     "close",
	}
	for k, v := range securityHeaders {
		headers[k] = v
	}
	for k, v := range r.Headers {
		headers[k] = v
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, []byte(b.String())...)
	out = append(out, r.Body...)
	return out
}

// CORSPolicy is the parsed CORS configuration consumed by the responder.
// Parsing a raw config source into this struct is the config loader's
// job; the responder only consumes the result.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
}

func (p *CORSPolicy) allows(origin string) (string, bool) {
	for _, o := range p.AllowedOrigins {
		if o == "*" {
			if p.AllowCredentials {
				return origin, true // can't echo "*" with credentials
			}
			return "*", true
		}
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

// ApplyCORS computes and attaches Access-Control-* headers. For an OPTIONS
// preflight it returns a ready-made 204 response; for any other method it
// mutates resp in place and returns nil.
func ApplyCORS(method, origin string, policy *CORSPolicy, resp *Response) *Response {
	if policy == nil {
		return nil
	}
	if method == "OPTIONS" {
		out := NewResponse(204, "text/plain", nil)
		if allowed, ok := policy.allows(origin); ok {
			out.SetHeader("Access-Control-Allow-Origin", allowed)
			out.SetHeader("Access-Control-Allow-Methods", strings.Join(policy.AllowedMethods, ", "))
			out.SetHeader("Access-Control-Allow-Headers", strings.Join(policy.AllowedHeaders, ", "))
			if policy.AllowCredentials {
				out.SetHeader("Access-Control-Allow-Credentials", "true")
			}
		}
		return out
	}
	if origin == "" {
		return nil
	}
	if allowed, ok := policy.allows(origin); ok {
		resp.SetHeader("Access-Control-Allow-Origin", allowed)
		if policy.AllowCredentials {
			resp.SetHeader("Access-Control-Allow-Credentials", "true")
		}
	}
	return nil
}
