// Package httpwire implements the HTTP/1.1 parser and responder:
// request-line/header/body parsing with buffering for incomplete requests,
// and response construction including the security-header and CORS
// defaults. It deliberately avoids net/http: the event loop owns raw bytes
// before a connection is known to be HTTP at all, so parsing has to start
// from a byte buffer, not an http.Server accept loop.
package httpwire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xentixar/sockeon-go/protocol"
)

// Request is a fully parsed HTTP/1.1 request.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Query    map[string][]string
	Protocol string
	Headers  map[string][]string // canonicalized keys
	Body     []byte

	// JSON holds the decoded body when Content-Type is application/json
	// and decoding succeeded.
	JSON any
	// Form holds the decoded body when Content-Type is
	// application/x-www-form-urlencoded.
	Form map[string][]string

	// Params holds named path-segment captures populated by the route
	// table once a parameterised route matches.
	Params map[string]string
}

// Header returns the first value of a header, case-insensitively.
func (r *Request) Header(name string) string {
	vals := r.Headers[protocol.CanonicalHeaderKey(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Param returns a captured path parameter by name.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// ErrIncomplete signals the buffer does not yet hold a full request; the
// caller should retain the bytes and wait for the next read.
var ErrIncomplete = fmt.Errorf("httpwire: incomplete request")

const headerTerminator = "\r\n\r\n"

// TryParse attempts to parse one HTTP/1.1 request from the front of buf. On
// success it returns the Request, the number of bytes consumed, and a nil
// error. If buf does not yet contain a complete request it returns
// ErrIncomplete and the caller must retain buf unmodified for the next read.
func TryParse(buf []byte) (*Request, int, error) {
	idx := bytes.Index(buf, []byte(headerTerminator))
	if idx < 0 {
		return nil, 0, ErrIncomplete
	}
	headerBlock := buf[:idx]
	bodyStart := idx + len(headerTerminator)

	lines := strings.Split(string(headerBlock), "\r\n")
	if len(lines) == 0 {
		return nil, 0, fmt.Errorf("httpwire: empty request")
	}

	reqLine := strings.SplitN(lines[0], " ", 3)
	if len(reqLine) != 3 {
		return nil, 0, fmt.Errorf("httpwire: malformed request line %q", lines[0])
	}

	req := &Request{
		Method:   strings.ToUpper(reqLine[0]),
		Protocol: reqLine[2],
		Headers:  make(map[string][]string),
	}

	rawPath, rawQuery, _ := strings.Cut(reqLine[1], "?")
	req.Path = rawPath
	req.RawQuery = rawQuery
	req.Query = parseQuery(rawQuery)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := protocol.CanonicalHeaderKey(strings.TrimSpace(name))
		req.Headers[key] = append(req.Headers[key], strings.TrimSpace(value))
	}

	contentLength := 0
	if cl := req.Header("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("httpwire: invalid Content-Length %q", cl)
		}
		contentLength = n
	}

	if strings.Contains(strings.ToLower(req.Header("Transfer-Encoding")), "chunked") {
		return nil, 0, &ChunkedNotSupportedError{}
	}

	if len(buf)-bodyStart < contentLength {
		return nil, 0, ErrIncomplete
	}

	req.Body = append([]byte(nil), buf[bodyStart:bodyStart+contentLength]...)
	decodeBody(req)

	return req, bodyStart + contentLength, nil
}

// ChunkedNotSupportedError signals a chunked request body, which this
// parser does not support; callers answer it with 411.
type ChunkedNotSupportedError struct{}

func (*ChunkedNotSupportedError) Error() string {
	return "httpwire: chunked transfer-encoding is not supported"
}

func decodeBody(req *Request) {
	if len(req.Body) == 0 {
		return
	}
	ct := strings.ToLower(req.Header("Content-Type"))
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var v any
		if err := json.Unmarshal(req.Body, &v); err == nil {
			req.JSON = v
		}
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if values, err := url.ParseQuery(string(req.Body)); err == nil {
			req.Form = map[string][]string(values)
		}
	}
}

func parseQuery(raw string) map[string][]string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return map[string][]string{}
	}
	return map[string][]string(values)
}
