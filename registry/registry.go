// Package registry tracks every live connection: its protocol type tag,
// raw socket handle, inbound buffer, user-data map, and lifecycle
// timestamps. The event loop owns every Client exclusively on its own
// goroutine, so the registry is a plain map with no locking.
package registry

import (
	"time"

	"github.com/xentixar/sockeon-go/api"
)

// ConnType is the protocol a connection has been classified as.
type ConnType int

const (
	Unknown ConnType = iota
	HTTP
	WS
)

func (t ConnType) String() string {
	switch t {
	case HTTP:
		return "http"
	case WS:
		return "ws"
	default:
		return "unknown"
	}
}

// Client holds all per-connection state the event loop threads through
// the rest of the pipeline.
type Client struct {
	ID         int64
	Type       ConnType
	Conn       api.NetConn
	Data       api.Context
	RemoteIP   string
	CreatedAt  time.Time
	LastUsedAt time.Time

	// Inbound holds bytes read but not yet consumed into complete
	// frames/requests. Outbound buffering lives with the event loop's
	// write queues, not here.
	Inbound []byte

	// HandshakeDone marks whether the WS upgrade has completed.
	HandshakeDone bool
	// UnansweredPings counts consecutive idle-pings sent without a pong
	// reply; LastPingAt is when the most recent one went out.
	UnansweredPings int
	LastPingAt      time.Time
}

// Touch refreshes the last-used timestamp, called whenever bytes are read
// from the client.
func (c *Client) Touch(now time.Time) {
	c.LastUsedAt = now
}

// Registry tracks every live Client by ID.
type Registry struct {
	clients map[int64]*Client
	nextID  int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[int64]*Client)}
}

// Create registers a freshly accepted connection as Unknown and returns
// its new Client, tagged with a monotonically increasing ID. A counter is
// stable within the process; raw fd numbers are not, since the OS reuses
// them across accepts.
func (r *Registry) Create(conn api.NetConn, remoteIP string, now time.Time) *Client {
	r.nextID++
	c := &Client{
		ID:         r.nextID,
		Type:       Unknown,
		Conn:       conn,
		Data:       api.NewContext(),
		RemoteIP:   remoteIP,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	r.clients[c.ID] = c
	return c
}

// Get fetches a Client by ID.
func (r *Registry) Get(id int64) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Delete removes a Client from the registry. Idempotent.
func (r *Registry) Delete(id int64) {
	delete(r.clients, id)
}

// Range visits every live client. Mutating the registry from fn is not
// supported.
func (r *Registry) Range(fn func(*Client)) {
	for _, c := range r.clients {
		fn(c)
	}
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	return len(r.clients)
}

// WSClients returns every client currently tagged WS, used by the
// broadcast dispatcher when neither a namespace nor a room narrows the
// target set.
func (r *Registry) WSClients() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Type == WS {
			out = append(out, c)
		}
	}
	return out
}
