// Package broadcast resolves a (namespace, room) selector to a set of
// target clients and emits one pre-encoded text frame to each of them.
// Per-socket write failures disconnect that client only; the broadcast
// continues to the rest.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/membership"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/registry"
)

// Message is the application framing carried in every text frame.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EncodeMessage serializes one {event, data} object.
func EncodeMessage(event string, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

// Sink is the write path the dispatcher hands encoded frames to. The event
// loop implements it with its buffered per-client write queues.
type Sink interface {
	// SendFrame queues one encoded frame for a client.
	SendFrame(c *registry.Client, frame []byte) error
	// DropClient disconnects a client after a write failure.
	DropClient(id int64, cause error)
}

// Dispatcher owns target resolution and emission.
type Dispatcher struct {
	members *membership.Store
	clients *registry.Registry
	pool    api.BufferPool
	sink    Sink
	log     logging.Logger
}

// New wires a Dispatcher to the membership store, client registry, and the
// event loop's write sink.
func New(members *membership.Store, clients *registry.Registry, pool api.BufferPool, sink Sink, log logging.Logger) *Dispatcher {
	return &Dispatcher{members: members, clients: clients, pool: pool, sink: sink, log: log}
}

// Broadcast emits {event, data} to every client selected by namespace and
// room. Both set: that room's members. Namespace only: the whole
// namespace. Neither: every WebSocket client.
func (d *Dispatcher) Broadcast(event string, data any, namespace, room string) {
	payload, err := EncodeMessage(event, data)
	if err != nil {
		logging.LogError(d.log, api.NewError(api.ErrCodeHandler, api.PhaseBroadcast, "unencodable broadcast payload").
			WithCause(err).WithContext("event", event))
		return
	}

	targets := d.resolve(namespace, room)
	if len(targets) == 0 {
		return
	}

	// One encode, many writes.
	frame := protocol.EncodeFrameInto(d.pool, protocol.OpText, payload, true)
	defer frame.Release()

	for _, c := range targets {
		if c.Type != registry.WS || !c.HandshakeDone {
			continue
		}
		if err := d.sink.SendFrame(c, frame.Bytes()); err != nil {
			logging.LogError(d.log, api.NewError(api.ErrCodeResource, api.PhaseBroadcast, "broadcast write failed").
				WithClient(c.ID).WithCause(err).WithContext("event", event))
			d.sink.DropClient(c.ID, fmt.Errorf("broadcast write: %w", err))
		}
	}
}

func (d *Dispatcher) resolve(namespace, room string) []*registry.Client {
	var ids []membership.ClientID
	switch {
	case namespace != "" && room != "":
		ids = d.members.ClientsInRoom(namespace, room)
	case namespace != "":
		ids = d.members.ClientsInNamespace(namespace)
	default:
		return d.clients.WSClients()
	}

	out := make([]*registry.Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := d.clients.Get(int64(id)); ok {
			out = append(out, c)
		}
	}
	return out
}
