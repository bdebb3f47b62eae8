package api

// ServerHandle is the non-owning view of the server passed to handlers and
// middleware. The server owns the router, registry, and membership store;
// everything else calls back through this interface, which keeps the
// object graph acyclic.
type ServerHandle interface {
	// Emit sends one {event, data} message to a single client.
	Emit(clientID int64, event string, data any) error
	// Broadcast sends one {event, data} message to every client matching
	// the namespace/room selector. Empty namespace means all WS clients.
	Broadcast(event string, data any, namespace, room string)
	// JoinNamespace moves a client between namespaces.
	JoinNamespace(clientID int64, namespace string)
	// JoinRoom / LeaveRoom manage room membership inside the client's
	// current namespace.
	JoinRoom(clientID int64, namespace, room string)
	LeaveRoom(clientID int64, namespace, room string)
	// ClientData exposes a client's user-data map.
	ClientData(clientID int64) (Context, bool)
	// Disconnect tears a client down immediately.
	Disconnect(clientID int64)
}
