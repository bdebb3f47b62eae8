package server

import (
	"fmt"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/broadcast"
	"github.com/xentixar/sockeon-go/membership"
	"github.com/xentixar/sockeon-go/protocol"
	"github.com/xentixar/sockeon-go/registry"
)

// The Server itself is the handle passed to handlers and middleware.
var _ api.ServerHandle = (*Server)(nil)

// Emit sends one {event, data} message to a single WebSocket client.
func (s *Server) Emit(clientID int64, event string, data any) error {
	c, ok := s.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("server: no client %d", clientID)
	}
	if c.Type != registry.WS || !c.HandshakeDone {
		return fmt.Errorf("server: client %d is not an established websocket", clientID)
	}
	payload, err := broadcast.EncodeMessage(event, data)
	if err != nil {
		return err
	}
	if err := s.writeToClient(c, protocol.EncodeFrame(protocol.OpText, payload, true)); err != nil {
		s.DropClient(clientID, err)
		return err
	}
	return nil
}

// Broadcast fans {event, data} out to the selected namespace/room.
func (s *Server) Broadcast(event string, data any, namespace, room string) {
	s.dispatcher.Broadcast(event, data, namespace, room)
}

// JoinNamespace moves a client between namespaces.
func (s *Server) JoinNamespace(clientID int64, namespace string) {
	s.members.JoinNamespace(membership.ClientID(clientID), namespace)
}

// JoinRoom adds a client to a room within its namespace.
func (s *Server) JoinRoom(clientID int64, namespace, room string) {
	s.members.JoinRoom(membership.ClientID(clientID), namespace, room)
}

// LeaveRoom removes a client from a room.
func (s *Server) LeaveRoom(clientID int64, namespace, room string) {
	s.members.LeaveRoom(membership.ClientID(clientID), namespace, room)
}

// ClientData exposes a client's user-data map.
func (s *Server) ClientData(clientID int64) (api.Context, bool) {
	c, ok := s.clients.Get(clientID)
	if !ok {
		return nil, false
	}
	return c.Data, true
}

// Disconnect tears a client down with a normal close.
func (s *Server) Disconnect(clientID int64) {
	s.disconnectClient(clientID, true, protocol.CloseNormal)
}
