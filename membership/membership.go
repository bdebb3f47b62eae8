// Package membership tracks which namespace each client belongs to and
// which rooms it has joined within that namespace, with the reverse
// indices broadcasting needs. All mutation happens on the event loop
// goroutine, so the store is plain maps without locking.
package membership

// ClientID identifies a connection, stable within the process.
type ClientID int64

const Root = "/"

// Store tracks namespace and room membership for every connected client.
type Store struct {
	clientNamespace map[ClientID]string
	namespaces      map[string]map[ClientID]struct{}
	clientRooms     map[ClientID]map[string]struct{}
	rooms           map[string]map[string]map[ClientID]struct{} // ns -> room -> clients
}

// New returns an empty Store with the root namespace pre-created.
func New() *Store {
	s := &Store{
		clientNamespace: make(map[ClientID]string),
		namespaces:      make(map[string]map[ClientID]struct{}),
		clientRooms:     make(map[ClientID]map[string]struct{}),
		rooms:           make(map[string]map[string]map[ClientID]struct{}),
	}
	s.namespaces[Root] = make(map[ClientID]struct{})
	return s
}

// Canonicalize ensures a namespace path starts with "/".
func Canonicalize(ns string) string {
	if ns == "" {
		return Root
	}
	if ns[0] != '/' {
		return "/" + ns
	}
	return ns
}

// JoinNamespace moves a client into ns, implicitly removing it from any
// previous namespace and from all of its rooms.
func (s *Store) JoinNamespace(client ClientID, ns string) {
	ns = Canonicalize(ns)
	s.LeaveAllRooms(client)
	if prev, ok := s.clientNamespace[client]; ok {
		if set := s.namespaces[prev]; set != nil {
			delete(set, client)
		}
	}
	if s.namespaces[ns] == nil {
		s.namespaces[ns] = make(map[ClientID]struct{})
	}
	s.namespaces[ns][client] = struct{}{}
	s.clientNamespace[client] = ns
}

// LeaveNamespace removes a client from its namespace entirely, also
// dropping every room membership: a client cannot belong to a room
// outside its namespace.
func (s *Store) LeaveNamespace(client ClientID) {
	s.LeaveAllRooms(client)
	if ns, ok := s.clientNamespace[client]; ok {
		if set := s.namespaces[ns]; set != nil {
			delete(set, client)
		}
		delete(s.clientNamespace, client)
	}
}

// Namespace returns the namespace a client currently belongs to.
func (s *Store) Namespace(client ClientID) (string, bool) {
	ns, ok := s.clientNamespace[client]
	return ns, ok
}

// JoinRoom adds client to room r within namespace ns. The client must
// already belong to ns; joining a room in a namespace the client is not
// in is a no-op.
func (s *Store) JoinRoom(client ClientID, ns, r string) {
	ns = Canonicalize(ns)
	if cur, ok := s.clientNamespace[client]; !ok || cur != ns {
		return
	}
	if s.rooms[ns] == nil {
		s.rooms[ns] = make(map[string]map[ClientID]struct{})
	}
	if s.rooms[ns][r] == nil {
		s.rooms[ns][r] = make(map[ClientID]struct{})
	}
	s.rooms[ns][r][client] = struct{}{}

	if s.clientRooms[client] == nil {
		s.clientRooms[client] = make(map[string]struct{})
	}
	s.clientRooms[client][r] = struct{}{}
}

// LeaveRoom removes client from room r in ns without affecting namespace
// membership.
func (s *Store) LeaveRoom(client ClientID, ns, r string) {
	ns = Canonicalize(ns)
	if set := s.rooms[ns]; set != nil {
		if members := set[r]; members != nil {
			delete(members, client)
			if len(members) == 0 {
				delete(set, r)
			}
		}
	}
	if rs := s.clientRooms[client]; rs != nil {
		delete(rs, r)
		if len(rs) == 0 {
			delete(s.clientRooms, client)
		}
	}
}

// LeaveAllRooms removes a client from every room it belongs to, in any
// namespace, leaving namespace membership untouched.
func (s *Store) LeaveAllRooms(client ClientID) {
	ns, hasNS := s.clientNamespace[client]
	rooms := s.clientRooms[client]
	if hasNS {
		for r := range rooms {
			if set := s.rooms[ns]; set != nil {
				if members := set[r]; members != nil {
					delete(members, client)
					if len(members) == 0 {
						delete(set, r)
					}
				}
			}
		}
	}
	delete(s.clientRooms, client)
}

// Cleanup removes every trace of a disconnected client. Idempotent.
func (s *Store) Cleanup(client ClientID) {
	s.LeaveNamespace(client)
}

// ClientsInNamespace returns every client currently in ns.
func (s *Store) ClientsInNamespace(ns string) []ClientID {
	ns = Canonicalize(ns)
	set := s.namespaces[ns]
	out := make([]ClientID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ClientsInRoom returns every client currently in room r within ns.
func (s *Store) ClientsInRoom(ns, r string) []ClientID {
	ns = Canonicalize(ns)
	members := s.rooms[ns][r]
	out := make([]ClientID, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// ClientRooms returns the set of room names a client belongs to.
func (s *Store) ClientRooms(client ClientID) []string {
	rooms := s.clientRooms[client]
	out := make([]string, 0, len(rooms))
	for r := range rooms {
		out = append(out, r)
	}
	return out
}
