package realtime

import "sync"

// Registry maps room ids to the sessions joined to them. Membership is kept
// on both sides: here for fan-out, on the Session for delivery filtering and
// bulk leave. Lock order is registry then session.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uint64]map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[uint64]map[*Session]struct{})}
}

// Join adds s to roomID. Joining twice is a no-op; the bool reports whether
// membership changed.
func (r *Registry) Join(s *Session, roomID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added, err := s.addRoom(roomID)
	if err != nil {
		return false, err
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[roomID] = members
	}
	members[s] = struct{}{}
	return added, nil
}

// Leave removes s from roomID. Removing a non-member is a no-op.
func (r *Registry) Leave(s *Session, roomID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.removeRoom(roomID)
	return r.removeLocked(s, roomID)
}

// LeaveAll removes s from every room it joined and returns those rooms.
func (r *Registry) LeaveAll(s *Session) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := s.clearRooms()
	for _, id := range rooms {
		r.removeLocked(s, id)
	}
	return rooms
}

func (r *Registry) removeLocked(s *Session, roomID uint64) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[s]; !ok {
		return false
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// MembersOf returns a point-in-time copy of the room's sessions.
func (r *Registry) MembersOf(roomID uint64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
