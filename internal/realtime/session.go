package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/suPer8Hu/roomchat/internal/auth"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outbound is one queued frame. RoomID is zero for frames that are not
// tied to a room (errors, pongs).
type Outbound struct {
	RoomID uint64
	Data   []byte
}

// Session is the server side of one connection. All state transitions and
// room-set changes happen under mu; the outbound queue is bounded and never
// blocks the caller.
type Session struct {
	id       string
	openedAt time.Time

	mu       sync.Mutex
	state    State
	identity auth.Identity
	rooms    map[uint64]struct{}
	reason   string

	send chan Outbound
	done chan struct{}

	releaseOnce sync.Once
}

func NewSession(id string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		id:       id,
		openedAt: time.Now(),
		state:    StateConnecting,
		rooms:    make(map[uint64]struct{}),
		send:     make(chan Outbound, buffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate binds id to the session. Only legal from Connecting.
func (s *Session) Authenticate(id auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("%w: authenticate in state %s", ErrIllegalState, s.state)
	}
	if id.UserID == 0 {
		return fmt.Errorf("%w: empty identity", auth.ErrInvalidToken)
	}
	s.identity = id
	s.state = StateAuthenticated
	return nil
}

// Rooms returns the joined room ids in ascending order.
func (s *Session) Rooms() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Session) IsMember(roomID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

func (s *Session) requireBound(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireBoundLocked(op)
}

func (s *Session) requireBoundLocked(op string) error {
	if s.state != StateAuthenticated && s.state != StateActive {
		return fmt.Errorf("%w: %s in state %s", ErrIllegalState, op, s.state)
	}
	return nil
}

func (s *Session) addRoom(roomID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireBoundLocked("join"); err != nil {
		return false, err
	}
	s.state = StateActive
	if _, ok := s.rooms[roomID]; ok {
		return false, nil
	}
	s.rooms[roomID] = struct{}{}
	return true, nil
}

func (s *Session) removeRoom(roomID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *Session) clearRooms() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	s.rooms = make(map[uint64]struct{})
	return out
}

// enqueue queues data without blocking. A full buffer closes the session so
// that no later frame can overtake the dropped one.
func (s *Session) enqueue(roomID uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if roomID != 0 {
		if _, ok := s.rooms[roomID]; !ok {
			return errNotMember
		}
	}
	select {
	case s.send <- Outbound{RoomID: roomID, Data: data}:
		return nil
	default:
		s.closeLocked("slow consumer")
		return ErrSlowConsumer
	}
}

// Send queues a frame that is not bound to a room.
func (s *Session) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.enqueue(0, data)
}

// Outbound is drained by the connection writer.
func (s *Session) Outbound() <-chan Outbound { return s.send }

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliverable reports whether a queued frame may still be written: room
// frames are dropped once the session has left that room.
func (s *Session) Deliverable(o Outbound) bool {
	if o.RoomID == 0 {
		return true
	}
	return s.IsMember(o.RoomID)
}

// close moves the session to Closed. It reports false if it already was.
func (s *Session) close(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(reason)
}

func (s *Session) closeLocked(reason string) bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.reason = reason
	close(s.done)
	return true
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
