package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
)

type memStore struct {
	mu     sync.Mutex
	nextID uint64
	msgs   map[uint64]chat.Message
	rooms  map[uint64]bool
	fail   error
	calls  int
}

func newMemStore(rooms ...uint64) *memStore {
	st := &memStore{msgs: map[uint64]chat.Message{}, rooms: map[uint64]bool{}}
	for _, r := range rooms {
		st.rooms[r] = true
	}
	return st
}

func (m *memStore) CreateMessage(_ context.Context, roomID, userID uint64, content string) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return nil, m.fail
	}
	if !m.rooms[roomID] {
		return nil, chat.ErrRoomNotFound
	}
	m.nextID++
	msg := chat.Message{ID: m.nextID, RoomID: roomID, UserID: userID, Content: content, CreatedAt: time.Now()}
	m.msgs[msg.ID] = msg
	return &msg, nil
}

func (m *memStore) GetMessage(_ context.Context, id uint64) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return &msg, nil
}

func (m *memStore) GetRoom(_ context.Context, id uint64) (*chat.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rooms[id] {
		return nil, chat.ErrRoomNotFound
	}
	return &chat.Room{ID: id}, nil
}

type staticNames map[uint64]string

func (n staticNames) Username(_ context.Context, id uint64) (string, error) {
	name, ok := n[id]
	if !ok {
		return "", chat.ErrUserNotFound
	}
	return name, nil
}

func newTestHub(store *memStore, buffer int) *Hub {
	reg := NewRegistry()
	router := NewRouter(store, staticNames{1: "U", 2: "V", 3: "W"}, reg)
	return NewHub(reg, router, store, buffer)
}

// activeSession returns an authenticated session for userID.
func activeSession(t *testing.T, h *Hub, userID uint64, username string) *Session {
	t.Helper()
	s := h.Connect()
	if err := h.Authenticate(context.Background(), s, auth.Identity{UserID: userID, Username: username}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return s
}

type frame struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id"`
	RoomID  string `json:"roomId"`
	UserID  uint64 `json:"userId"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// drain returns every deliverable frame queued on s.
func drain(t *testing.T, s *Session) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case o := <-s.Outbound():
			if !s.Deliverable(o) {
				continue
			}
			var f frame
			if err := json.Unmarshal(o.Data, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
