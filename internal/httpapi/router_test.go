package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/config"
	"github.com/suPer8Hu/roomchat/internal/db"
	"github.com/suPer8Hu/roomchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomchat/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	engine *gin.Engine
	hub    *realtime.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := config.Config{
		JWTSecret: "test-secret",
		JWTTTL:    time.Hour,
		WS: config.WebSocketConfig{
			PingInterval:   time.Minute,
			PongWait:       2 * time.Minute,
			WriteWait:      time.Second,
			MaxMessageSize: 8192,
			SendBuffer:     64,
		},
		CORSAllowedOrigins: []string{"*"},
	}

	repo := chat.NewRepo(gdb)
	reg := realtime.NewRegistry()
	hub := realtime.NewHub(reg, realtime.NewRouter(repo, repo, reg), repo, cfg.WS.SendBuffer)
	h := handlers.NewHandler(gdb, cfg, chat.NewService(repo), hub, nil)
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	return &testEnv{engine: NewRouter(h), hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// signup registers and logs in a user, returning the bearer token.
func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	email := username + "@example.com"
	w := e.do(t, http.MethodPost, "/auth/register", "", gin.H{"username": username, "email": email, "password": "pw-" + username})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": "pw-" + username})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Token string `json:"token"`
		User  string `json:"user"`
	}](t, w)
	require.Equal(t, username, resp.User)
	return resp.Token
}

func (e *testEnv) createRoom(t *testing.T, token, name string) chat.Room {
	t.Helper()
	w := e.do(t, http.MethodPost, "/chat/rooms", token, gin.H{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[chat.Room](t, w)
}

func TestAuthEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "alice")

	w := e.do(t, http.MethodPost, "/auth/register", "", gin.H{"username": "other", "email": "alice@example.com", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate email")

	w = e.do(t, http.MethodPost, "/auth/register", "", gin.H{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing fields")

	w = e.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "alice@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "nobody@example.com", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/chat/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(t, http.MethodGet, "/chat/rooms", "garbage", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoomsAndValidation(t *testing.T) {
	e := newTestEnv(t)
	tok := e.signup(t, "bob")

	w := e.do(t, http.MethodGet, "/chat/rooms", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	room := e.createRoom(t, tok, "general")
	w = e.do(t, http.MethodGet, "/chat/rooms", tok, nil)
	rooms := decode[[]chat.Room](t, w)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)

	w = e.do(t, http.MethodPost, "/chat/rooms", tok, gin.H{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := fmt.Sprintf("/chat/rooms/%d/messages", room.ID)
	w = e.do(t, http.MethodPost, path, tok, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/chat/rooms/999/messages", tok, gin.H{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/chat/rooms/999/messages", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/chat/rooms/abc/messages", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/chat/rooms/%d/activity", room.ID), tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type historyResp struct {
	Messages []chat.MessageView `json:"messages"`
	Total    int64              `json:"total"`
	HasMore  bool               `json:"hasMore"`
}

func TestHistoryPagination(t *testing.T) {
	e := newTestEnv(t)
	tok := e.signup(t, "carol")
	room := e.createRoom(t, tok, "seven")
	path := fmt.Sprintf("/chat/rooms/%d/messages", room.ID)

	for i := 0; i < 25; i++ {
		w := e.do(t, http.MethodPost, path, tok, gin.H{"content": fmt.Sprintf("m%02d", i)})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	p1 := decode[historyResp](t, e.do(t, http.MethodGet, path+"?page=1&limit=20", tok, nil))
	require.Len(t, p1.Messages, 20)
	assert.Equal(t, int64(25), p1.Total)
	assert.True(t, p1.HasMore)
	assert.Equal(t, "m05", p1.Messages[0].Content)
	assert.Equal(t, "m24", p1.Messages[19].Content)
	for i := 1; i < len(p1.Messages); i++ {
		assert.Less(t, p1.Messages[i-1].ID, p1.Messages[i].ID)
		assert.False(t, p1.Messages[i].Timestamp.Before(p1.Messages[i-1].Timestamp))
	}
	assert.Equal(t, "carol", p1.Messages[0].Sender)

	p2 := decode[historyResp](t, e.do(t, http.MethodGet, path+"?page=2&limit=20", tok, nil))
	require.Len(t, p2.Messages, 5)
	assert.False(t, p2.HasMore)
	assert.Equal(t, "m00", p2.Messages[0].Content)
	assert.Equal(t, "m04", p2.Messages[4].Content)
}

type wsFrame struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id"`
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Code    string `json:"code"`
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// roundTrip sends a ping and waits for the pong; frames are handled in order, so
// everything sent before has been applied.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	f := readFrame(t, conn)
	require.Equal(t, "pong", f.Type, "unexpected frame %+v", f)
}

func TestWebSocketHandshakeRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, e.hub.SessionCount())
}

// U joins the room over the socket; V posts over HTTP and then emits
// send_message with the returned message. U sees it exactly once.
func TestPostThenSocketTriggerDeliversOnce(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	tokU := e.signup(t, "U")
	tokV := e.signup(t, "V")
	room := e.createRoom(t, tokU, "seven")
	roomID := fmt.Sprint(room.ID)

	c1 := dialWS(t, srv, tokU)
	require.NoError(t, c1.WriteJSON(map[string]string{"type": "join_room", "roomId": roomID}))
	roundTrip(t, c1)

	w := e.do(t, http.MethodPost, "/chat/rooms/"+roomID+"/messages", tokV, gin.H{"content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	posted := decode[map[string]any](t, w)
	assert.Equal(t, roomID, posted["roomId"])

	cv := dialWS(t, srv, tokV)
	posted["type"] = "send_message"
	require.NoError(t, cv.WriteJSON(posted))
	roundTrip(t, cv)

	f := readFrame(t, c1)
	assert.Equal(t, "receive_message", f.Type)
	assert.Equal(t, "hi", f.Content)
	assert.Equal(t, roomID, f.RoomID)
	assert.Equal(t, "V", f.Sender)
	assert.Equal(t, uint64(posted["id"].(float64)), f.ID)

	// next frame must be the pong, not a second copy
	roundTrip(t, c1)
}

func TestSocketSendAndLeave(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	tokU := e.signup(t, "U")
	tokV := e.signup(t, "V")
	room := e.createRoom(t, tokU, "lobby")
	roomID := fmt.Sprint(room.ID)

	cu := dialWS(t, srv, tokU)
	cv := dialWS(t, srv, tokV)
	for _, c := range []*websocket.Conn{cu, cv} {
		require.NoError(t, c.WriteJSON(map[string]any{"type": "join_room", "roomId": room.ID}))
		roundTrip(t, c)
	}

	require.NoError(t, cv.WriteJSON(map[string]string{"type": "send_message", "roomId": roomID, "content": "one"}))
	for _, c := range []*websocket.Conn{cu, cv} {
		f := readFrame(t, c)
		assert.Equal(t, "one", f.Content)
		assert.Equal(t, "V", f.Sender)
	}

	require.NoError(t, cu.WriteJSON(map[string]string{"type": "leave_room", "roomId": roomID}))
	roundTrip(t, cu)

	require.NoError(t, cv.WriteJSON(map[string]string{"type": "send_message", "roomId": roomID, "content": "two"}))
	f := readFrame(t, cv)
	assert.Equal(t, "two", f.Content)
	roundTrip(t, cu)

	require.NoError(t, cu.WriteJSON(map[string]string{"type": "join_room", "roomId": "999"}))
	f = readFrame(t, cu)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, realtime.CodeNotFound, f.Code)

	// history still has both
	h := decode[historyResp](t, e.do(t, http.MethodGet, "/chat/rooms/"+roomID+"/messages", tokU, nil))
	require.Len(t, h.Messages, 2)
}

func TestDisconnectRemovesMembership(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	tok := e.signup(t, "U")
	room := e.createRoom(t, tok, "r")

	c := dialWS(t, srv, tok)
	require.NoError(t, c.WriteJSON(map[string]any{"type": "join_room", "roomId": room.ID}))
	roundTrip(t, c)
	require.Len(t, e.hub.Registry().MembersOf(room.ID), 1)

	require.NoError(t, c.Close())
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(e.hub.Registry().MembersOf(room.ID)) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, e.hub.Registry().MembersOf(room.ID))

	w := e.do(t, http.MethodPost, fmt.Sprintf("/chat/rooms/%d/messages", room.ID), tok, gin.H{"content": "anyone?"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestPingAndNoRoute(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodDelete, "/chat/rooms", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
