package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, capacity int) *Hub {
	t.Helper()
	return newHub(capacity, testLogger(), newHubMetrics(prometheus.NewRegistry()))
}

// addClient admits a transport-less client; its outbound frames stay in send.
func addClient(t *testing.T, h *Hub, roomID, username string) *Client {
	t.Helper()
	c := newClient(h, nil)
	_, err := h.admit(roomID, username, c)
	require.NoError(t, err)
	return c
}

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var e Envelope
			if err := json.Unmarshal(raw, &e); err == nil {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

// memRooms is an in-memory roomStore and RoomRegistry.
type memRooms struct {
	mu    sync.Mutex
	rooms []Room
	err   error
}

func newMemRooms(names ...string) *memRooms {
	m := &memRooms{}
	for _, n := range names {
		m.createRoom(context.Background(), n)
	}
	return m
}

func (m *memRooms) createRoom(_ context.Context, name string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Room{}, m.err
	}
	for _, r := range m.rooms {
		if r.Name == name {
			return Room{}, errRoomExists
		}
	}
	r := Room{ID: uuid.Must(uuid.NewV4()), Name: name, CreatedAt: time.Now().UTC()}
	m.rooms = append(m.rooms, r)
	return r, nil
}

func (m *memRooms) fetchRoom(_ context.Context, key string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Room{}, m.err
	}
	for _, r := range m.rooms {
		if r.ID.String() == key || r.Name == key {
			return r, nil
		}
	}
	return Room{}, errRoomNotFound
}

func (m *memRooms) fetchAllRooms(context.Context) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]Room(nil), m.rooms...), nil
}

func (m *memRooms) Lookup(ctx context.Context, key string) (Room, bool, error) {
	r, err := m.fetchRoom(ctx, key)
	if err == errRoomNotFound {
		return Room{}, false, nil
	}
	return r, err == nil, err
}

type testEnv struct {
	srv     *httptest.Server
	hub     *Hub
	rooms   *memRooms
	metrics *prometheus.Registry
}

func newTestEnv(t *testing.T, capacity int, roomNames ...string) *testEnv {
	t.Helper()
	logger := testLogger()
	reg := prometheus.NewRegistry()
	hub := newHub(capacity, logger, newHubMetrics(reg))
	rooms := newMemRooms(roomNames...)

	cfg := defaultConfig()
	cfg.MaxUsersPerRoom = capacity
	srv := httptest.NewServer(newRouter(cfg, hub, rooms, rooms, reg, logger))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &testEnv{srv: srv, hub: hub, rooms: rooms, metrics: reg}
}

func (e *testEnv) wsURL(room string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/messages/" + room
}

// roomID is the hub key for a room name.
func (e *testEnv) roomID(t *testing.T, name string) string {
	t.Helper()
	r, err := e.rooms.fetchRoom(context.Background(), name)
	require.NoError(t, err)
	return r.ID.String()
}

func (e *testEnv) dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(room), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials room, sends the handshake and consumes the roster the joiner
// receives on success.
func (e *testEnv) join(t *testing.T, room, username string) (*websocket.Conn, []string) {
	t.Helper()
	conn := e.dial(t, room)
	require.NoError(t, conn.WriteJSON(map[string]string{"username": username}))
	env := readEnvelope(t, conn)
	require.Equal(t, kindUsers, env.Type, "expected roster, got %+v", env)
	return conn, env.Users
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return raw
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	var e Envelope
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &e))
	return e
}

// readClose reads until the server closes the connection and returns the
// close frame it sent.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close frame, got %v", err)
		return ce
	}
}

func leave(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	conn.Close()
}
