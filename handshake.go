package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Close code for a username collision; 4000-4999 is the application range.
const closeUsernameTaken = 4409

type rejection struct {
	text   string // error envelope; empty means none is sent
	code   int
	reason string
	label  string
}

var rejections = []struct {
	err error
	rejection
}{
	{errInvalidJSON, rejection{errTextInvalidJSON, websocket.CloseInvalidFramePayloadData, "invalid data", "invalid_json"}},
	{errInvalidUsername, rejection{errTextInvalidUsername, websocket.ClosePolicyViolation, "invalid username", "invalid_username"}},
	{errDuplicateUsername, rejection{errTextUsernameTaken, closeUsernameTaken, "duplicate username", "duplicate_username"}},
	{errRoomFull, rejection{errTextRoomFull, websocket.CloseTryAgainLater, "room full", "room_full"}},
	{errHubClosed, rejection{"", websocket.CloseGoingAway, "server shutdown", "shutdown"}},
}

func rejectionFor(err error) (rejection, bool) {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r.rejection, true
		}
	}
	return rejection{}, false
}

// parseHandshake extracts the username from the first frame.
func parseHandshake(raw []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return "", errInvalidJSON
	}
	rawName, ok := fields["username"]
	if !ok {
		return "", errInvalidUsername
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil || !validUsername(name) {
		return "", errInvalidUsername
	}
	return name, nil
}

// handshake reads the first frame from a freshly upgraded connection and
// admits it into roomID. The room's existence has already been checked. On
// failure the connection is closed and nil is returned.
func (h *Hub) handshake(conn *websocket.Conn, roomID string) *Client {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.log.Debug("handshake.read", "room_id", roomID, "err", err)
		conn.Close()
		return nil
	}

	c := newClient(h, conn)
	username, err := parseHandshake(raw)
	if err == nil {
		_, err = h.admit(roomID, username, c)
	}
	if err != nil {
		h.reject(conn, roomID, username, err)
		return nil
	}

	h.log.Info("client.joined", "room_id", roomID, "username", username, "conn_id", c.id)
	return c
}

// reject answers a failed handshake with an error envelope and a close frame.
// No pumps run yet, so writing directly on conn is safe.
func (h *Hub) reject(conn *websocket.Conn, roomID, username string, err error) {
	defer conn.Close()

	r, ok := rejectionFor(err)
	if !ok {
		h.log.Error("handshake.admit", "room_id", roomID, "username", username, "err", err)
		r = rejection{code: websocket.CloseInternalServerErr, reason: "internal error", label: "internal"}
	}
	h.metrics.rejections.WithLabelValues(r.label).Inc()
	h.log.Info("handshake.rejected", "room_id", roomID, "username", username, "reason", r.reason)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if r.text != "" {
		if err := conn.WriteMessage(websocket.TextMessage, encode(errorEnvelope(r.text))); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(r.code, r.reason))
}
