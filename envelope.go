package main

import (
	"encoding/json"
	"fmt"
)

// Envelope kinds.
const (
	kindChat      = "chat"
	kindOffer     = "offer"
	kindAnswer    = "answer"
	kindCandidate = "candidate"
	kindSystem    = "system"
	kindUsers     = "users"
	kindError     = "error"
)

const systemUsername = "System"

// Client-visible error texts.
const (
	errTextInvalidJSON     = "Invalid JSON"
	errTextInvalidUsername = "Invalid username"
	errTextUsernameTaken   = "Username already in use"
	errTextRoomFull        = "Room is full"
	errTextMissingMessage  = "Missing message field"
	errTextMissingTarget   = "Missing target field"
	errTextUnknownType     = "Unknown message type"
)

// invalidFieldText reports a field present with the wrong JSON type.
func invalidFieldText(field string) string { return fmt.Sprintf("Invalid %s field", field) }

// Envelope is the server to client frame. Signaling fields are carried as raw
// JSON so they reach the peer exactly as the sender wrote them. Message is a
// pointer so chat and system frames keep an empty text on the wire.
type Envelope struct {
	Type          string          `json:"type"`
	Message       *string         `json:"message,omitempty"`
	Username      string          `json:"username,omitempty"`
	Users         []string        `json:"users,omitempty"`
	Error         string          `json:"error,omitempty"`
	SDP           json.RawMessage `json:"sdp,omitempty"`
	Candidate     json.RawMessage `json:"candidate,omitempty"`
	SDPMid        json.RawMessage `json:"sdpMid,omitempty"`
	SDPMLineIndex json.RawMessage `json:"sdpMLineIndex,omitempty"`
}

// frame is a client to server message after the handshake.
type frame struct {
	Type          string          `json:"type"`
	Message       *string         `json:"message"`
	Target        string          `json:"target"`
	SDP           json.RawMessage `json:"sdp"`
	Candidate     json.RawMessage `json:"candidate"`
	SDPMid        json.RawMessage `json:"sdpMid"`
	SDPMLineIndex json.RawMessage `json:"sdpMLineIndex"`
}

func chatEnvelope(from, text string) Envelope {
	return Envelope{Type: kindChat, Message: &text, Username: from}
}

func systemEnvelope(text string) Envelope {
	return Envelope{Type: kindSystem, Message: &text, Username: systemUsername}
}

func usersEnvelope(users []string) Envelope {
	return Envelope{Type: kindUsers, Users: users}
}

func errorEnvelope(text string) Envelope {
	return Envelope{Type: kindError, Error: text}
}

func signalEnvelope(from string, f frame) Envelope {
	return Envelope{
		Type:          f.Type,
		Username:      from,
		SDP:           f.SDP,
		Candidate:     f.Candidate,
		SDPMid:        f.SDPMid,
		SDPMLineIndex: f.SDPMLineIndex,
	}
}

func joinedText(username string) string { return fmt.Sprintf("%s joined the chat", username) }
func leftText(username string) string   { return fmt.Sprintf("%s left the chat", username) }

// encode marshals an envelope. Envelope only holds strings and raw JSON taken
// from a successful decode, so a failure here is a programming error.
func encode(e Envelope) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("encode envelope: %v", err))
	}
	return b
}
