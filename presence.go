package main

import (
	"github.com/gofrs/uuid/v5"
)

// broadcast sends e to every current member of roomID except the connection
// `except`. Members are snapshotted first; sends happen without the room lock.
func (h *Hub) broadcast(roomID string, e Envelope, except uuid.UUID) {
	msg := encode(e)
	for _, m := range h.snapshotMembers(roomID) {
		if m.connID == except {
			continue
		}
		m.client.enqueue(msg)
	}
}

// announceJoin tells the others that c arrived, then sends the roster to
// everyone including c. Each recipient gets the notice before the roster.
// Announcements are enqueued under the room lock, so the last roster any
// member receives matches the room's membership.
func (h *Hub) announceJoin(c *Client) {
	notice := encode(systemEnvelope(joinedText(c.username)))
	h.withMembers(c.room, func(members []member) {
		if !hasMember(members, c.id) {
			// c already left; its leave carried the current roster.
			return
		}
		roster := encode(usersEnvelope(usernames(members)))
		for _, m := range members {
			if m.connID != c.id {
				m.client.enqueue(notice)
			}
			m.client.enqueue(roster)
		}
	})
}

// announceLeave notifies the members still in c's room after c was removed.
func (h *Hub) announceLeave(c *Client) {
	notice := encode(systemEnvelope(leftText(c.username)))
	h.withMembers(c.room, func(members []member) {
		if len(members) == 0 {
			return
		}
		roster := encode(usersEnvelope(usernames(members)))
		for _, m := range members {
			m.client.enqueue(notice)
			m.client.enqueue(roster)
		}
	})
}

func hasMember(members []member, connID uuid.UUID) bool {
	for _, m := range members {
		if m.connID == connID {
			return true
		}
	}
	return false
}
