package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
)

const maxRoomNameLen = 100

// roomStore is the durable side of the room API.
type roomStore interface {
	createRoom(ctx context.Context, name string) (Room, error)
	fetchRoom(ctx context.Context, key string) (Room, error)
	fetchAllRooms(ctx context.Context) ([]Room, error)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type roomResponse struct {
	Room
	Users []string `json:"users"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type roomAPI struct {
	store roomStore
	hub   *Hub
	log   *slog.Logger
}

func (a *roomAPI) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if json.NewDecoder(r.Body).Decode(&req) != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{"Invalid JSON"})
		return
	}
	name := strings.TrimSpace(req.Name)
	// Keys that parse as a UUID are looked up by id, so such names are unreachable.
	_, uuidErr := uuid.FromString(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLen || uuidErr == nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{"Invalid room name"})
		return
	}

	room, err := a.store.createRoom(r.Context(), name)
	switch {
	case errors.Is(err, errRoomExists):
		writeJSON(w, http.StatusConflict, messageResponse{"Room already exists"})
		return
	case err != nil:
		a.log.Error("room.create", "name", name, "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{"Failed to create room"})
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *roomAPI) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := a.store.fetchRoom(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, errRoomNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{"Room not found"})
		return
	case err != nil:
		a.log.Error("room.fetch", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{"Failed to fetch room"})
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: room, Users: a.hub.roster(room.ID.String())})
}

func (a *roomAPI) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.store.fetchAllRooms(r.Context())
	if err != nil {
		a.log.Error("room.list", "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{"Failed to list rooms"})
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
