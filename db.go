package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const roomCreatedChannel = "room_created"

var errRoomExists = errors.New("room already exists")

type Room struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// roomEvent is the pg_notify payload sent when a room is created.
type roomEvent struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ------------ pool ------------

func openDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	dbconf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	dbconf.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbconf)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// roomDB is the durable room registry.
type roomDB struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// ------------ rooms ------------

func (d *roomDB) createRoom(ctx context.Context, name string) (Room, error) {
	uid, err := uuid.NewV4()
	if err != nil {
		return Room{}, err
	}
	room := Room{ID: uid, Name: name}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (id, name) VALUES ($1, $2) RETURNING created_at`,
		room.ID, room.Name).Scan(&room.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Room{}, errRoomExists
		}
		return Room{}, fmt.Errorf("insert room: %w", err)
	}

	payload, _ := json.Marshal(roomEvent{ID: room.ID, Name: room.Name})
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, roomCreatedChannel, string(payload)); err != nil {
		return Room{}, fmt.Errorf("notify: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, err
	}
	d.log.Info("room.created", "room_id", room.ID, "name", room.Name)
	return room, nil
}

// fetchRoom finds a room by id, or by name when key is not a UUID.
func (d *roomDB) fetchRoom(ctx context.Context, key string) (Room, error) {
	var r Room
	var row pgx.Row
	if id, err := uuid.FromString(key); err == nil {
		row = d.pool.QueryRow(ctx, `SELECT id, name, created_at FROM rooms WHERE id = $1`, id)
	} else {
		row = d.pool.QueryRow(ctx, `SELECT id, name, created_at FROM rooms WHERE name = $1`, key)
	}
	if err := row.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, errRoomNotFound
		}
		return Room{}, err
	}
	return r, nil
}

func (d *roomDB) fetchAllRooms(ctx context.Context) ([]Room, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, name, created_at FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// Lookup implements RoomRegistry.
func (d *roomDB) Lookup(ctx context.Context, key string) (Room, bool, error) {
	r, err := d.fetchRoom(ctx, key)
	switch {
	case errors.Is(err, errRoomNotFound):
		return Room{}, false, nil
	case err != nil:
		return Room{}, false, err
	}
	return r, true, nil
}
