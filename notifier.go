package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// listenRoomEvents keeps the registry cache honest across instances: when any
// instance creates a room, cached misses for its id and name are evicted.
// It runs until ctx is cancelled, reconnecting after failures.
func listenRoomEvents(ctx context.Context, pool *pgxpool.Pool, cache *cachedRegistry, log *slog.Logger) {
	for ctx.Err() == nil {
		if err := listenOnce(ctx, pool, cache, log); err != nil && ctx.Err() == nil {
			log.Warn("notify.listen", "err", err, "retry_in", time.Second)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func listenOnce(ctx context.Context, pool *pgxpool.Pool, cache *cachedRegistry, log *slog.Logger) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+roomCreatedChannel); err != nil {
		return err
	}
	log.Info("notify.listening", "channel", roomCreatedChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev roomEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			log.Warn("notify.payload", "payload", notification.Payload, "err", err)
			continue
		}
		if err := cache.invalidate(ctx, ev.ID.String(), ev.Name); err != nil {
			log.Warn("notify.invalidate", "room_id", ev.ID, "err", err)
		}
	}
}
