package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingInitialBackoff = 250 * time.Millisecond
	pingMaxBackoff     = 5 * time.Second
)

// Open connects to Postgres and waits for it to answer. The database often
// starts alongside the API, so pings are retried with backoff until ctx
// ends.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := waitForDB(ctx, db, pingInitialBackoff); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func waitForDB(ctx context.Context, db pinger, backoff time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ping db after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
		backoff = min(backoff*2, pingMaxBackoff)
	}
}
