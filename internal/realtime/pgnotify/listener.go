// Package pgnotify turns the row_changes notifications emitted by the
// database triggers into a realtime change feed.
package pgnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/realtime"
)

// Channel is the notification channel the triggers publish on.
const Channel = "row_changes"

// Listener is a realtime.ChangeFeed fed by Postgres LISTEN. Subscribers are
// served from an in-process bus; Run pumps notifications into it.
type Listener struct {
	*realtime.Bus
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		Bus:  realtime.NewBus(logger),
		pool: pool,
		log:  logger,
	}
}

// Run holds one pool connection in LISTEN mode until ctx is done or the
// connection fails.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listening on %s: %w", Channel, err)
	}
	l.log.Info("listening for row changes", "channel", Channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		c, err := Decode([]byte(n.Payload))
		if err != nil {
			l.log.Warn("dropping malformed row change", "error", err)
			continue
		}
		l.Publish(c)
	}
}

var jsonNull = []byte("null")

// Decode parses a trigger payload. JSON null records are treated as absent.
func Decode(payload []byte) (realtime.Change, error) {
	var c realtime.Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return realtime.Change{}, fmt.Errorf("decoding row change: %w", err)
	}
	if c.Table == "" || c.Type == "" {
		return realtime.Change{}, fmt.Errorf("row change without table or type")
	}
	if bytes.Equal(c.Record, jsonNull) {
		c.Record = nil
	}
	if bytes.Equal(c.OldRecord, jsonNull) {
		c.OldRecord = nil
	}
	return c, nil
}
