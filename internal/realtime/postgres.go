package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource listens for NOTIFY payloads raised by the messages insert
// trigger. Run hijacks its connection from the pool and closes it on return,
// so no pooled connection is left LISTENing.
type PostgresSource struct {
	pool    *pgxpool.Pool
	channel string
}

var _ Source = (*PostgresSource)(nil)

func NewPostgresSource(pool *pgxpool.Pool, channel string) *PostgresSource {
	return &PostgresSource{pool: pool, channel: channel}
}

func (s *PostgresSource) Run(ctx context.Context, dispatch func(MessageInserted)) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	log.Printf("realtime: listening on postgres channel %s", s.channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		event, err := decodeEvent([]byte(notification.Payload))
		if err != nil {
			log.Printf("realtime: skipping notification %q: %v", notification.Payload, err)
			continue
		}
		dispatch(event)
	}
}
