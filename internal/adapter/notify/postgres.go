package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

// PostgresTransport listens for the notifications sent by the
// notify_table_change trigger. Each connect opens a dedicated connection
// because LISTEN is bound to the session.
type PostgresTransport struct {
	connString string
	logger     zerolog.Logger
}

func NewPostgresTransport(connString string, logger zerolog.Logger) *PostgresTransport {
	return &PostgresTransport{connString: connString, logger: logger.With().Str("transport", "postgres").Logger()}
}

func (t *PostgresTransport) Connect(ctx context.Context) (port.ChangeStream, error) {
	conn, err := pgx.Connect(ctx, t.connString)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("postgres listen: %w", err)
	}
	return &postgresStream{conn: conn, logger: t.logger}, nil
}

type postgresStream struct {
	conn   *pgx.Conn
	logger zerolog.Logger
}

func (s *postgresStream) Receive(ctx context.Context) (domain.ChangeEvent, error) {
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("postgres wait: %w", err)
		}
		ev, err := decode([]byte(n.Payload))
		if err != nil {
			s.logger.Warn().Err(err).Str("payload", n.Payload).Msg("skip malformed change event")
			continue
		}
		return ev, nil
	}
}

func (s *postgresStream) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}
