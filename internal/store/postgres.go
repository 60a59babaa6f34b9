package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"go.uber.org/zap"
)

// stateChannel carries LISTEN/NOTIFY wakeups; the payload is the
// contract identifier.
const stateChannel = "vouchmesh_state_changed"

// PostgresStore persists contract state blobs in Postgres and delivers
// change notifications over LISTEN/NOTIFY, so subscribers never poll.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS contract_states (
			contract   TEXT PRIMARY KEY,
			state      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (s *PostgresStore) GetState(ctx context.Context, contract string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM contract_states WHERE contract = $1`,
		contract,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return blob, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, contract string, blob []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO contract_states (contract, state, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (contract) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`,
		contract, blob,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `SELECT pg_notify($1, $2)`, stateChannel, contract)
	return err
}

func (s *PostgresStore) Subscribe(ctx context.Context, contract string) (<-chan domain.StateChange, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+stateChannel); err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan domain.StateChange, 1)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("state notification wait failed", zap.Error(err))
				}
				return
			}
			if notification.Payload != contract {
				continue
			}
			select {
			case ch <- domain.StateChange{Contract: contract}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
