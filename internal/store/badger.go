package store

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/vouchmesh/vouchmesh/internal/domain"
	"go.uber.org/zap"
)

// BadgerStore persists contract state blobs in an embedded Badger
// database. Change notifications ride Badger's key-prefix subscription.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB, logger *zap.Logger) *BadgerStore {
	return &BadgerStore{db: db, logger: logger}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func stateKey(contract string) []byte {
	return []byte("state/" + contract)
}

func (s *BadgerStore) GetState(ctx context.Context, contract string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(contract))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return blob, nil
}

func (s *BadgerStore) SaveState(ctx context.Context, contract string, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(contract), blob)
	})
}

func (s *BadgerStore) Subscribe(ctx context.Context, contract string) (<-chan domain.StateChange, error) {
	ch := make(chan domain.StateChange, 1)
	matches := []pb.Match{{Prefix: stateKey(contract)}}

	go func() {
		defer close(ch)
		err := s.db.Subscribe(ctx, func(kv *badger.KVList) error {
			select {
			case ch <- domain.StateChange{Contract: contract}:
			default:
				// Coalesced; subscriber reloads the full state anyway.
			}
			return nil
		}, matches)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("badger subscription ended", zap.Error(err))
		}
	}()
	return ch, nil
}
