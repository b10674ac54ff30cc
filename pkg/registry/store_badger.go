package registry

import (
	"context"

	"github.com/dgraph-io/badger"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var identityPrefix = []byte("identity:")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BadgerStore keeps identities in a badger database so exported paths
// survive restarts of the service
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	return &BadgerStore{db: db}, nil
}

// OpenBadgerStore opens (or creates) a database in dir
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open identity store at %s", dir)
	}

	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func identityKey(uid string) []byte {
	return append(append([]byte(nil), identityPrefix...), uid...)
}

func (s *BadgerStore) Put(ctx context.Context, id Identity) error {
	if id.UID == "" {
		return ErrEmptyUID
	}

	payload, err := json.Marshal(id)
	if err != nil {
		return errors.Wrapf(err, "failed to encode identity %s", id.UID)
	}

	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(identityKey(id.UID), payload)
	})
}

func (s *BadgerStore) Get(ctx context.Context, uid string) (id Identity, err error) {
	err = s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(identityKey(uid))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &id)
		})
	})

	if err == badger.ErrKeyNotFound {
		return Identity{}, ErrIdentityNotFound
	}

	if err != nil {
		return Identity{}, errors.Wrapf(err, "failed to load identity %s", uid)
	}

	return id, nil
}

func (s *BadgerStore) Delete(ctx context.Context, uid string) error {
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(identityKey(uid))
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]Identity, error) {
	ids := make([]Identity, 0)

	err := s.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(identityPrefix); it.ValidForPrefix(identityPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var id Identity
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &id)
			})

			if err != nil {
				return errors.Wrapf(err, "failed to decode identity %s", it.Item().Key())
			}

			ids = append(ids, id)
		}

		return nil
	})

	return ids, err
}
