package store

import (
	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/cellchain/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerKV implements KV on top of a Badger database. Each Update is a single
// Badger transaction, so a crash mid-batch leaves no partial writes.
type BadgerKV struct {
	db   *badger.DB
	path string
}

// NewBadgerKV opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerKV(path string, logger *logrus.Entry) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerKV{
		db:   handle,
		path: path,
	}, nil
}

// Path returns the directory of the database.
func (s *BadgerKV) Path() string {
	return s.path
}

// View implements KV.
func (s *BadgerKV) View(fn func(Reader) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// Update implements KV.
func (s *BadgerKV) Update(fn func(Writer) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn, writable: true})
	})
}

// Close implements KV.
func (s *BadgerKV) Close() error {
	return s.db.Close()
}

type badgerTxn struct {
	txn      *badger.Txn
	writable bool
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, mapError(err, string(key))
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	if !t.writable {
		return cm.NewStoreErr("KV", cm.ReadOnly, string(key))
	}
	return t.txn.Set(key, value)
}

func (t *badgerTxn) Delete(key []byte) error {
	if !t.writable {
		return cm.NewStoreErr("KV", cm.ReadOnly, string(key))
	}
	return t.txn.Delete(key)
}

func isDBKeyNotFound(err error) bool {
	return err != nil && err.Error() == badger.ErrKeyNotFound.Error()
}

func mapError(err error, key string) error {
	if isDBKeyNotFound(err) {
		return cm.NewStoreErr("KV", cm.KeyNotFound, key)
	}
	return err
}
