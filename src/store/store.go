// Package store implements the typed, content-addressed stores of a cell.
//
// A Store is a thin typed layer over an ordered KV (InmemKV or BadgerKV). The
// same schema backs the three kinds of store: the authored store of a cell,
// and the DHT and cache stores of a DNA space. Actions and entries are
// append-only; only op rows and secondary indexes are rewritten.
package store

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes the roles a Store can play.
type Kind uint8

const (
	Authored Kind = iota
	DHT
	Cache
)

func (k Kind) String() string {
	switch k {
	case Authored:
		return "authored"
	case DHT:
		return "dht"
	case Cache:
		return "cache"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Store is a typed store over a KV.
type Store struct {
	kind   Kind
	kv     KV
	logger *logrus.Entry
}

// NewStore wraps a KV.
func NewStore(kind Kind, kv KV, logger *logrus.Entry) *Store {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	return &Store{
		kind:   kind,
		kv:     kv,
		logger: logger.WithField("store", kind.String()),
	}
}

// NewInmemStore is a Store over a fresh InmemKV.
func NewInmemStore(kind Kind, logger *logrus.Entry) *Store {
	return NewStore(kind, NewInmemKV(), logger)
}

// NewBadgerStore opens a Store over a BadgerKV at path.
func NewBadgerStore(kind Kind, path string, logger *logrus.Entry) (*Store, error) {
	kv, err := NewBadgerKV(path, logger)
	if err != nil {
		return nil, err
	}
	return NewStore(kind, kv, logger), nil
}

// Kind returns the role of the store.
func (s *Store) Kind() Kind {
	return s.kind
}

// View runs fn against a consistent snapshot.
func (s *Store) View(fn func(*Txn) error) error {
	return s.kv.View(func(r Reader) error {
		return fn(&Txn{r: r, store: s})
	})
}

// Update runs fn in a write transaction. Either all of fn's writes land or
// none do.
func (s *Store) Update(fn func(*Txn) error) error {
	return s.kv.Update(func(w Writer) error {
		return fn(&Txn{r: w, w: w, store: s})
	})
}

// Close closes the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

// Dump returns a copy of every key and value. It is meant for tests and
// diagnostics that compare whole-store snapshots.
func (s *Store) Dump() (map[string][]byte, error) {
	res := make(map[string][]byte)
	err := s.kv.View(func(r Reader) error {
		return r.Scan(nil, func(k, v []byte) bool {
			res[string(k)] = v
			return true
		})
	})
	return res, err
}
