package store

import (
	"sort"
	"strings"
	"sync"

	cm "github.com/mosaicnetworks/cellchain/src/common"
)

// InmemKV implements KV with a map guarded by a RWMutex. Update holds the
// write lock for its whole duration so there is a single writer at a time,
// and stages mutations in an overlay that is only applied on success.
type InmemKV struct {
	sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewInmemKV creates an empty InmemKV.
func NewInmemKV() *InmemKV {
	return &InmemKV{
		data: make(map[string][]byte),
	}
}

// View implements KV.
func (s *InmemKV) View(fn func(Reader) error) error {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return cm.NewStoreErr("KV", cm.Closed, "")
	}
	return fn(&inmemTxn{kv: s})
}

// Update implements KV.
func (s *InmemKV) Update(fn func(Writer) error) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return cm.NewStoreErr("KV", cm.Closed, "")
	}
	txn := &inmemTxn{
		kv:      s,
		overlay: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
	if err := fn(txn); err != nil {
		return err
	}
	for k := range txn.deleted {
		delete(s.data, k)
	}
	for k, v := range txn.overlay {
		s.data[k] = v
	}
	return nil
}

// Close implements KV.
func (s *InmemKV) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of keys.
func (s *InmemKV) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.data)
}

type inmemTxn struct {
	kv      *InmemKV
	overlay map[string][]byte
	deleted map[string]bool
}

func (t *inmemTxn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if t.overlay != nil {
		if v, ok := t.overlay[k]; ok {
			return copyBytes(v), nil
		}
		if t.deleted[k] {
			return nil, cm.NewStoreErr("KV", cm.KeyNotFound, k)
		}
	}
	v, ok := t.kv.data[k]
	if !ok {
		return nil, cm.NewStoreErr("KV", cm.KeyNotFound, k)
	}
	return copyBytes(v), nil
}

func (t *inmemTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	p := string(prefix)
	merged := make(map[string][]byte)
	for k, v := range t.kv.data {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	for k, v := range t.overlay {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}
	for k := range t.deleted {
		if _, ok := t.overlay[k]; !ok {
			delete(merged, k)
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), copyBytes(merged[k])) {
			return nil
		}
	}
	return nil
}

func (t *inmemTxn) Set(key, value []byte) error {
	if t.overlay == nil {
		return cm.NewStoreErr("KV", cm.ReadOnly, string(key))
	}
	k := string(key)
	delete(t.deleted, k)
	t.overlay[k] = copyBytes(value)
	return nil
}

func (t *inmemTxn) Delete(key []byte) error {
	if t.overlay == nil {
		return cm.NewStoreErr("KV", cm.ReadOnly, string(key))
	}
	k := string(key)
	delete(t.overlay, k)
	t.deleted[k] = true
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
