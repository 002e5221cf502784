package store

// Reader is a consistent read view over a KV.
type Reader interface {
	// Get returns a copy of the value at key, or a common.StoreErr of kind
	// KeyNotFound.
	Get(key []byte) ([]byte, error)

	// Scan calls fn on every key with the given prefix in ascending key order
	// until fn returns false.
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

// Writer is a Reader that can stage mutations. Mutations become visible to
// other transactions only when the enclosing Update returns without error.
type Writer interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// KV is an ordered key-value store with atomic batches. A failed Update leaves
// the store exactly as it was.
type KV interface {
	View(fn func(Reader) error) error
	Update(fn func(Writer) error) error
	Close() error
}
