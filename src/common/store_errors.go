package common

import (
	"errors"
	"fmt"
)

// StoreErrType enumerates the error kinds returned by stores.
type StoreErrType uint32

const (
	// KeyNotFound means the key is absent from the store.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists means a put would overwrite a different value.
	KeyAlreadyExists
	// Empty means the store holds nothing for the queried range.
	Empty
	// Conflict means two writers raced on the same guarded key.
	Conflict
	// Closed means the store has been closed.
	Closed
	// ReadOnly means a write was attempted inside a read transaction.
	ReadOnly
)

// StoreErr is the error returned by the typed stores.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr for a data type and key.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	case Conflict:
		m = "Conflict"
	case Closed:
		m = "Closed"
	case ReadOnly:
		m = "Read Only"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is, or wraps, a StoreErr and that its code
// matches the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
