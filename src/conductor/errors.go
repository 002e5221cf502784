package conductor

import (
	"errors"
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

var (
	// ErrCapabilityDenied is returned for zome calls the caller is not
	// authorised to make. The call has no effect.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrCellNotRunning is returned for zome calls to a cell whose app is not
	// running.
	ErrCellNotRunning = errors.New("cell is not running")

	// ErrUnknownCell is returned for cells this conductor does not host.
	ErrUnknownCell = errors.New("unknown cell")

	// ErrUnknownApp is returned for apps this conductor did not install.
	ErrUnknownApp = errors.New("unknown app")

	// ErrAppExists is returned when installing an app id twice.
	ErrAppExists = errors.New("app already installed")

	// ErrShutdown is returned by a conductor that was shut down.
	ErrShutdown = errors.New("conductor is shut down")
)

// InitFailedError is returned when a DNA's init callback refused to
// initialise a cell.
type InitFailedError struct {
	Reason string
}

func (e *InitFailedError) Error() string {
	return fmt.Sprintf("init failed: %s", e.Reason)
}

// AuthoringError is returned when an action written by a zome call fails
// validation on its author's own node. Nothing the call wrote is committed.
type AuthoringError struct {
	Action hh.ActionHash
	Op     types.OpType
	Reason string
}

func (e *AuthoringError) Error() string {
	return fmt.Sprintf("%s op of action %s failed validation: %s", e.Op, e.Action, e.Reason)
}
