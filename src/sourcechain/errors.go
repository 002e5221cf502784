package sourcechain

import (
	"errors"
	"fmt"
)

var (
	// ErrHeadMoved is returned by a strict flush when another flush advanced
	// the chain since the workspace was opened.
	ErrHeadMoved = errors.New("source chain head has moved")

	// ErrChainClosed is returned when authoring past a CloseChain action.
	ErrChainClosed = errors.New("source chain is closed")

	// ErrCounterSigningStalled is returned when a countersigned entry is
	// flushed without a completed session.
	ErrCounterSigningStalled = errors.New("countersigning session has not completed")

	// ErrEmptyChain is returned by reads of a chain without genesis.
	ErrEmptyChain = errors.New("source chain is empty")
)

// InvalidChainError reports a broken structural invariant of the chain.
type InvalidChainError struct {
	Reason string
}

func (e *InvalidChainError) Error() string {
	return fmt.Sprintf("invalid source chain: %s", e.Reason)
}

func invalidChain(format string, args ...interface{}) error {
	return &InvalidChainError{Reason: fmt.Sprintf(format, args...)}
}
