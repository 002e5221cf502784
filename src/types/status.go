package types

import (
	"fmt"
)

// ValidationStatus is an authority's verdict on an op.
type ValidationStatus uint8

const (
	Valid ValidationStatus = iota
	Rejected
	Abandoned
)

func (s ValidationStatus) String() string {
	switch s {
	case Valid:
		return "Valid"
	case Rejected:
		return "Rejected"
	case Abandoned:
		return "Abandoned"
	default:
		return fmt.Sprintf("ValidationStatus(%d)", uint8(s))
	}
}

// ChainStatus is the view an agent-activity authority holds of an author.
type ChainStatus uint8

const (
	ChainEmpty ChainStatus = iota
	ChainValid
	ChainForked
	ChainInvalid
)

func (s ChainStatus) String() string {
	switch s {
	case ChainEmpty:
		return "Empty"
	case ChainValid:
		return "Valid"
	case ChainForked:
		return "Forked"
	case ChainInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("ChainStatus(%d)", uint8(s))
	}
}

// EntryDhtStatus summarises the fate of an entry across its creates, updates
// and deletes.
type EntryDhtStatus uint8

const (
	EntryLive EntryDhtStatus = iota
	EntryDead
	EntryPending
	EntryRejected
	EntryAbandoned
	EntryConflict
)

func (s EntryDhtStatus) String() string {
	switch s {
	case EntryLive:
		return "Live"
	case EntryDead:
		return "Dead"
	case EntryPending:
		return "Pending"
	case EntryRejected:
		return "Rejected"
	case EntryAbandoned:
		return "Abandoned"
	case EntryConflict:
		return "Conflict"
	default:
		return fmt.Sprintf("EntryDhtStatus(%d)", uint8(s))
	}
}
