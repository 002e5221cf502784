// Package guest defines the interface between a cell and the application code
// it runs, and provides inline zomes: guest code written as Go functions.
package guest

import (
	"context"
	"errors"
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
)

var (
	// ErrUnknownZome is returned for calls to a zome the DNA does not have.
	ErrUnknownZome = errors.New("unknown zome")
	// ErrUnknownFn is returned for calls to a function a zome does not have.
	ErrUnknownFn = errors.New("unknown zome function")
)

// GuestError is a fault raised by guest code: a panic or trap. The call that
// raised it has no effect.
type GuestError struct {
	Zome  string
	Fn    string
	Cause interface{}
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("guest fault in %s/%s: %v", e.Zome, e.Fn, e.Cause)
}

// InitResult is the answer of a DNA's init callbacks.
type InitResult struct {
	Pass   bool
	Reason string
}

// AgentInfo describes the calling cell.
type AgentInfo struct {
	Agent   hh.AgentPubKey
	DnaHash hh.DnaHash
	Head    hh.ActionHash
	Seq     uint32
}

// HostAPI is what guest code may do during a zome call or init. Writes go to
// the call's workspace and become visible to later reads of the same call.
type HostAPI interface {
	AgentInfo() AgentInfo
	Dna() *types.DnaDef
	ZomeIndex() uint8

	Create(entryType types.EntryType, entry *types.Entry) (hh.ActionHash, error)
	Update(original hh.ActionHash, entry *types.Entry) (hh.ActionHash, error)
	Delete(target hh.ActionHash) (hh.ActionHash, error)
	CreateLink(base, target hh.AnyLinkable, linkType uint8, tag []byte) (hh.ActionHash, error)
	DeleteLink(createLink hh.ActionHash) (hh.ActionHash, error)
	CloseChain(newDna hh.DnaHash) (hh.ActionHash, error)
	OpenChain(prevDna hh.DnaHash) (hh.ActionHash, error)

	Get(h hh.HoloHash, opts types.GetOptions) (*types.Record, error)
	GetDetails(h hh.HoloHash, opts types.GetOptions) (*types.Details, error)
	GetLinks(base hh.AnyLinkable, query types.LinkQuery, opts types.GetOptions) ([]types.Link, error)
	GetAgentActivity(agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) (*types.AgentActivity, error)
	Query(filter *types.ChainFilter) ([]*types.Record, error)
}

// ValidateAPI is the read-only view validation callbacks get. The MustGet
// functions return an UnresolvedError when the data cannot be found yet.
type ValidateAPI interface {
	Dna() *types.DnaDef
	MustGetAction(h hh.ActionHash) (*types.SignedAction, error)
	MustGetEntry(h hh.EntryHash) (*types.Entry, error)
	MustGetValidRecord(h hh.ActionHash) (*types.Record, error)
}

// UnresolvedError names a dependency that validation could not fetch.
type UnresolvedError struct {
	Hash hh.HoloHash
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved dependency %s", e.Hash)
}

// OutcomeFromError turns an error met during validation into an outcome:
// MissingDeps for unresolved dependencies, Rejected otherwise.
func OutcomeFromError(err error) validation.Outcome {
	var ue *UnresolvedError
	if errors.As(err, &ue) {
		return validation.Missing(ue.Hash)
	}
	return validation.Reject("%v", err)
}

// Ribosome runs the guest code of one DNA.
type Ribosome interface {
	// Dna returns the DNA definition the ribosome serves.
	Dna() *types.DnaDef
	// Init runs every zome's init callback.
	Init(ctx context.Context, host HostAPI) InitResult
	// Call invokes a zome function. Guest panics come back as *GuestError.
	Call(ctx context.Context, host HostAPI, zome, fn string, payload []byte) ([]byte, error)
	// Validate runs the app validation of an op.
	Validate(ctx context.Context, op *types.DhtOp, host ValidateAPI) validation.Outcome
	// ZomeIndex resolves a zome name.
	ZomeIndex(zome string) (uint8, bool)
}
