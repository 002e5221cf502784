package types

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// OpType is the kind of a DHT operation.
type OpType uint8

const (
	OpStoreRecord OpType = iota
	OpStoreEntry
	OpRegisterAgentActivity
	OpRegisterUpdatedContent
	OpRegisterUpdatedRecord
	OpRegisterDeletedBy
	OpRegisterDeletedEntryAction
	OpRegisterAddLink
	OpRegisterRemoveLink
)

// AllOpTypes lists every op type in declaration order.
var AllOpTypes = []OpType{
	OpStoreRecord,
	OpStoreEntry,
	OpRegisterAgentActivity,
	OpRegisterUpdatedContent,
	OpRegisterUpdatedRecord,
	OpRegisterDeletedBy,
	OpRegisterDeletedEntryAction,
	OpRegisterAddLink,
	OpRegisterRemoveLink,
}

func (t OpType) String() string {
	switch t {
	case OpStoreRecord:
		return "StoreRecord"
	case OpStoreEntry:
		return "StoreEntry"
	case OpRegisterAgentActivity:
		return "RegisterAgentActivity"
	case OpRegisterUpdatedContent:
		return "RegisterUpdatedContent"
	case OpRegisterUpdatedRecord:
		return "RegisterUpdatedRecord"
	case OpRegisterDeletedBy:
		return "RegisterDeletedBy"
	case OpRegisterDeletedEntryAction:
		return "RegisterDeletedEntryAction"
	case OpRegisterAddLink:
		return "RegisterAddLink"
	case OpRegisterRemoveLink:
		return "RegisterRemoveLink"
	default:
		return fmt.Sprintf("OpType(%d)", uint8(t))
	}
}

// CarriesEntry reports whether ops of this type travel with the (public)
// entry of their action.
func (t OpType) CarriesEntry() bool {
	return t == OpStoreRecord || t == OpStoreEntry
}

// DhtOp is a typed statement derived from an action, addressed to the
// authorities of its basis hash.
type DhtOp struct {
	Type   OpType       `codec:"type"`
	Action SignedAction `codec:"action"`
	Entry  *Entry       `codec:"entry,omitempty"`
}

// opIdentity is what an op hash covers: the kind and the action. The entry is
// bound through the action's entry hash and the signature is not part of the
// identity, so every sender announces the same hash.
type opIdentity struct {
	Type   OpType `codec:"type"`
	Action Action `codec:"action"`
}

// Hash returns the deterministic OpHash.
func (o *DhtOp) Hash() hh.OpHash {
	return hh.HashContent(hh.Op, MustEncode(&opIdentity{Type: o.Type, Action: o.Action.Action}))
}

// Basis returns the hash that decides which neighborhood holds this op.
func (o *DhtOp) Basis() hh.HoloHash {
	return OpBasis(o.Type, &o.Action.Action, o.Action.Hash())
}

// OpBasis computes the basis of an op type for an action.
func OpBasis(t OpType, a *Action, actionHash hh.ActionHash) hh.HoloHash {
	switch t {
	case OpStoreRecord:
		return actionHash
	case OpStoreEntry:
		return a.EntryHash
	case OpRegisterAgentActivity:
		return a.Author
	case OpRegisterUpdatedContent:
		return a.OriginalEntry
	case OpRegisterUpdatedRecord:
		return a.OriginalAction
	case OpRegisterDeletedBy:
		return a.DeletesAction
	case OpRegisterDeletedEntryAction:
		return a.DeletesEntry
	case OpRegisterAddLink, OpRegisterRemoveLink:
		return a.Base
	default:
		return hh.HoloHash{}
	}
}

// Marshal encodes the op for the wire.
func (o *DhtOp) Marshal() ([]byte, error) {
	return Encode(o)
}

// Unmarshal decodes an op.
func (o *DhtOp) Unmarshal(data []byte) error {
	return Decode(data, o)
}

// Record returns the op's action and entry as a Record.
func (o *DhtOp) Record() *Record {
	return NewRecord(o.Action, o.Entry)
}

// Author returns the author of the op's action.
func (o *DhtOp) Author() hh.AgentPubKey {
	return o.Action.Action.Author
}
