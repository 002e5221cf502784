// Package dhtop derives the DHT operations an action produces.
//
// Every action becomes one StoreRecord and one RegisterAgentActivity op, plus
// the ops its variant requires. Each op names a basis hash; the authorities
// of that basis are the peers responsible for holding the op.
package dhtop

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// OpSpec is the light form of an op: its type and basis.
type OpSpec struct {
	Type  types.OpType
	Basis hh.HoloHash
}

// OpTypesFor lists the op types an action produces. Private entries never
// produce a StoreEntry op.
func OpTypesFor(a *types.Action) []types.OpType {
	ops := []types.OpType{types.OpStoreRecord, types.OpRegisterAgentActivity}
	switch a.Type {
	case types.ActionDna,
		types.ActionAgentValidationPkg,
		types.ActionInitZomesComplete,
		types.ActionOpenChain,
		types.ActionCloseChain:
	case types.ActionCreate:
		if !a.IsPrivate() {
			ops = append(ops, types.OpStoreEntry)
		}
	case types.ActionUpdate:
		if !a.IsPrivate() {
			ops = append(ops, types.OpStoreEntry)
		}
		ops = append(ops, types.OpRegisterUpdatedContent, types.OpRegisterUpdatedRecord)
	case types.ActionDelete:
		ops = append(ops, types.OpRegisterDeletedBy, types.OpRegisterDeletedEntryAction)
	case types.ActionCreateLink:
		ops = append(ops, types.OpRegisterAddLink)
	case types.ActionDeleteLink:
		ops = append(ops, types.OpRegisterRemoveLink)
	}
	return ops
}

// OpsFor returns the type and basis of every op an action produces. It does
// no I/O and builds no payloads.
func OpsFor(a *types.Action) []OpSpec {
	ah := a.Hash()
	opTypes := OpTypesFor(a)
	specs := make([]OpSpec, len(opTypes))
	for i, t := range opTypes {
		specs[i] = OpSpec{Type: t, Basis: types.OpBasis(t, a, ah)}
	}
	return specs
}

// ProduceOps builds the full ops of a record. The entry travels only with
// StoreRecord and StoreEntry ops, and only when it is public.
func ProduceOps(r *types.Record) ([]*types.DhtOp, error) {
	a := r.Action()
	if a.HasEntry() && r.Entry != nil && r.Entry.Hash() != a.EntryHash {
		return nil, fmt.Errorf("entry does not match the action's entry hash")
	}
	if a.Type == types.ActionCreate && !a.IsPrivate() && r.Entry == nil {
		return nil, fmt.Errorf("public Create without its entry")
	}
	opTypes := OpTypesFor(a)
	ops := make([]*types.DhtOp, len(opTypes))
	for i, t := range opTypes {
		ops[i] = NewOp(t, &r.SignedAction, r.Entry)
	}
	return ops, nil
}

// NewOp builds a single op, stripping the entry where it must not travel.
func NewOp(t types.OpType, sa *types.SignedAction, entry *types.Entry) *types.DhtOp {
	op := &types.DhtOp{
		Type:   t,
		Action: *sa,
	}
	if t.CarriesEntry() && entry != nil && !sa.Action.IsPrivate() {
		op.Entry = entry
	}
	return op
}

// OpHashes returns the hash of every op of a record.
func OpHashes(r *types.Record) ([]hh.OpHash, error) {
	ops, err := ProduceOps(r)
	if err != nil {
		return nil, err
	}
	hashes := make([]hh.OpHash, len(ops))
	for i, op := range ops {
		hashes[i] = op.Hash()
	}
	return hashes, nil
}

// RequiresEntry reports whether a received op of type t for action a must
// carry an entry to be well formed.
func RequiresEntry(t types.OpType, a *types.Action) bool {
	return t == types.OpStoreEntry && a.HasEntry() && !a.IsPrivate()
}
