package store

import (
	cm "github.com/mosaicnetworks/cellchain/src/common"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// ChainHead is the latest action of a source chain.
type ChainHead struct {
	Hash      hh.ActionHash   `codec:"hash"`
	Seq       uint32          `codec:"seq"`
	Timestamp types.Timestamp `codec:"timestamp"`
}

// Txn is a typed transaction. Write methods fail with a ReadOnly StoreErr
// inside View.
type Txn struct {
	r     Reader
	w     Writer
	store *Store
}

func (t *Txn) writer(key []byte) (Writer, error) {
	if t.w == nil {
		return nil, cm.NewStoreErr(t.store.kind.String(), cm.ReadOnly, string(key))
	}
	return t.w, nil
}

func (t *Txn) getValue(dataType string, key []byte, v interface{}) error {
	blob, err := t.r.Get(key)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return cm.NewStoreErr(dataType, cm.KeyNotFound, string(key))
		}
		return err
	}
	data, err := unpackBlob(blob)
	if err != nil {
		return err
	}
	return types.Decode(data, v)
}

func (t *Txn) setValue(key []byte, v interface{}) error {
	w, err := t.writer(key)
	if err != nil {
		return err
	}
	data, err := types.Encode(v)
	if err != nil {
		return err
	}
	return w.Set(key, packBlob(data))
}

func (t *Txn) has(key []byte) (bool, error) {
	_, err := t.r.Get(key)
	if err == nil {
		return true, nil
	}
	if cm.IsStore(err, cm.KeyNotFound) {
		return false, nil
	}
	return false, err
}

func (t *Txn) mark(key []byte) error {
	w, err := t.writer(key)
	if err != nil {
		return err
	}
	return w.Set(key, []byte{})
}

func (t *Txn) unmark(key []byte) error {
	w, err := t.writer(key)
	if err != nil {
		return err
	}
	return w.Delete(key)
}

func (t *Txn) indexHashes(prefix []byte) ([]hh.HoloHash, error) {
	var res []hh.HoloHash
	err := t.r.Scan(prefix, func(k, _ []byte) bool {
		res = append(res, suffixHash(k))
		return true
	})
	return res, err
}

/*******************************************************************************
Actions and entries
*******************************************************************************/

// GetAction returns a signed action by hash.
func (t *Txn) GetAction(h hh.ActionHash) (*types.SignedAction, error) {
	sa := new(types.SignedAction)
	if err := t.getValue("Action", actionKey(h), sa); err != nil {
		return nil, err
	}
	return sa, nil
}

// HasAction reports whether the action is stored.
func (t *Txn) HasAction(h hh.ActionHash) (bool, error) {
	return t.has(actionKey(h))
}

// PutAction stores a signed action and indexes it by author and seq. Putting
// the same action twice is a no-op.
func (t *Txn) PutAction(sa *types.SignedAction) error {
	h := sa.Hash()
	exists, err := t.has(actionKey(h))
	if err != nil || exists {
		return err
	}
	if err := t.setValue(actionKey(h), sa); err != nil {
		return err
	}
	return t.mark(seqKey(sa.Action.Author, sa.Action.Seq, h))
}

// GetEntry returns an entry by hash.
func (t *Txn) GetEntry(h hh.EntryHash) (*types.Entry, error) {
	e := new(types.Entry)
	if err := t.getValue("Entry", entryKey(h), e); err != nil {
		return nil, err
	}
	return e, nil
}

// PutEntry stores an entry. Putting the same entry twice is a no-op.
func (t *Txn) PutEntry(e *types.Entry) error {
	key := entryKey(e.Hash())
	exists, err := t.has(key)
	if err != nil || exists {
		return err
	}
	return t.setValue(key, e)
}

// GetRecord returns an action and, if stored, its entry.
func (t *Txn) GetRecord(h hh.ActionHash) (*types.Record, error) {
	sa, err := t.GetAction(h)
	if err != nil {
		return nil, err
	}
	r := types.NewRecord(*sa, nil)
	if sa.Action.HasEntry() {
		e, err := t.GetEntry(sa.Action.EntryHash)
		if err == nil {
			r.Entry = e
		} else if !cm.IsStore(err, cm.KeyNotFound) {
			return nil, err
		}
	}
	return r, nil
}

/*******************************************************************************
Ops
*******************************************************************************/

// GetOpRecord returns an op row.
func (t *Txn) GetOpRecord(h hh.OpHash) (*OpRecord, error) {
	rec := new(OpRecord)
	if err := t.getValue("Op", opKey(h), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HasOp reports whether an op row exists.
func (t *Txn) HasOp(h hh.OpHash) (bool, error) {
	return t.has(opKey(h))
}

// LoadOp rebuilds the full op of a row from the action and entry tables.
func (t *Txn) LoadOp(rec *OpRecord) (*types.DhtOp, error) {
	sa, err := t.GetAction(rec.ActionHash)
	if err != nil {
		return nil, err
	}
	op := &types.DhtOp{Type: rec.Type, Action: *sa}
	if rec.HasEntry {
		e, err := t.GetEntry(rec.EntryHash)
		if err != nil {
			return nil, err
		}
		op.Entry = e
	}
	return op, nil
}

// GetOp returns an op and its row.
func (t *Txn) GetOp(h hh.OpHash) (*types.DhtOp, *OpRecord, error) {
	rec, err := t.GetOpRecord(h)
	if err != nil {
		return nil, nil, err
	}
	op, err := t.LoadOp(rec)
	if err != nil {
		return nil, nil, err
	}
	return op, rec, nil
}

// InsertOp stores an op with its action and entry and the row rec. If the op
// is already present nothing is written and false is returned.
func (t *Txn) InsertOp(op *types.DhtOp, rec *OpRecord) (bool, error) {
	exists, err := t.has(opKey(rec.Hash))
	if err != nil || exists {
		return false, err
	}
	if err := t.PutAction(&op.Action); err != nil {
		return false, err
	}
	if op.Entry != nil {
		if err := t.PutEntry(op.Entry); err != nil {
			return false, err
		}
	}
	if err := t.setValue(opKey(rec.Hash), rec); err != nil {
		return false, err
	}
	if err := t.mark(basisKey(rec.Basis, rec.Hash)); err != nil {
		return false, err
	}
	if err := t.mark(byActionKey(rec.ActionHash, rec.Hash)); err != nil {
		return false, err
	}
	if err := t.mark(stageKey(rec.Stage, rec.Hash)); err != nil {
		return false, err
	}
	for _, todo := range todos {
		if !rec.On(todo) {
			continue
		}
		if err := t.mark(todoKey(todo, rec.Hash)); err != nil {
			return false, err
		}
	}
	for _, d := range rec.Deps {
		if err := t.mark(depKey(d, rec.Hash)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// PutOpRecord rewrites an existing op row and moves its stage and dependency
// index entries.
func (t *Txn) PutOpRecord(rec *OpRecord) error {
	old, err := t.GetOpRecord(rec.Hash)
	if err != nil {
		return err
	}
	if old.Stage != rec.Stage {
		if err := t.unmark(stageKey(old.Stage, rec.Hash)); err != nil {
			return err
		}
		if err := t.mark(stageKey(rec.Stage, rec.Hash)); err != nil {
			return err
		}
	}
	for _, todo := range todos {
		was, is := old.On(todo), rec.On(todo)
		switch {
		case was && !is:
			err = t.unmark(todoKey(todo, rec.Hash))
		case is && !was:
			err = t.mark(todoKey(todo, rec.Hash))
		}
		if err != nil {
			return err
		}
	}
	for _, d := range old.Deps {
		if err := t.unmark(depKey(d, rec.Hash)); err != nil {
			return err
		}
	}
	for _, d := range rec.Deps {
		if err := t.mark(depKey(d, rec.Hash)); err != nil {
			return err
		}
	}
	return t.setValue(opKey(rec.Hash), rec)
}

// UpdateOpRecord re-reads an op row, lets fn change it and writes it back
// when fn returns true. Workflows that read rows outside the transaction use
// it so that they only touch the fields they own. It returns the row as
// stored.
func (t *Txn) UpdateOpRecord(h hh.OpHash, fn func(rec *OpRecord) bool) (*OpRecord, error) {
	rec, err := t.GetOpRecord(h)
	if err != nil {
		return nil, err
	}
	if !fn(rec) {
		return rec, nil
	}
	return rec, t.PutOpRecord(rec)
}

func (t *Txn) opRecords(hashes []hh.OpHash) ([]*OpRecord, error) {
	res := make([]*OpRecord, 0, len(hashes))
	for _, h := range hashes {
		rec, err := t.GetOpRecord(h)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

// OpsByBasis returns the rows of every op on a basis, optionally restricted
// to some op types.
func (t *Txn) OpsByBasis(basis hh.HoloHash, opTypes ...types.OpType) ([]*OpRecord, error) {
	hashes, err := t.indexHashes(basisScan(basis))
	if err != nil {
		return nil, err
	}
	recs, err := t.opRecords(hashes)
	if err != nil || len(opTypes) == 0 {
		return recs, err
	}
	filtered := recs[:0]
	for _, r := range recs {
		for _, ot := range opTypes {
			if r.Type == ot {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered, nil
}

// OpsByAction returns the rows of every op derived from an action.
func (t *Txn) OpsByAction(action hh.ActionHash) ([]*OpRecord, error) {
	hashes, err := t.indexHashes(byActionScan(action))
	if err != nil {
		return nil, err
	}
	return t.opRecords(hashes)
}

// OpsInStage returns up to limit rows in a stage, in op hash order. A limit
// of 0 means no limit.
func (t *Txn) OpsInStage(stage Stage, limit int) ([]*OpRecord, error) {
	var hashes []hh.OpHash
	err := t.ScanStage(stage, func(h hh.OpHash) bool {
		hashes = append(hashes, h)
		return limit == 0 || len(hashes) < limit
	})
	if err != nil {
		return nil, err
	}
	return t.opRecords(hashes)
}

// ScanStage calls fn on the hash of every op in a stage, in op hash order,
// until fn returns false. Rows are not decoded.
func (t *Txn) ScanStage(stage Stage, fn func(hh.OpHash) bool) error {
	return t.r.Scan(stageScan(stage), func(k, _ []byte) bool {
		return fn(suffixHash(k))
	})
}

// ScanTodo calls fn on the rows of a work list, in op hash order, until fn
// returns false.
func (t *Txn) ScanTodo(todo Todo, fn func(*OpRecord) bool) error {
	var hashes []hh.OpHash
	err := t.r.Scan(todoScan(todo), func(k, _ []byte) bool {
		hashes = append(hashes, suffixHash(k))
		return true
	})
	if err != nil {
		return err
	}
	for _, h := range hashes {
		rec, err := t.GetOpRecord(h)
		if err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// CountStage counts the rows in a stage.
func (t *Txn) CountStage(stage Stage) (int, error) {
	n := 0
	err := t.r.Scan(stageScan(stage), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// OpsWaitingOn returns the rows of ops that list dep among their Deps.
func (t *Txn) OpsWaitingOn(dep hh.HoloHash) ([]*OpRecord, error) {
	hashes, err := t.indexHashes(depScan(dep))
	if err != nil {
		return nil, err
	}
	return t.opRecords(hashes)
}

// ScanOps calls fn on every op row until fn returns false.
func (t *Txn) ScanOps(fn func(*OpRecord) bool) error {
	var decodeErr error
	err := t.r.Scan([]byte(opPrefix), func(_, v []byte) bool {
		data, err := unpackBlob(v)
		if err != nil {
			decodeErr = err
			return false
		}
		rec := new(OpRecord)
		if err := types.Decode(data, rec); err != nil {
			decodeErr = err
			return false
		}
		return fn(rec)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

/*******************************************************************************
Chains
*******************************************************************************/

// ChainItems returns every (seq, action hash) stored for an author, in seq
// order. A fork shows up as two items with the same seq.
func (t *Txn) ChainItems(author hh.AgentPubKey) ([]types.ChainItem, error) {
	prefix := seqScan(author)
	var items []types.ChainItem
	err := t.r.Scan(prefix, func(k, _ []byte) bool {
		rest := k[len(prefix):]
		seq := uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3])
		items = append(items, types.ChainItem{Seq: seq, Hash: suffixHash(k)})
		return true
	})
	return items, err
}

// ActionsAtSeq returns the hashes of every action an author has at seq.
func (t *Txn) ActionsAtSeq(author hh.AgentPubKey, seq uint32) ([]hh.ActionHash, error) {
	return t.indexHashes(join(seqPrefix, author.Bytes(), seqBytes(seq)))
}

// Head returns the chain head of an author, or a KeyNotFound StoreErr for an
// empty chain.
func (t *Txn) Head(author hh.AgentPubKey) (*ChainHead, error) {
	head := new(ChainHead)
	if err := t.getValue("Head", headKey(author), head); err != nil {
		return nil, err
	}
	return head, nil
}

// SetHead records the chain head of an author.
func (t *Txn) SetHead(author hh.AgentPubKey, head *ChainHead) error {
	return t.setValue(headKey(author), head)
}

/*******************************************************************************
Warrants and receipts
*******************************************************************************/

// PutWarrant stores a warrant against its accused author. It returns false if
// the warrant was already stored.
func (t *Txn) PutWarrant(sw *types.SignedWarrant) (bool, error) {
	key := warrantKey(sw.Warrant.Author, sw.Warrant.Hash())
	exists, err := t.has(key)
	if err != nil || exists {
		return false, err
	}
	return true, t.setValue(key, sw)
}

// Warrants returns every warrant held against an author.
func (t *Txn) Warrants(author hh.AgentPubKey) ([]types.SignedWarrant, error) {
	var res []types.SignedWarrant
	var decodeErr error
	err := t.r.Scan(warrantScan(author), func(_, v []byte) bool {
		data, err := unpackBlob(v)
		if err != nil {
			decodeErr = err
			return false
		}
		var sw types.SignedWarrant
		if err := types.Decode(data, &sw); err != nil {
			decodeErr = err
			return false
		}
		res = append(res, sw)
		return true
	})
	if err != nil {
		return nil, err
	}
	return res, decodeErr
}

// IsWarranted reports whether any warrant is held against an author.
func (t *Txn) IsWarranted(author hh.AgentPubKey) (bool, error) {
	found := false
	err := t.r.Scan(warrantScan(author), func(_, _ []byte) bool {
		found = true
		return false
	})
	return found, err
}

// PutReceipt stores a validation receipt. It returns false if a receipt from
// the same validator for the same op was already stored.
func (t *Txn) PutReceipt(r *types.SignedValidationReceipt) (bool, error) {
	key := receiptKey(r.Receipt.OpHash, r.Receipt.Validator)
	exists, err := t.has(key)
	if err != nil || exists {
		return false, err
	}
	return true, t.setValue(key, r)
}

// Receipts returns the receipts stored for an op.
func (t *Txn) Receipts(op hh.OpHash) ([]types.SignedValidationReceipt, error) {
	var res []types.SignedValidationReceipt
	var decodeErr error
	err := t.r.Scan(receiptScan(op), func(_, v []byte) bool {
		data, err := unpackBlob(v)
		if err != nil {
			decodeErr = err
			return false
		}
		var r types.SignedValidationReceipt
		if err := types.Decode(data, &r); err != nil {
			decodeErr = err
			return false
		}
		res = append(res, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return res, decodeErr
}
