package cascade

import (
	"context"
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

var (
	entryOpTypes  = []types.OpType{types.OpStoreEntry, types.OpRegisterDeletedEntryAction, types.OpRegisterUpdatedContent}
	actionOpTypes = []types.OpType{types.OpStoreRecord, types.OpRegisterDeletedBy, types.OpRegisterUpdatedRecord}
)

func (c *Cascade) useNetwork(opts types.GetOptions) bool {
	return c.network != nil && opts.Strategy == types.GetNetwork
}

// fetch asks the authorities of h and caches their answers. Failures only
// mean the read stays local.
func (c *Cascade) fetch(ctx context.Context, h hh.HoloHash) {
	responses, err := c.network.Get(ctx, h)
	if err != nil {
		c.logger.WithError(err).WithField("hash", h.String()).Debug("Network get failed")
	}
	c.cacheResponses(responses)
}

// Get returns the record of an action hash, or the oldest live record of an
// entry hash. Deleted actions and dead entries give nil. Only valid data is
// returned.
func (c *Cascade) Get(ctx context.Context, h hh.HoloHash, opts types.GetOptions) (*types.Record, error) {
	var local func(hh.HoloHash) (*types.Record, bool, error)
	switch h.Type() {
	case hh.Action:
		local = c.localRecord
	case hh.Entry, hh.Agent:
		h = h.Retype(hh.Entry)
		local = c.localEntryRecord
	default:
		return nil, fmt.Errorf("cannot get a %s hash", h.Type())
	}

	r, settled, err := local(h)
	if err != nil || settled || !c.useNetwork(opts) {
		return r, err
	}
	c.fetch(ctx, h)
	r, _, err = local(h)
	return r, err
}

// localRecord answers an action get from local sources. settled is true when
// the sources hold a valid StoreRecord, deleted or not.
func (c *Cascade) localRecord(h hh.ActionHash) (*types.Record, bool, error) {
	ops, err := c.gather(h, types.OpStoreRecord, types.OpRegisterDeletedBy)
	if err != nil {
		return nil, false, err
	}
	var (
		found   *held
		deleted bool
	)
	for _, o := range ops {
		if !o.valid() {
			continue
		}
		switch o.op.Type {
		case types.OpStoreRecord:
			found = o
		case types.OpRegisterDeletedBy:
			deleted = true
		}
	}
	if found == nil {
		return nil, false, nil
	}
	if deleted {
		return nil, true, nil
	}
	r, err := c.record(found)
	return r, true, err
}

// localEntryRecord answers an entry get from local sources. settled is true
// when the sources hold at least one valid create of the entry.
func (c *Cascade) localEntryRecord(h hh.EntryHash) (*types.Record, bool, error) {
	ops, err := c.gather(h, types.OpStoreEntry, types.OpRegisterDeletedEntryAction)
	if err != nil {
		return nil, false, err
	}
	deleted := deletedActions(ops)

	var oldest *held
	settled := false
	for _, o := range ops {
		if o.op.Type != types.OpStoreEntry || !o.valid() {
			continue
		}
		settled = true
		if deleted[o.op.Action.Hash()] {
			continue
		}
		if oldest == nil || olderThan(&o.op.Action, &oldest.op.Action) {
			oldest = o
		}
	}
	if oldest == nil {
		return nil, settled, nil
	}
	r, err := c.record(oldest)
	return r, true, err
}

// deletedActions returns the actions that valid deletes in ops remove.
func deletedActions(ops []*held) map[hh.ActionHash]bool {
	deleted := make(map[hh.ActionHash]bool)
	for _, o := range ops {
		if o.valid() && (o.op.Type == types.OpRegisterDeletedEntryAction || o.op.Type == types.OpRegisterDeletedBy) {
			deleted[o.action().DeletesAction] = true
		}
	}
	return deleted
}

func (c *Cascade) record(o *held) (*types.Record, error) {
	r := types.NewRecord(o.op.Action, o.op.Entry)
	a := r.Action()
	if r.Entry == nil && a.HasEntry() {
		e, err := c.findEntry(a.EntryHash)
		if err != nil {
			return nil, err
		}
		r.Entry = e
	}
	return r, nil
}

// GetDetails returns everything known about an entry or an action, valid or
// not. It returns nil when nothing is known.
func (c *Cascade) GetDetails(ctx context.Context, h hh.HoloHash, opts types.GetOptions) (*types.Details, error) {
	switch h.Type() {
	case hh.Action, hh.Entry, hh.Agent:
	default:
		return nil, fmt.Errorf("cannot get details of a %s hash", h.Type())
	}
	if h.Type() == hh.Agent {
		h = h.Retype(hh.Entry)
	}
	if c.useNetwork(opts) {
		c.fetch(ctx, h)
	}

	if h.Type() == hh.Action {
		rd, err := c.recordDetails(h)
		if err != nil || rd == nil {
			return nil, err
		}
		return &types.Details{Record: rd}, nil
	}
	ed, err := c.entryDetails(h)
	if err != nil || ed == nil {
		return nil, err
	}
	return &types.Details{Entry: ed}, nil
}

func withStatus(o *held) types.ActionWithStatus {
	return types.ActionWithStatus{Action: o.op.Action, Status: o.status}
}

func (c *Cascade) entryDetails(h hh.EntryHash) (*types.EntryDetails, error) {
	ops, err := c.gather(h, entryOpTypes...)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	deleted := deletedActions(ops)

	ed := &types.EntryDetails{}
	var live, anyValid, anyRejected, anyAbandoned bool
	for _, o := range ops {
		if !o.final {
			continue
		}
		switch o.op.Type {
		case types.OpStoreEntry:
			if ed.Entry == nil && o.op.Entry != nil {
				ed.Entry = o.op.Entry
			}
			switch o.status {
			case types.Valid:
				ed.Actions = append(ed.Actions, withStatus(o))
				anyValid = true
				if !deleted[o.op.Action.Hash()] {
					live = true
				}
			case types.Rejected:
				ed.RejectedActions = append(ed.RejectedActions, withStatus(o))
				anyRejected = true
			case types.Abandoned:
				ed.RejectedActions = append(ed.RejectedActions, withStatus(o))
				anyAbandoned = true
			}
		case types.OpRegisterDeletedEntryAction:
			ed.Deletes = append(ed.Deletes, withStatus(o))
		case types.OpRegisterUpdatedContent:
			ed.Updates = append(ed.Updates, withStatus(o))
		}
	}
	if ed.Entry == nil {
		if ed.Entry, err = c.findEntry(h); err != nil {
			return nil, err
		}
	}

	switch {
	case live:
		ed.EntryDhtStatus = types.EntryLive
	case anyValid:
		ed.EntryDhtStatus = types.EntryDead
	case anyRejected:
		ed.EntryDhtStatus = types.EntryRejected
	case anyAbandoned:
		ed.EntryDhtStatus = types.EntryAbandoned
	default:
		ed.EntryDhtStatus = types.EntryPending
	}

	sortActions(ed.Actions)
	sortActions(ed.RejectedActions)
	sortActions(ed.Deletes)
	sortActions(ed.Updates)
	return ed, nil
}

func (c *Cascade) recordDetails(h hh.ActionHash) (*types.RecordDetails, error) {
	ops, err := c.gather(h, actionOpTypes...)
	if err != nil {
		return nil, err
	}

	var (
		rd    *types.RecordDetails
		other []*held
	)
	for _, o := range ops {
		if !o.final {
			continue
		}
		if o.op.Type == types.OpStoreRecord {
			if rd == nil || o.status == types.Valid {
				r, err := c.record(o)
				if err != nil {
					return nil, err
				}
				rd = &types.RecordDetails{Record: *r, Status: o.status}
			}
			continue
		}
		other = append(other, o)
	}
	if rd == nil {
		return nil, nil
	}
	for _, o := range other {
		switch o.op.Type {
		case types.OpRegisterDeletedBy:
			rd.Deletes = append(rd.Deletes, withStatus(o))
		case types.OpRegisterUpdatedRecord:
			rd.Updates = append(rd.Updates, withStatus(o))
		}
	}
	sortActions(rd.Deletes)
	sortActions(rd.Updates)
	return rd, nil
}

// RetrieveAction returns a valid action whether or not it was deleted, going
// to the network if no local source holds it. It returns nil when the action
// cannot be found.
func (c *Cascade) RetrieveAction(ctx context.Context, h hh.ActionHash) (*types.SignedAction, error) {
	sa, err := c.localAction(h)
	if err != nil || sa != nil || c.network == nil {
		return sa, err
	}
	c.fetch(ctx, h)
	return c.localAction(h)
}

func (c *Cascade) localAction(h hh.ActionHash) (*types.SignedAction, error) {
	ops, err := c.gather(h, types.OpStoreRecord)
	if err != nil {
		return nil, err
	}
	for _, o := range ops {
		if o.valid() {
			sa := o.op.Action
			return &sa, nil
		}
	}
	return nil, nil
}

// RetrieveRecord is RetrieveAction with the entry attached.
func (c *Cascade) RetrieveRecord(ctx context.Context, h hh.ActionHash) (*types.Record, error) {
	sa, err := c.RetrieveAction(ctx, h)
	if err != nil || sa == nil {
		return nil, err
	}
	return c.record(&held{op: &types.DhtOp{Type: types.OpStoreRecord, Action: *sa}})
}

// RetrieveEntry returns an entry by hash from any source. Entries are
// content addressed so no validation status is needed.
func (c *Cascade) RetrieveEntry(ctx context.Context, h hh.EntryHash) (*types.Entry, error) {
	e, err := c.findEntry(h)
	if err != nil || e != nil || c.network == nil {
		return e, err
	}
	c.fetch(ctx, h)
	return c.findEntry(h)
}
