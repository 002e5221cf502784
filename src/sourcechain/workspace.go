package sourcechain

import (
	"github.com/mosaicnetworks/cellchain/src/dhtop"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// Workspace stages the actions of one zome call or workflow run on top of the
// chain head observed when it was opened. It is not safe for concurrent use.
type Workspace struct {
	chain    *SourceChain
	ordering Ordering
	openHead *store.ChainHead
	scratch  Scratch
	closed   bool
}

// NewWorkspace opens a workspace at the current head.
func (c *SourceChain) NewWorkspace(ordering Ordering) (*Workspace, error) {
	head, err := c.Head()
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		chain:    c,
		ordering: ordering,
		openHead: head,
	}
	if head != nil {
		last, err := c.GetRecord(head.Hash)
		if err != nil {
			return nil, err
		}
		ws.closed = last.Action().Type == types.ActionCloseChain
	}
	return ws, nil
}

// Chain returns the chain the workspace writes to.
func (w *Workspace) Chain() *SourceChain {
	return w.chain
}

// Ordering returns the flush ordering of the workspace.
func (w *Workspace) Ordering() Ordering {
	return w.ordering
}

// Scratch exposes the staged records for reads.
func (w *Workspace) Scratch() *Scratch {
	return &w.scratch
}

// OpenHead returns the head the workspace was opened on, nil for an empty
// chain.
func (w *Workspace) OpenHead() *store.ChainHead {
	return w.openHead
}

// Head returns the head as seen from inside the workspace, scratch included.
func (w *Workspace) Head() *store.ChainHead {
	if last := w.scratch.Last(); last != nil {
		a := last.Action()
		return &store.ChainHead{Hash: last.ActionHash(), Seq: a.Seq, Timestamp: a.Timestamp}
	}
	return w.openHead
}

// Put signs and stages a new action built on the workspace head. entry must
// be given for Create and Update and must match the action's entry hash and
// entry type.
func (w *Workspace) Put(b types.ActionBuilder, entry *types.Entry) (hh.ActionHash, error) {
	if w.closed {
		return hh.ActionHash{}, ErrChainClosed
	}

	var (
		seq  uint32
		prev hh.ActionHash
		ts   = types.Now()
	)
	if head := w.Head(); head != nil {
		seq = head.Seq + 1
		prev = head.Hash
		if ts <= head.Timestamp {
			ts = head.Timestamp + 1
		}
	}

	a := b.Build(w.chain.agent, ts, seq, prev)
	if err := a.Validate(); err != nil {
		return hh.ActionHash{}, invalidChain("%v", err)
	}
	if err := checkPosition(&a); err != nil {
		return hh.ActionHash{}, err
	}
	if err := checkEntry(&a, entry, w.chain.agent); err != nil {
		return hh.ActionHash{}, err
	}

	sa, err := w.chain.sign(&a)
	if err != nil {
		return hh.ActionHash{}, err
	}
	w.scratch.add(types.NewRecord(*sa, entry))
	if a.Type == types.ActionCloseChain {
		w.closed = true
	}
	return sa.Hash(), nil
}

// Discard drops everything staged.
func (w *Workspace) Discard() {
	w.scratch.clear()
}

// Flush atomically appends the staged actions, their entries and their DHT
// ops to the authored store and advances the head. The scratch is emptied
// whether or not the flush succeeds. It returns the ops of the new actions.
func (w *Workspace) Flush() ([]*types.DhtOp, error) {
	defer w.scratch.clear()
	if w.scratch.IsEmpty() {
		return nil, nil
	}

	for _, r := range w.scratch.Records() {
		if r.Entry != nil && r.Entry.Kind == types.EntryCountersigned {
			return nil, ErrCounterSigningStalled
		}
	}

	c := w.chain
	c.flushLock.Lock()
	defer c.flushLock.Unlock()

	var (
		ops     []*types.DhtOp
		newHead *store.ChainHead
	)
	err := c.store.Update(func(txn *store.Txn) error {
		ops = nil

		head, err := readHead(txn, c.agent)
		if err != nil {
			return err
		}
		if !sameHead(head, w.openHead) {
			if w.ordering == Strict {
				return ErrHeadMoved
			}
			if err := w.rebase(txn, head); err != nil {
				return err
			}
		}

		for _, r := range w.scratch.Records() {
			if err := txn.PutAction(&r.SignedAction); err != nil {
				return err
			}
			if r.Entry != nil {
				if err := txn.PutEntry(r.Entry); err != nil {
					return err
				}
			}
			recOps, err := dhtop.ProduceOps(r)
			if err != nil {
				return invalidChain("%v", err)
			}
			for _, op := range recOps {
				rec := store.NewOpRecord(op)
				rec.IsAuthored = true
				if _, err := txn.InsertOp(op, rec); err != nil {
					return err
				}
			}
			ops = append(ops, recOps...)
		}

		newHead = w.Head()
		return txn.SetHead(c.agent, newHead)
	})
	if err != nil {
		return nil, err
	}

	c.setHead(newHead)
	c.logger.WithFields(logrus.Fields{
		"actions": w.scratch.Len(),
		"ops":     len(ops),
		"seq":     newHead.Seq,
	}).Debug("Flushed workspace")
	return ops, nil
}

// rebase rewrites the staged actions on top of head, renumbering, retiming
// and re-signing them in order. References from later staged actions to
// earlier ones are moved to the new hashes.
func (w *Workspace) rebase(txn *store.Txn, head *store.ChainHead) error {
	if head != nil {
		last, err := txn.GetAction(head.Hash)
		if err != nil {
			return err
		}
		if last.Action.Type == types.ActionCloseChain {
			return ErrChainClosed
		}
	}

	records := w.scratch.Records()
	rebased := make([]*types.Record, 0, len(records))
	prevHead := head
	moved := make(map[hh.HoloHash]hh.HoloHash, len(records))
	for _, r := range records {
		a := *r.Action()
		relink(&a, moved)
		if prevHead == nil {
			a.Seq = 0
			a.PrevAction = hh.ActionHash{}
		} else {
			a.Seq = prevHead.Seq + 1
			a.PrevAction = prevHead.Hash
			if a.Timestamp <= prevHead.Timestamp {
				a.Timestamp = prevHead.Timestamp + 1
			}
		}
		if err := checkPosition(&a); err != nil {
			return err
		}
		sa, err := w.chain.sign(&a)
		if err != nil {
			return err
		}
		moved[r.ActionHash()] = sa.Hash()
		rebased = append(rebased, types.NewRecord(*sa, r.Entry))
		prevHead = &store.ChainHead{Hash: sa.Hash(), Seq: a.Seq, Timestamp: a.Timestamp}
	}

	w.scratch.records = rebased
	w.openHead = head
	w.chain.logger.WithField("records", len(rebased)).Debug("Rebased workspace onto moved head")
	return nil
}

// relink points the action's references at the rebased hashes in moved.
func relink(a *types.Action, moved map[hh.HoloHash]hh.HoloHash) {
	for _, ref := range []*hh.HoloHash{&a.OriginalAction, &a.DeletesAction, &a.LinkAddAction, &a.Base, &a.Target} {
		if h, ok := moved[*ref]; ok {
			*ref = h
		}
	}
}

func sameHead(a, b *store.ChainHead) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Hash == b.Hash
}

// checkPosition enforces the genesis layout and the placement of OpenChain.
func checkPosition(a *types.Action) error {
	switch a.Seq {
	case 0:
		if a.Type != types.ActionDna {
			return invalidChain("action 0 must be Dna, got %s", a.Type)
		}
	case 1:
		if a.Type != types.ActionAgentValidationPkg {
			return invalidChain("action 1 must be AgentValidationPkg, got %s", a.Type)
		}
	case 2:
		if a.Type != types.ActionCreate || a.EntryType == nil || a.EntryType.Kind != types.EntryAgent {
			return invalidChain("action 2 must create the agent entry")
		}
	default:
		if a.Type == types.ActionDna || a.Type == types.ActionAgentValidationPkg {
			return invalidChain("%s action at seq %d", a.Type, a.Seq)
		}
		if a.Type == types.ActionOpenChain && a.Seq != 3 {
			return invalidChain("OpenChain at seq %d", a.Seq)
		}
	}
	return nil
}

func checkEntry(a *types.Action, entry *types.Entry, agent hh.AgentPubKey) error {
	if !a.HasEntry() {
		if entry != nil {
			return invalidChain("%s action does not take an entry", a.Type)
		}
		return nil
	}
	if entry == nil {
		return invalidChain("%s action without its entry", a.Type)
	}
	if entry.Hash() != a.EntryHash {
		return invalidChain("entry does not match entry hash")
	}
	if !entry.MatchesType(*a.EntryType) {
		return invalidChain("entry kind %s does not match entry type %s", entry.Kind, a.EntryType)
	}
	if a.Seq == 2 && entry.Agent != agent {
		return invalidChain("agent entry is not the chain author")
	}
	return nil
}
