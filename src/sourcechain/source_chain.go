// Package sourcechain implements an agent's append-only, hash-chained ledger
// of actions, the workspaces that stage new actions, and the atomic flush
// that commits them together with their DHT ops.
package sourcechain

import (
	"crypto/ed25519"
	"sync"

	cm "github.com/mosaicnetworks/cellchain/src/common"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// Signer signs on behalf of an agent. keys.Keystore satisfies it.
type Signer interface {
	Sign(pub ed25519.PublicKey, data []byte) ([]byte, error)
}

// Ordering decides what a flush does when the head moved under a workspace.
type Ordering uint8

const (
	// Strict flushes fail with ErrHeadMoved.
	Strict Ordering = iota
	// Relaxed flushes rebase the staged actions onto the new head.
	Relaxed
)

func (o Ordering) String() string {
	if o == Relaxed {
		return "Relaxed"
	}
	return "Strict"
}

// SourceChain is the chain of one agent in one DNA.
type SourceChain struct {
	store  *store.Store
	dna    hh.DnaHash
	agent  hh.AgentPubKey
	signer Signer
	logger *logrus.Entry

	// flushLock gives flush exclusive write access to the chain.
	flushLock sync.Mutex

	headLock sync.RWMutex
	head     *store.ChainHead
	headRead bool
}

// New creates a SourceChain over an authored store.
func New(st *store.Store, dna hh.DnaHash, agent hh.AgentPubKey, signer Signer, logger *logrus.Entry) *SourceChain {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	return &SourceChain{
		store:  st,
		dna:    dna,
		agent:  agent,
		signer: signer,
		logger: logger.WithField("agent", cm.Short(agent.String())),
	}
}

// Agent returns the chain's author.
func (c *SourceChain) Agent() hh.AgentPubKey {
	return c.agent
}

// DnaHash returns the DNA the chain belongs to.
func (c *SourceChain) DnaHash() hh.DnaHash {
	return c.dna
}

// Store returns the authored store.
func (c *SourceChain) Store() *store.Store {
	return c.store
}

// Head returns the persisted chain head, or nil for an empty chain. The value
// is cached and refreshed by every successful flush.
func (c *SourceChain) Head() (*store.ChainHead, error) {
	c.headLock.RLock()
	if c.headRead {
		h := c.head
		c.headLock.RUnlock()
		return h, nil
	}
	c.headLock.RUnlock()

	var head *store.ChainHead
	err := c.store.View(func(txn *store.Txn) error {
		var err error
		head, err = readHead(txn, c.agent)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.headLock.Lock()
	c.head = head
	c.headRead = true
	c.headLock.Unlock()
	return head, nil
}

func (c *SourceChain) setHead(h *store.ChainHead) {
	c.headLock.Lock()
	c.head = h
	c.headRead = true
	c.headLock.Unlock()
}

func readHead(txn *store.Txn, agent hh.AgentPubKey) (*store.ChainHead, error) {
	head, err := txn.Head(agent)
	if cm.IsStore(err, cm.KeyNotFound) {
		return nil, nil
	}
	return head, err
}

// Len returns the number of actions on the chain.
func (c *SourceChain) Len() (int, error) {
	head, err := c.Head()
	if err != nil || head == nil {
		return 0, err
	}
	return int(head.Seq) + 1, nil
}

// Query returns the persisted records matching filter in seq order.
func (c *SourceChain) Query(filter *types.ChainFilter) ([]*types.Record, error) {
	var res []*types.Record
	err := c.store.View(func(txn *store.Txn) error {
		var err error
		res, err = queryTxn(txn, c.agent, filter, ^uint32(0))
		return err
	})
	return res, err
}

func queryTxn(txn *store.Txn, agent hh.AgentPubKey, filter *types.ChainFilter, maxSeq uint32) ([]*types.Record, error) {
	items, err := txn.ChainItems(agent)
	if err != nil {
		return nil, err
	}
	var res []*types.Record
	for _, it := range items {
		if it.Seq > maxSeq {
			break
		}
		r, err := txn.GetRecord(it.Hash)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(r.Action()) {
			continue
		}
		if filter == nil || !filter.IncludeEntries {
			r.Entry = nil
		}
		res = append(res, r)
	}
	if filter != nil && filter.Descending {
		reverse(res)
	}
	return res, nil
}

func reverse(rs []*types.Record) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}

// GetRecord returns a persisted record of this chain by action hash.
func (c *SourceChain) GetRecord(h hh.ActionHash) (*types.Record, error) {
	var r *types.Record
	err := c.store.View(func(txn *store.Txn) error {
		var err error
		r, err = txn.GetRecord(h)
		return err
	})
	return r, err
}

// IsInitialized reports whether the chain holds an InitZomesComplete action.
func (c *SourceChain) IsInitialized() (bool, error) {
	recs, err := c.Query(&types.ChainFilter{ActionTypes: []types.ActionType{types.ActionInitZomesComplete}})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Genesis writes the three genesis actions: Dna, AgentValidationPkg and the
// Create of the agent key. It is a no-op on a chain that already has them.
func (c *SourceChain) Genesis(membraneProof []byte) ([]*types.DhtOp, error) {
	n, err := c.Len()
	if err != nil {
		return nil, err
	}
	if n >= 3 {
		return nil, nil
	}
	if n != 0 {
		return nil, invalidChain("partial genesis with %d actions", n)
	}

	ws, err := c.NewWorkspace(Strict)
	if err != nil {
		return nil, err
	}
	if _, err := ws.Put(types.NewDna(c.dna), nil); err != nil {
		return nil, err
	}
	if _, err := ws.Put(types.NewAgentValidationPkg(membraneProof), nil); err != nil {
		return nil, err
	}
	agentEntry := types.NewAgentEntry(c.agent)
	if _, err := ws.Put(types.NewCreate(types.AgentEntryType(), agentEntry.Hash()), agentEntry); err != nil {
		return nil, err
	}

	ops, err := ws.Flush()
	if err != nil {
		return nil, err
	}
	c.logger.WithField("ops", len(ops)).Debug("Genesis complete")
	return ops, nil
}

func (c *SourceChain) sign(a *types.Action) (*types.SignedAction, error) {
	data, err := a.Marshal()
	if err != nil {
		return nil, err
	}
	sig, err := c.signer.Sign(ed25519.PublicKey(c.agent.Core()), data)
	if err != nil {
		return nil, err
	}
	return types.NewSignedAction(*a, sig), nil
}
