// Package cascade is the read path of a cell. It answers gets, details, links
// and agent activity from, in order, the call's scratch, the authored store,
// the DHT store, the cache store and finally the network. It also holds the
// authority side of those reads.
package cascade

import (
	"context"
	"sort"

	"github.com/mosaicnetworks/cellchain/src/dhtop"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// Network fetches from the authorities of a basis. Each answer carries the
// address of the authority that gave it.
type Network interface {
	Get(ctx context.Context, h hh.HoloHash) ([]Response, error)
	GetLinks(ctx context.Context, base hh.AnyLinkable, query types.LinkQuery) ([]Response, error)
	GetAgentActivity(ctx context.Context, agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) ([]*types.AgentActivity, error)
}

// Response is the answer of one authority.
type Response struct {
	From string
	Ops  []types.HeldOp
}

// Cascade reads across the stores of a cell. The zero values of the optional
// sources are skipped. A Cascade is cheap to derive and is not meant to be
// shared across calls once a scratch is attached.
type Cascade struct {
	scratch  *sourcechain.Scratch
	authored *store.Store
	dht      *store.Store
	cache    *store.Store
	network  Network
	logger   *logrus.Entry
}

// New creates a Cascade over the DHT and cache stores of a DNA space.
// network may be nil for a local-only cascade.
func New(dht, cache *store.Store, network Network, logger *logrus.Entry) *Cascade {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	return &Cascade{
		dht:     dht,
		cache:   cache,
		network: network,
		logger:  logger.WithField("component", "cascade"),
	}
}

// WithAuthored returns a copy that also reads a cell's authored store.
func (c *Cascade) WithAuthored(authored *store.Store) *Cascade {
	cc := *c
	cc.authored = authored
	return &cc
}

// WithScratch returns a copy that also reads a workspace's staged records.
func (c *Cascade) WithScratch(s *sourcechain.Scratch) *Cascade {
	cc := *c
	cc.scratch = s
	return &cc
}

// WithoutNetwork returns a local-only copy.
func (c *Cascade) WithoutNetwork() *Cascade {
	cc := *c
	cc.network = nil
	return &cc
}

// held is an op as one of the sources knows it.
type held struct {
	op      *types.DhtOp
	hash    hh.OpHash
	status  types.ValidationStatus
	final   bool
	pending bool
}

func (h *held) valid() bool {
	return h.final && h.status == types.Valid
}

func (h *held) action() *types.Action {
	return &h.op.Action.Action
}

// gather collects the ops of some types on a basis from every local source,
// keeping the first copy of each op.
func (c *Cascade) gather(basis hh.HoloHash, opTypes ...types.OpType) ([]*held, error) {
	seen := make(map[hh.OpHash]int)
	var res []*held
	add := func(h *held) {
		if i, ok := seen[h.hash]; ok {
			if res[i].pending && h.final {
				res[i] = h
			}
			return
		}
		seen[h.hash] = len(res)
		res = append(res, h)
	}

	if c.scratch != nil {
		for _, r := range c.scratch.Records() {
			ops, err := dhtop.ProduceOps(r)
			if err != nil {
				continue
			}
			for _, op := range ops {
				if op.Basis() == basis && hasType(opTypes, op.Type) {
					add(&held{op: op, hash: op.Hash(), status: types.Valid, final: true})
				}
			}
		}
	}

	for _, st := range []*store.Store{c.authored, c.dht, c.cache} {
		if st == nil {
			continue
		}
		kind := st.Kind()
		err := st.View(func(txn *store.Txn) error {
			recs, err := txn.OpsByBasis(basis, opTypes...)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if i, ok := seen[rec.Hash]; ok && !res[i].pending {
					continue
				}
				h := heldFromRecord(kind, rec)
				op, err := txn.LoadOp(rec)
				if err != nil {
					return err
				}
				h.op = op
				add(h)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// heldFromRecord decides what an op row says about its op. Authored ops are
// the cell's own and count as valid. DHT and cache rows count once they have
// a final status.
func heldFromRecord(kind store.Kind, rec *store.OpRecord) *held {
	h := &held{hash: rec.Hash}
	switch {
	case kind == store.Authored:
		h.status = types.Valid
		h.final = true
	case rec.Stage == store.StageIntegrated && rec.Validated:
		h.status = rec.Status
		h.final = true
	case rec.Stage == store.StageAbandoned:
		h.status = types.Abandoned
		h.final = true
	default:
		h.pending = true
	}
	return h
}

func hasType(opTypes []types.OpType, t types.OpType) bool {
	if len(opTypes) == 0 {
		return true
	}
	for _, ot := range opTypes {
		if ot == t {
			return true
		}
	}
	return false
}

// findEntry looks for an entry in every local source. Private entries are
// only ever found in the scratch and the authored store.
func (c *Cascade) findEntry(h hh.EntryHash) (*types.Entry, error) {
	if c.scratch != nil {
		if e := c.scratch.GetEntry(h); e != nil {
			return e, nil
		}
	}
	for _, st := range []*store.Store{c.authored, c.dht, c.cache} {
		if st == nil {
			continue
		}
		var entry *types.Entry
		err := st.View(func(txn *store.Txn) error {
			e, err := txn.GetEntry(h)
			if err == nil {
				entry = e
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// cacheResponses writes what authorities answered into the cache store. Ops
// that fail their own signature or entry checks are dropped.
func (c *Cascade) cacheResponses(responses []Response) {
	if c.cache == nil {
		return
	}
	err := c.cache.Update(func(txn *store.Txn) error {
		for _, resp := range responses {
			for i := range resp.Ops {
				ho := &resp.Ops[i]
				op := &ho.Op
				if !op.Action.Verify() {
					c.logger.WithField("from", resp.From).Debug("Dropping fetched op with a bad signature")
					continue
				}
				if op.Entry != nil && op.Entry.Hash() != op.Action.Action.EntryHash {
					c.logger.WithField("from", resp.From).Debug("Dropping fetched op with a mismatched entry")
					continue
				}
				rec := store.NewOpRecord(op)
				rec.Stage = store.StageIntegrated
				if ho.Status == types.Abandoned {
					rec.Stage = store.StageAbandoned
				}
				rec.SetStatus(ho.Status)
				rec.WhenIntegrated = types.Now()
				rec.Authority = resp.From
				if _, err := txn.InsertOp(op, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Error("Caching fetched ops")
	}
}

func sortActions(as []types.ActionWithStatus) {
	sort.Slice(as, func(i, j int) bool {
		return olderThan(&as[i].Action, &as[j].Action)
	})
}

// olderThan orders actions by (timestamp, action hash).
func olderThan(a, b *types.SignedAction) bool {
	if a.Action.Timestamp != b.Action.Timestamp {
		return a.Action.Timestamp < b.Action.Timestamp
	}
	return hh.Compare(a.Hash(), b.Hash()) < 0
}
