package cascade

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// Authority answers the reads other nodes send for the bases this node
// holds. Only ops with a final status in the DHT store are served.
type Authority struct {
	local *Cascade
}

// NewAuthority creates an Authority over a DHT store.
func NewAuthority(dht *store.Store, logger *logrus.Entry) *Authority {
	return &Authority{local: New(dht, nil, nil, logger)}
}

func heldOps(ops []*held, keep func(*held) bool) []types.HeldOp {
	res := []types.HeldOp{}
	for _, o := range ops {
		if !o.final || (keep != nil && !keep(o)) {
			continue
		}
		res = append(res, types.HeldOp{Op: *o.op, Status: o.status})
	}
	return res
}

// HandleGet returns the ops that describe an entry or an action: its store
// ops together with its updates and deletes.
func (a *Authority) HandleGet(h hh.HoloHash) ([]types.HeldOp, error) {
	var opTypes []types.OpType
	switch h.Type() {
	case hh.Action:
		opTypes = actionOpTypes
	case hh.Entry, hh.Agent:
		h = h.Retype(hh.Entry)
		opTypes = entryOpTypes
	default:
		return nil, fmt.Errorf("cannot get a %s hash", h.Type())
	}
	ops, err := a.local.gather(h, opTypes...)
	if err != nil {
		return nil, err
	}
	return heldOps(ops, nil), nil
}

// HandleGetLinks returns the link ops on a base. Adds are filtered by query;
// removes are all sent so the requester can refute adds it already holds.
func (a *Authority) HandleGetLinks(base hh.AnyLinkable, query types.LinkQuery) ([]types.HeldOp, error) {
	ops, err := a.local.gather(base, types.OpRegisterAddLink, types.OpRegisterRemoveLink)
	if err != nil {
		return nil, err
	}
	return heldOps(ops, func(o *held) bool {
		return o.op.Type == types.OpRegisterRemoveLink || MatchLink(o.action(), query)
	}), nil
}

// HandleGetAgentActivity returns this authority's view of an agent's chain.
func (a *Authority) HandleGetAgentActivity(agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) (*types.AgentActivity, error) {
	return a.local.localActivity(agent, filter, req)
}
