package cascade

import (
	"context"
	"sort"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// GetAgentActivity returns what this node and, with a network strategy, the
// agent's authorities know of an agent's chain.
func (c *Cascade) GetAgentActivity(ctx context.Context, agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest, opts types.GetOptions) (*types.AgentActivity, error) {
	local, err := c.localActivity(agent, filter, req)
	if err != nil {
		return nil, err
	}
	if !c.useNetwork(opts) {
		return local, nil
	}

	remote, err := c.network.GetAgentActivity(ctx, agent, filter, req)
	if err != nil {
		c.logger.WithError(err).WithField("agent", agent.String()).Debug("Network get_agent_activity failed")
	}
	c.cacheWarrants(remote)
	return MergeActivity(agent, req, append(remote, local)...), nil
}

func (c *Cascade) localActivity(agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) (*types.AgentActivity, error) {
	ops, err := c.gather(agent, types.OpRegisterAgentActivity)
	if err != nil {
		return nil, err
	}
	var warrants []types.SignedWarrant
	for _, st := range []*store.Store{c.dht, c.cache} {
		if st == nil {
			continue
		}
		err := st.View(func(txn *store.Txn) error {
			ws, err := txn.Warrants(agent)
			warrants = append(warrants, ws...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return buildActivity(agent, ops, warrants, filter, req), nil
}

func (c *Cascade) cacheWarrants(acts []*types.AgentActivity) {
	if c.cache == nil {
		return
	}
	err := c.cache.Update(func(txn *store.Txn) error {
		for _, act := range acts {
			for i := range act.Warrants {
				w := &act.Warrants[i]
				if err := w.Verify(); err != nil {
					c.logger.WithError(err).Debug("Dropping fetched warrant")
					continue
				}
				if _, err := txn.PutWarrant(w); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Error("Caching warrants")
	}
}

// buildActivity summarises the RegisterAgentActivity ops of an agent. Status
// and highest observed cover every op; the action lists respect filter.
func buildActivity(agent hh.AgentPubKey, ops []*held, warrants []types.SignedWarrant, filter *types.ChainFilter, req types.ActivityRequest) *types.AgentActivity {
	act := &types.AgentActivity{Agent: agent, Warrants: warrants}
	var valid, rejected []types.ChainItem
	for _, o := range ops {
		if !o.final || o.status == types.Abandoned {
			continue
		}
		a := o.action()
		item := types.ChainItem{Seq: a.Seq, Hash: o.op.Action.Hash()}
		observe(act, item)
		if !filter.Matches(a) {
			continue
		}
		if o.status == types.Valid {
			valid = append(valid, item)
		} else {
			rejected = append(rejected, item)
		}
	}
	act.ValidActions = valid
	act.RejectedActions = rejected
	finishActivity(act, req)
	return act
}

func observe(act *types.AgentActivity, item types.ChainItem) {
	ho := act.HighestObserved
	switch {
	case ho == nil || item.Seq > ho.Seq:
		act.HighestObserved = &types.HighestObserved{Seq: item.Seq, Hashes: []hh.ActionHash{item.Hash}}
	case item.Seq == ho.Seq:
		for _, h := range ho.Hashes {
			if h == item.Hash {
				return
			}
		}
		ho.Hashes = append(ho.Hashes, item.Hash)
	}
}

// finishActivity sorts the lists and derives the chain status: Invalid once
// any warrant is known, Forked when two valid actions share a seq. A status
// already set is only ever made worse.
func finishActivity(act *types.AgentActivity, req types.ActivityRequest) {
	act.ValidActions = sortItems(act.ValidActions)
	act.RejectedActions = sortItems(act.RejectedActions)

	status := types.ChainValid
	switch {
	case len(act.Warrants) > 0:
		status = types.ChainInvalid
	case hasFork(act.ValidActions):
		status = types.ChainForked
	case act.HighestObserved == nil:
		status = types.ChainEmpty
	}
	if status > act.Status {
		act.Status = status
	}
	if act.HighestObserved != nil {
		sort.Slice(act.HighestObserved.Hashes, func(i, j int) bool {
			return hh.Compare(act.HighestObserved.Hashes[i], act.HighestObserved.Hashes[j]) < 0
		})
	}
	if req == types.ActivityStatus {
		act.ValidActions = nil
		act.RejectedActions = nil
	}
}

func sortItems(items []types.ChainItem) []types.ChainItem {
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Seq != items[j].Seq {
			return items[i].Seq < items[j].Seq
		}
		return hh.Compare(items[i].Hash, items[j].Hash) < 0
	})
	out := items[:1]
	for _, it := range items[1:] {
		if it != out[len(out)-1] {
			out = append(out, it)
		}
	}
	return out
}

func hasFork(sorted []types.ChainItem) bool {
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Seq == sorted[i-1].Seq {
			return true
		}
	}
	return false
}

// MergeActivity combines the answers of several holders into one.
func MergeActivity(agent hh.AgentPubKey, req types.ActivityRequest, acts ...*types.AgentActivity) *types.AgentActivity {
	merged := &types.AgentActivity{Agent: agent}
	seenWarrant := make(map[hh.WarrantHash]bool)
	for _, act := range acts {
		if act == nil {
			continue
		}
		if act.Status > merged.Status {
			merged.Status = act.Status
		}
		merged.ValidActions = append(merged.ValidActions, act.ValidActions...)
		merged.RejectedActions = append(merged.RejectedActions, act.RejectedActions...)
		if act.HighestObserved != nil {
			for _, h := range act.HighestObserved.Hashes {
				observe(merged, types.ChainItem{Seq: act.HighestObserved.Seq, Hash: h})
			}
		}
		for _, w := range act.Warrants {
			wh := w.Warrant.Hash()
			if !seenWarrant[wh] {
				seenWarrant[wh] = true
				merged.Warrants = append(merged.Warrants, w)
			}
		}
	}
	finishActivity(merged, req)
	return merged
}
