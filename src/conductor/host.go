package conductor

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// hostFns is the host side of one zome call. Writes go to the call's
// workspace; reads go through a cascade that sees the workspace first.
type hostFns struct {
	ctx       context.Context
	cell      *Cell
	ws        *sourcechain.Workspace
	cascade   *cascade.Cascade
	zomeIndex uint8
}

var _ guest.HostAPI = (*hostFns)(nil)

func newHostFns(ctx context.Context, cell *Cell, ws *sourcechain.Workspace, zomeIndex uint8) *hostFns {
	return &hostFns{
		ctx:       ctx,
		cell:      cell,
		ws:        ws,
		cascade:   cell.Cascade().WithScratch(ws.Scratch()),
		zomeIndex: zomeIndex,
	}
}

func (h *hostFns) AgentInfo() guest.AgentInfo {
	info := guest.AgentInfo{
		Agent:   h.cell.id.Agent,
		DnaHash: h.cell.id.Dna,
	}
	if head := h.ws.Head(); head != nil {
		info.Head = head.Hash
		info.Seq = head.Seq
	}
	return info
}

func (h *hostFns) Dna() *types.DnaDef {
	return h.cell.space.ribosome.Dna()
}

func (h *hostFns) ZomeIndex() uint8 {
	return h.zomeIndex
}

func (h *hostFns) Create(entryType types.EntryType, entry *types.Entry) (hh.ActionHash, error) {
	if entry == nil {
		return hh.ActionHash{}, fmt.Errorf("create without entry")
	}
	return h.ws.Put(types.NewCreate(entryType, entry.Hash()), entry)
}

// original fetches the action a write refers to.
func (h *hostFns) original(target hh.ActionHash, what string) (*types.Action, error) {
	r, err := h.cascade.Get(h.ctx, target, types.GetOptions{})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%s: action %s not found", what, target)
	}
	return r.Action(), nil
}

func (h *hostFns) Update(original hh.ActionHash, entry *types.Entry) (hh.ActionHash, error) {
	if entry == nil {
		return hh.ActionHash{}, fmt.Errorf("update without entry")
	}
	a, err := h.original(original, "update")
	if err != nil {
		return hh.ActionHash{}, err
	}
	if !a.HasEntry() {
		return hh.ActionHash{}, fmt.Errorf("update: %s action has no entry", a.Type)
	}
	return h.ws.Put(types.NewUpdate(original, a.EntryHash, *a.EntryType, entry.Hash()), entry)
}

func (h *hostFns) Delete(target hh.ActionHash) (hh.ActionHash, error) {
	a, err := h.original(target, "delete")
	if err != nil {
		return hh.ActionHash{}, err
	}
	if !a.HasEntry() {
		return hh.ActionHash{}, fmt.Errorf("delete: %s action has no entry", a.Type)
	}
	return h.ws.Put(types.NewDelete(target, a.EntryHash), nil)
}

func (h *hostFns) CreateLink(base, target hh.AnyLinkable, linkType uint8, tag []byte) (hh.ActionHash, error) {
	return h.ws.Put(types.NewCreateLink(base, target, h.zomeIndex, linkType, tag), nil)
}

func (h *hostFns) DeleteLink(createLink hh.ActionHash) (hh.ActionHash, error) {
	a, err := h.original(createLink, "delete link")
	if err != nil {
		return hh.ActionHash{}, err
	}
	if a.Type != types.ActionCreateLink {
		return hh.ActionHash{}, fmt.Errorf("delete link: %s is a %s action", createLink, a.Type)
	}
	return h.ws.Put(types.NewDeleteLink(createLink, a.Base), nil)
}

func (h *hostFns) CloseChain(newDna hh.DnaHash) (hh.ActionHash, error) {
	return h.ws.Put(types.NewCloseChain(newDna), nil)
}

func (h *hostFns) OpenChain(prevDna hh.DnaHash) (hh.ActionHash, error) {
	return h.ws.Put(types.NewOpenChain(prevDna), nil)
}

func (h *hostFns) Get(hash hh.HoloHash, opts types.GetOptions) (*types.Record, error) {
	return h.cascade.Get(h.ctx, hash, opts)
}

func (h *hostFns) GetDetails(hash hh.HoloHash, opts types.GetOptions) (*types.Details, error) {
	return h.cascade.GetDetails(h.ctx, hash, opts)
}

func (h *hostFns) GetLinks(base hh.AnyLinkable, query types.LinkQuery, opts types.GetOptions) ([]types.Link, error) {
	return h.cascade.GetLinks(h.ctx, base, query, opts)
}

func (h *hostFns) GetAgentActivity(agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) (*types.AgentActivity, error) {
	return h.cascade.GetAgentActivity(h.ctx, agent, filter, req, types.GetOptions{})
}

// Query reads the cell's own chain, staged actions included.
func (h *hostFns) Query(filter *types.ChainFilter) ([]*types.Record, error) {
	recs, err := h.cell.chain.Query(filter)
	if err != nil {
		return nil, err
	}
	var staged []*types.Record
	for _, r := range h.ws.Scratch().Records() {
		if !filter.Matches(r.Action()) {
			continue
		}
		rc := *r
		if filter == nil || !filter.IncludeEntries {
			rc.Entry = nil
		}
		staged = append(staged, &rc)
	}
	if filter != nil && filter.Descending {
		for _, r := range staged {
			recs = append([]*types.Record{r}, recs...)
		}
		return recs, nil
	}
	return append(recs, staged...), nil
}
