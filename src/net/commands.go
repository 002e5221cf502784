package net

import (
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// PublishRequest pushes authored ops to an authority of their basis. Hashes
// holds the hash the sender announces for each op.
type PublishRequest struct {
	From   string        `codec:"from"`
	Dna    hh.DnaHash    `codec:"dna"`
	Ops    []types.DhtOp `codec:"ops"`
	Hashes []hh.OpHash   `codec:"hashes"`
}

// PublishResponse reports how many ops the authority took in.
type PublishResponse struct {
	Accepted int `codec:"accepted"`
}

// GetRequest asks an authority for the ops it holds about an entry or an
// action.
type GetRequest struct {
	Dna  hh.DnaHash  `codec:"dna"`
	Hash hh.HoloHash `codec:"hash"`
}

// GetResponse carries the held ops with their validation status.
type GetResponse struct {
	Ops []types.HeldOp `codec:"ops"`
}

// GetLinksRequest asks an authority for the link ops on a base.
type GetLinksRequest struct {
	Dna   hh.DnaHash      `codec:"dna"`
	Base  hh.AnyLinkable  `codec:"base"`
	Query types.LinkQuery `codec:"query"`
}

// GetLinksResponse carries the held link ops.
type GetLinksResponse struct {
	Ops []types.HeldOp `codec:"ops"`
}

// GetAgentActivityRequest asks an agent-activity authority for its view of an
// agent's chain.
type GetAgentActivityRequest struct {
	Dna     hh.DnaHash            `codec:"dna"`
	Agent   hh.AgentPubKey        `codec:"agent"`
	Filter  *types.ChainFilter    `codec:"filter,omitempty"`
	Request types.ActivityRequest `codec:"request"`
}

// GetAgentActivityResponse carries the authority's view.
type GetAgentActivityResponse struct {
	Activity types.AgentActivity `codec:"activity"`
}

// ValidationReceiptRequest delivers signed receipts to the author of the ops.
type ValidationReceiptRequest struct {
	Dna      hh.DnaHash                      `codec:"dna"`
	Receipts []types.SignedValidationReceipt `codec:"receipts"`
}

// ValidationReceiptResponse reports how many receipts were new.
type ValidationReceiptResponse struct {
	Accepted int `codec:"accepted"`
}

// WarrantRequest sends warrants to the neighbourhood of the warranted agent.
type WarrantRequest struct {
	Dna      hh.DnaHash            `codec:"dna"`
	Warrants []types.SignedWarrant `codec:"warrants"`
}

// WarrantResponse reports how many warrants were new.
type WarrantResponse struct {
	Accepted int `codec:"accepted"`
}

// DnaHash implements Request.
func (r *PublishRequest) DnaHash() hh.DnaHash { return r.Dna }

// DnaHash implements Request.
func (r *GetRequest) DnaHash() hh.DnaHash { return r.Dna }

// DnaHash implements Request.
func (r *GetLinksRequest) DnaHash() hh.DnaHash { return r.Dna }

// DnaHash implements Request.
func (r *GetAgentActivityRequest) DnaHash() hh.DnaHash { return r.Dna }

// DnaHash implements Request.
func (r *ValidationReceiptRequest) DnaHash() hh.DnaHash { return r.Dna }

// DnaHash implements Request.
func (r *WarrantRequest) DnaHash() hh.DnaHash { return r.Dna }
