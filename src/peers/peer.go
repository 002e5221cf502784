package peers

import (
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Peer is a node running cells for an agent.
type Peer struct {
	NetAddr string         `json:"NetAddr"`
	Agent   hh.AgentPubKey `json:"Agent"`
	Moniker string         `json:"Moniker,omitempty"`
}

// NewPeer creates a new peer.
func NewPeer(agent hh.AgentPubKey, netAddr, moniker string) *Peer {
	return &Peer{
		NetAddr: netAddr,
		Agent:   agent,
		Moniker: moniker,
	}
}

// Location is the position of the peer on the DHT ring.
func (p *Peer) Location() uint32 {
	return p.Agent.Location()
}

// String returns the moniker if there is one, the agent key otherwise.
func (p *Peer) String() string {
	if p.Moniker != "" {
		return p.Moniker
	}
	return p.Agent.String()
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, agent hh.AgentPubKey) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.Agent != agent {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
