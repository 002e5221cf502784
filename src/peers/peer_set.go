package peers

import (
	"bytes"
	"encoding/json"
	"sort"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// PeerSet is an immutable set of peers
type PeerSet struct {
	Peers   []*Peer                  `json:"peers"`
	ByAgent map[hh.AgentPubKey]*Peer `json:"-"`
	ByAddr  map[string]*Peer         `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers. The first occurence
// of an agent wins.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByAgent: make(map[hh.AgentPubKey]*Peer),
		ByAddr:  make(map[string]*Peer),
	}

	for _, peer := range peers {
		if _, ok := peerSet.ByAgent[peer.Agent]; ok {
			continue
		}
		peerSet.ByAgent[peer.Agent] = peer
		peerSet.ByAddr[peer.NetAddr] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON list of peers
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}
	if err := json.NewDecoder(bytes.NewBuffer(peerSliceBytes)).Decode(&peers); err != nil {
		return nil, err
	}
	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer{}, peerSet.Peers...)
	return NewPeerSet(append(peers, peer))
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided agent
func (peerSet *PeerSet) WithRemovedPeer(agent hh.AgentPubKey) *PeerSet {
	_, others := ExcludePeer(peerSet.Peers, agent)
	return NewPeerSet(others)
}

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Agents returns the agent keys of the set, in insertion order.
func (peerSet *PeerSet) Agents() []hh.AgentPubKey {
	res := make([]hh.AgentPubKey, 0, len(peerSet.Peers))
	for _, p := range peerSet.Peers {
		res = append(res, p.Agent)
	}
	return res
}

// Nearest returns the n peers closest to the location of basis on the ring.
// Ties are broken by agent key so every node computes the same answer.
func (peerSet *PeerSet) Nearest(basis hh.HoloHash, n int) []*Peer {
	loc := basis.Location()
	sorted := append([]*Peer{}, peerSet.Peers...)
	sort.Slice(sorted, func(i, j int) bool {
		di := hh.RingDistance(sorted[i].Location(), loc)
		dj := hh.RingDistance(sorted[j].Location(), loc)
		if di != dj {
			return di < dj
		}
		return hh.Compare(sorted[i].Agent, sorted[j].Agent) < 0
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// IsAuthority reports whether agent is among the n nearest peers of basis.
func (peerSet *PeerSet) IsAuthority(agent hh.AgentPubKey, basis hh.HoloHash, n int) bool {
	for _, p := range peerSet.Nearest(basis, n) {
		if p.Agent == agent {
			return true
		}
	}
	return false
}

// Marshal encodes the list of peers as JSON.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
