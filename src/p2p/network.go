// Package p2p connects the cells of a DNA space to the other nodes of the
// network. It picks the authorities of a basis from the peer set and talks to
// them through a net.Transport.
package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultRedundancy is the number of authorities per basis.
const DefaultRedundancy = 5

// maxInFlight bounds the concurrent requests of one fan out.
const maxInFlight = 8

// Network is the transport-backed networking collaborator of a DNA space. It
// implements cascade.Network.
type Network struct {
	dna        hh.DnaHash
	trans      net.Transport
	redundancy int
	logger     *logrus.Entry

	sync.RWMutex
	peerSet *peers.PeerSet
	local   map[hh.AgentPubKey]bool
}

var _ cascade.Network = (*Network)(nil)

// New creates a Network for a DNA over a transport.
func New(dna hh.DnaHash, trans net.Transport, peerSet *peers.PeerSet, redundancy int, logger *logrus.Entry) *Network {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	if peerSet == nil {
		peerSet = peers.NewPeerSet(nil)
	}
	if redundancy <= 0 {
		redundancy = DefaultRedundancy
	}
	return &Network{
		dna:        dna,
		trans:      trans,
		redundancy: redundancy,
		peerSet:    peerSet,
		local:      make(map[hh.AgentPubKey]bool),
		logger:     logger.WithField("component", "p2p"),
	}
}

// Dna returns the hash of the DNA this network serves.
func (n *Network) Dna() hh.DnaHash {
	return n.dna
}

// Redundancy returns the number of authorities per basis.
func (n *Network) Redundancy() int {
	return n.redundancy
}

// PeerSet returns the current peer set.
func (n *Network) PeerSet() *peers.PeerSet {
	n.RLock()
	defer n.RUnlock()
	return n.peerSet
}

// SetPeerSet replaces the peer set.
func (n *Network) SetPeerSet(ps *peers.PeerSet) {
	n.Lock()
	n.peerSet = ps
	n.Unlock()
}

// Join adds a local agent to the peer set at this node's advertise address.
func (n *Network) Join(agent hh.AgentPubKey, moniker string) {
	n.Lock()
	defer n.Unlock()
	n.local[agent] = true
	if _, ok := n.peerSet.ByAgent[agent]; !ok {
		n.peerSet = n.peerSet.WithNewPeer(peers.NewPeer(agent, n.trans.AdvertiseAddr(), moniker))
	}
}

// IsLocal reports whether an agent runs on this node.
func (n *Network) IsLocal(agent hh.AgentPubKey) bool {
	n.RLock()
	defer n.RUnlock()
	return n.local[agent]
}

// Authorities returns the peers that hold basis.
func (n *Network) Authorities(basis hh.HoloHash) []*peers.Peer {
	return n.PeerSet().Nearest(basis, n.redundancy)
}

// IsAuthority reports whether any agent of this node is an authority for
// basis.
func (n *Network) IsAuthority(basis hh.HoloHash) bool {
	for _, p := range n.Authorities(basis) {
		if n.IsLocal(p.Agent) {
			return true
		}
	}
	return false
}

// remoteAddrs returns the distinct addresses of the authorities of basis
// that are not served by this node.
func (n *Network) remoteAddrs(basis hh.HoloHash) []string {
	self := n.trans.AdvertiseAddr()
	seen := make(map[string]bool)
	var res []string
	for _, p := range n.Authorities(basis) {
		if p.NetAddr == self || seen[p.NetAddr] {
			continue
		}
		seen[p.NetAddr] = true
		res = append(res, p.NetAddr)
	}
	return res
}

// fanOut calls fn for every target with bounded concurrency. Individual
// failures are logged and skipped; the context error is returned if it was
// cancelled.
func (n *Network) fanOut(ctx context.Context, targets []string, what string, fn func(target string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(target); err != nil {
				n.logger.WithFields(logrus.Fields{
					"target": target,
					"rpc":    what,
					"error":  err,
				}).Debug("rpc failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Get implements cascade.Network.
func (n *Network) Get(ctx context.Context, h hh.HoloHash) ([]cascade.Response, error) {
	basis := h
	if h.Type() == hh.Agent {
		basis = h.Retype(hh.Entry)
	}
	var l sync.Mutex
	var res []cascade.Response
	err := n.fanOut(ctx, n.remoteAddrs(basis), "get", func(target string) error {
		var resp net.GetResponse
		if err := n.trans.Get(target, &net.GetRequest{Dna: n.dna, Hash: h}, &resp); err != nil {
			return err
		}
		l.Lock()
		res = append(res, cascade.Response{From: target, Ops: resp.Ops})
		l.Unlock()
		return nil
	})
	return res, err
}

// GetLinks implements cascade.Network.
func (n *Network) GetLinks(ctx context.Context, base hh.AnyLinkable, query types.LinkQuery) ([]cascade.Response, error) {
	var l sync.Mutex
	var res []cascade.Response
	args := net.GetLinksRequest{Dna: n.dna, Base: base, Query: query}
	err := n.fanOut(ctx, n.remoteAddrs(base), "get_links", func(target string) error {
		var resp net.GetLinksResponse
		if err := n.trans.GetLinks(target, &args, &resp); err != nil {
			return err
		}
		l.Lock()
		res = append(res, cascade.Response{From: target, Ops: resp.Ops})
		l.Unlock()
		return nil
	})
	return res, err
}

// GetAgentActivity implements cascade.Network.
func (n *Network) GetAgentActivity(ctx context.Context, agent hh.AgentPubKey, filter *types.ChainFilter, req types.ActivityRequest) ([]*types.AgentActivity, error) {
	var l sync.Mutex
	var res []*types.AgentActivity
	args := net.GetAgentActivityRequest{Dna: n.dna, Agent: agent, Filter: filter, Request: req}
	err := n.fanOut(ctx, n.remoteAddrs(agent), "get_agent_activity", func(target string) error {
		var resp net.GetAgentActivityResponse
		if err := n.trans.GetAgentActivity(target, &args, &resp); err != nil {
			return err
		}
		if resp.Activity.Agent != agent {
			return fmt.Errorf("activity for the wrong agent %s", resp.Activity.Agent)
		}
		l.Lock()
		res = append(res, &resp.Activity)
		l.Unlock()
		return nil
	})
	return res, err
}

// Publish sends ops to the remote authorities of their basis. It returns, per
// op hash, the number of authorities that took the op in.
func (n *Network) Publish(ctx context.Context, ops []*types.DhtOp) (map[hh.OpHash]int, error) {
	byTarget := make(map[string][]*types.DhtOp)
	for _, op := range ops {
		for _, addr := range n.remoteAddrs(op.Basis()) {
			byTarget[addr] = append(byTarget[addr], op)
		}
	}

	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}

	var l sync.Mutex
	sent := make(map[hh.OpHash]int)
	self := n.trans.AdvertiseAddr()
	err := n.fanOut(ctx, targets, "publish", func(target string) error {
		args := net.PublishRequest{From: self, Dna: n.dna}
		for _, op := range byTarget[target] {
			args.Ops = append(args.Ops, *op)
			args.Hashes = append(args.Hashes, op.Hash())
		}
		var resp net.PublishResponse
		if err := n.trans.Publish(target, &args, &resp); err != nil {
			return err
		}
		l.Lock()
		for _, h := range args.Hashes {
			sent[h]++
		}
		l.Unlock()
		return nil
	})
	return sent, err
}

// SendReceipts delivers validation receipts to the node of the author.
func (n *Network) SendReceipts(ctx context.Context, author hh.AgentPubKey, receipts []types.SignedValidationReceipt) error {
	peer, ok := n.PeerSet().ByAgent[author]
	if !ok {
		return fmt.Errorf("no address for author %s", author)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var resp net.ValidationReceiptResponse
	return n.trans.ValidationReceipts(peer.NetAddr, &net.ValidationReceiptRequest{Dna: n.dna, Receipts: receipts}, &resp)
}

// SendWarrants sends warrants to the neighbourhood of the warranted agent.
func (n *Network) SendWarrants(ctx context.Context, warrants []types.SignedWarrant) error {
	byTarget := make(map[string][]types.SignedWarrant)
	for _, w := range warrants {
		for _, addr := range n.remoteAddrs(w.Warrant.Author) {
			byTarget[addr] = append(byTarget[addr], w)
		}
	}
	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	return n.fanOut(ctx, targets, "warrants", func(target string) error {
		var resp net.WarrantResponse
		return n.trans.Warrants(target, &net.WarrantRequest{Dna: n.dna, Warrants: byTarget[target]}, &resp)
	})
}
