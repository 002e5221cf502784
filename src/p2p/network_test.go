package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

type node struct {
	agent hh.AgentPubKey
	trans *net.InmemTransport
	got   chan *net.PublishRequest
}

// answer serves requests until the transport is dropped by the test.
func (nd *node) answer(ctx context.Context) {
	for {
		select {
		case rpc := <-nd.trans.Consumer():
			switch cmd := rpc.Command.(type) {
			case *net.PublishRequest:
				nd.got <- cmd
				rpc.Respond(&net.PublishResponse{Accepted: len(cmd.Ops)}, nil)
			case *net.GetAgentActivityRequest:
				rpc.Respond(&net.GetAgentActivityResponse{Activity: types.AgentActivity{Agent: cmd.Agent, Status: types.ChainValid}}, nil)
			default:
				rpc.Respond(nil, fmt.Errorf("unexpected %T", cmd))
			}
		case <-ctx.Done():
			return
		}
	}
}

func newCluster(t *testing.T, n int) ([]*node, *peers.PeerSet) {
	ks := keys.NewMemKeystore()
	var nodes []*node
	var ps []*peers.Peer
	for i := 0; i < n; i++ {
		pub, err := ks.GenerateSignKeypair()
		if err != nil {
			t.Fatal(err)
		}
		agent, _ := hh.FromAgentKey(pub)
		_, trans := net.NewInmemTransport("")
		nodes = append(nodes, &node{agent: agent, trans: trans, got: make(chan *net.PublishRequest, 16)})
		ps = append(ps, peers.NewPeer(agent, trans.LocalAddr(), fmt.Sprintf("node%d", i)))
	}
	for _, a := range nodes {
		for _, b := range nodes {
			a.trans.Connect(b.trans.LocalAddr(), b.trans)
		}
	}
	return nodes, peers.NewPeerSet(ps)
}

func testOp(t *testing.T, basisSeed string) *types.DhtOp {
	ks := keys.NewMemKeystore()
	pub, _ := ks.GenerateSignKeypair()
	agent, _ := hh.FromAgentKey(pub)
	e := types.NewAppEntry([]byte(basisSeed))
	a := types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()).
		Build(agent, types.Now(), 3, hh.HashContent(hh.Action, []byte("prev")))
	data, _ := a.Marshal()
	sig, err := ks.Sign(pub, data)
	if err != nil {
		t.Fatal(err)
	}
	return &types.DhtOp{Type: types.OpStoreEntry, Action: *types.NewSignedAction(a, sig), Entry: e}
}

func TestAuthorities(t *testing.T) {
	nodes, ps := newCluster(t, 6)
	dna := hh.HashContent(hh.Dna, []byte("dna"))
	nw := New(dna, nodes[0].trans, ps, 3, common.NewTestEntry(t, logrus.DebugLevel))
	nw.Join(nodes[0].agent, "node0")

	basis := hh.HashContent(hh.Entry, []byte("x"))
	auths := nw.Authorities(basis)
	if len(auths) != 3 {
		t.Fatalf("expected 3 authorities, got %d", len(auths))
	}

	local := false
	for _, p := range auths {
		if p.Agent == nodes[0].agent {
			local = true
		}
	}
	if nw.IsAuthority(basis) != local {
		t.Fatalf("IsAuthority disagrees with the authority list")
	}
	for _, addr := range nw.remoteAddrs(basis) {
		if addr == nodes[0].trans.LocalAddr() {
			t.Fatalf("remote authorities must not include this node")
		}
	}
}

func TestPublishReachesAuthorities(t *testing.T) {
	nodes, ps := newCluster(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, nd := range nodes[1:] {
		go nd.answer(ctx)
	}

	dna := hh.HashContent(hh.Dna, []byte("dna"))
	nw := New(dna, nodes[0].trans, ps, 4, common.NewTestEntry(t, logrus.DebugLevel))
	nw.Join(nodes[0].agent, "node0")

	op := testOp(t, "published")
	sent, err := nw.Publish(ctx, []*types.DhtOp{op})
	if err != nil {
		t.Fatal(err)
	}
	// every other node is an authority with redundancy 4
	if sent[op.Hash()] != 3 {
		t.Fatalf("op should reach 3 remote authorities, reached %d", sent[op.Hash()])
	}
	for _, nd := range nodes[1:] {
		req := <-nd.got
		if req.Dna != dna || len(req.Ops) != 1 || req.Hashes[0] != op.Hash() {
			t.Fatalf("bad publish request")
		}
		if req.From != nodes[0].trans.LocalAddr() {
			t.Fatalf("publish should carry the sender address")
		}
	}
}

func TestGetAgentActivitySkipsDeadPeers(t *testing.T) {
	nodes, ps := newCluster(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go nodes[1].answer(ctx)
	// nodes[2] never answers
	nodes[0].trans.SetTimeout(100 * time.Millisecond)

	dna := hh.HashContent(hh.Dna, []byte("dna"))
	nw := New(dna, nodes[0].trans, ps, 3, common.NewTestEntry(t, logrus.DebugLevel))

	acts, err := nw.GetAgentActivity(ctx, nodes[1].agent, nil, types.ActivityStatus)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 || acts[0].Status != types.ChainValid {
		t.Fatalf("expected exactly one answer, got %d", len(acts))
	}
}
