package conductor

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
)

var (
	bg      = context.Background()
	local   = types.GetOptions{Strategy: types.GetLocal}
	msgType = types.AppEntryType(0, 0, types.Public)
)

type updateInput struct {
	Original hh.ActionHash `codec:"original"`
	Content  []byte        `codec:"content"`
}

// gate lets a test hold a call after it staged its writes.
type gate struct {
	staged  chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{staged: make(chan struct{}), release: make(chan struct{})}
}

func hashFrom(b []byte) hh.HoloHash {
	var h hh.HoloHash
	copy(h[:], b)
	return h
}

func createMsg(host guest.HostAPI, content []byte) ([]byte, error) {
	h, err := host.Create(msgType, types.NewAppEntry(content))
	if err != nil {
		return nil, err
	}
	return h[:], nil
}

// chatRibosome is a small messaging DNA that refuses messages saying
// "forbidden". seed makes the DNA hash unique to a test.
func chatRibosome(seed string, g *gate, init guest.InitFn) *guest.InlineRibosome {
	chat := guest.NewInlineZome("chat").
		EntryDef("msg", types.Public).
		LinkType("replies").
		Fn("create", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			return createMsg(host, payload)
		}).
		Fn("create_two", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			if _, err := createMsg(host, []byte(string(payload)+"1")); err != nil {
				return nil, err
			}
			return createMsg(host, []byte(string(payload)+"2"))
		}).
		Fn("update", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			var in updateInput
			if err := types.Decode(payload, &in); err != nil {
				return nil, err
			}
			h, err := host.Update(in.Original, types.NewAppEntry(in.Content))
			return h[:], err
		}).
		Fn("delete", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			h, err := host.Delete(hashFrom(payload))
			return h[:], err
		}).
		Fn("get", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			r, err := host.Get(hashFrom(payload), types.GetOptions{})
			if err != nil || r == nil {
				return nil, err
			}
			h := r.ActionHash()
			return h[:], nil
		}).
		Fn("create_then_panic", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			if _, err := createMsg(host, payload); err != nil {
				return nil, err
			}
			panic("after create")
		}).
		Fn("create_then_fail", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			if _, err := createMsg(host, payload); err != nil {
				return nil, err
			}
			return nil, errors.New("refused")
		}).
		Fn("create_and_wait", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			out, err := createMsg(host, payload)
			if err != nil {
				return nil, err
			}
			close(g.staged)
			select {
			case <-g.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return out, nil
		}).
		Fn("link_unknown_type", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			base := hashFrom(payload)
			h, err := host.CreateLink(base, base, 9, nil)
			return h[:], err
		}).
		OnValidate(func(ctx context.Context, op *types.DhtOp, host guest.ValidateAPI) validation.Outcome {
			if op.Entry != nil && string(op.Entry.App) == "forbidden" {
				return validation.Reject("forbidden message")
			}
			return validation.Accept()
		}).
		Fn("grant", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			grant := types.CapGrant{
				Tag:    "create",
				Access: types.CapAccess{Kind: types.Transferable, Secret: payload},
				Functions: types.GrantedFunctions{
					Listed: []types.ZomeFn{{Zome: "chat", Fn: "create"}},
				},
			}
			h, err := host.Create(types.CapGrantEntryType(), types.NewCapGrantEntry(grant))
			return h[:], err
		}).
		Fn("revoke", func(ctx context.Context, host guest.HostAPI, payload []byte) ([]byte, error) {
			h, err := host.Delete(hashFrom(payload))
			return h[:], err
		})
	if init != nil {
		chat.OnInit(init)
	}
	return guest.NewInlineRibosome("chat", seed, nil, chat)
}

// checkWellFormed asserts the chain properties every source chain has.
func checkWellFormed(t *testing.T, recs []*types.Record, agent hh.AgentPubKey, dna hh.DnaHash) {
	if len(recs) < 3 {
		t.Fatalf("chain has %d actions", len(recs))
	}
	if a := recs[0].Action(); a.Type != types.ActionDna || a.DnaHash != dna {
		t.Fatalf("action 0 is a %s for %s", a.Type, a.DnaHash)
	}
	if e := recs[2].Entry; e == nil || e.Kind != types.EntryAgent || e.Agent != agent {
		t.Fatalf("action 2 does not hold the agent key")
	}
	for i, r := range recs {
		a := r.Action()
		if a.Seq != uint32(i) || a.Author != agent || !r.SignedAction.Verify() {
			t.Fatalf("action %d: seq %d, author %s", i, a.Seq, a.Author)
		}
		if i == 0 {
			continue
		}
		prev := recs[i-1]
		if a.PrevAction != prev.ActionHash() {
			t.Fatalf("action %d does not point at action %d", i, i-1)
		}
		if a.Timestamp <= prev.Action().Timestamp {
			t.Fatalf("action %d is not later than action %d", i, i-1)
		}
	}
}

func chainLen(t *testing.T, cell *Cell) int {
	n, err := cell.Chain().Len()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// receiptsAtLeast reports whether every authored op of the cell has n
// receipts.
func receiptsAtLeast(cell *Cell, n int) bool {
	ok := true
	cell.authored.View(func(txn *store.Txn) error {
		return txn.ScanOps(func(r *store.OpRecord) bool {
			if int(r.ReceiptCount) < n {
				ok = false
			}
			return ok
		})
	})
	return ok
}

// forge signs a create on top of parent with the agent's key, outside of
// the agent's chain.
func forge(t *testing.T, ks *keys.MemKeystore, agent hh.AgentPubKey, parent *types.Record, content string) *types.Record {
	e := types.NewAppEntry([]byte(content))
	pa := parent.Action()
	a := types.NewCreate(msgType, e.Hash()).Build(agent, pa.Timestamp+1000, pa.Seq+1, parent.ActionHash())
	data, err := a.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ks.Sign(ed25519.PublicKey(agent.Core()), data)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewRecord(*types.NewSignedAction(a, sig), e)
}
