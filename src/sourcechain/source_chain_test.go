package sourcechain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

var testDna = hh.HashContent(hh.Dna, []byte("sourcechain test dna"))

func newTestChain(t *testing.T) *SourceChain {
	ks := keys.NewMemKeystore()
	pub, err := ks.GenerateSignKeypair()
	if err != nil {
		t.Fatal(err)
	}
	agent, err := hh.FromAgentKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	st := store.NewInmemStore(store.Authored, logger)
	return New(st, testDna, agent, ks, logger)
}

func initChain(t *testing.T) *SourceChain {
	c := newTestChain(t)
	if _, err := c.Genesis(nil); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return c
}

func msg(s string) (types.ActionBuilder, *types.Entry) {
	e := types.NewAppEntry([]byte(s))
	return types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), e
}

func putMsg(t *testing.T, ws *Workspace, s string) hh.ActionHash {
	b, e := msg(s)
	h, err := ws.Put(b, e)
	if err != nil {
		t.Fatalf("Put %q: %v", s, err)
	}
	return h
}

func checkWellFormed(t *testing.T, c *SourceChain) []*types.Record {
	recs, err := c.Query(&types.ChainFilter{IncludeEntries: true})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range recs {
		a := r.Action()
		if a.Seq != uint32(i) {
			t.Fatalf("record %d has seq %d", i, a.Seq)
		}
		if !r.SignedAction.Verify() {
			t.Fatalf("record %d has a bad signature", i)
		}
		if i == 0 {
			continue
		}
		prev := recs[i-1]
		if a.PrevAction != prev.ActionHash() {
			t.Fatalf("record %d does not point at record %d", i, i-1)
		}
		if a.Timestamp <= prev.Action().Timestamp {
			t.Fatalf("record %d timestamp %v not after %v", i, a.Timestamp, prev.Action().Timestamp)
		}
	}
	return recs
}

func TestGenesis(t *testing.T) {
	c := newTestChain(t)

	ops, err := c.Genesis([]byte("proof"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) == 0 {
		t.Fatalf("Genesis produced no ops")
	}

	recs := checkWellFormed(t, c)
	if len(recs) != 3 {
		t.Fatalf("chain length should be 3, not %d", len(recs))
	}
	if recs[0].Action().Type != types.ActionDna || recs[0].Action().DnaHash != testDna {
		t.Fatalf("chain[0] should be Dna(%s), got %s", testDna, recs[0].Action().Type)
	}
	if !bytes.Equal(recs[1].Action().MembraneProof, []byte("proof")) {
		t.Fatalf("membrane proof not recorded")
	}
	if recs[2].Entry == nil || recs[2].Entry.Kind != types.EntryAgent || recs[2].Entry.Agent != c.Agent() {
		t.Fatalf("chain[2] should carry the agent entry")
	}

	// A second genesis is a no-op.
	ops, err = c.Genesis(nil)
	if err != nil || ops != nil {
		t.Fatalf("repeated Genesis should be a no-op: %v, %d ops", err, len(ops))
	}
	if n, _ := c.Len(); n != 3 {
		t.Fatalf("Len should be 3, not %d", n)
	}
}

func TestFlushAdvancesHead(t *testing.T) {
	c := initChain(t)

	ws, err := c.NewWorkspace(Strict)
	if err != nil {
		t.Fatal(err)
	}
	h1 := putMsg(t, ws, "one")
	h2 := putMsg(t, ws, "two")

	if ws.Scratch().GetRecord(h1) == nil {
		t.Fatalf("staged record should be readable from the scratch")
	}
	if ws.Scratch().Last().Action().PrevAction != h1 {
		t.Fatalf("second staged action should point at the first")
	}

	ops, err := ws.Flush()
	if err != nil {
		t.Fatal(err)
	}
	// StoreRecord, StoreEntry and RegisterAgentActivity per Create.
	if len(ops) != 6 {
		t.Fatalf("expected 6 ops, got %d", len(ops))
	}
	if !ws.Scratch().IsEmpty() {
		t.Fatalf("scratch should be empty after flush")
	}

	head, err := c.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash != h2 || head.Seq != 4 {
		t.Fatalf("head should be %s at 4, got %s at %d", h2, head.Hash, head.Seq)
	}
	checkWellFormed(t, c)

	c.Store().View(func(txn *store.Txn) error {
		for _, op := range ops {
			rec, err := txn.GetOpRecord(op.Hash())
			if err != nil {
				t.Fatalf("op %s not stored: %v", op.Type, err)
			}
			if !rec.IsAuthored || rec.Stage != store.StagePending || rec.PublishCount != 0 || rec.ReceiptCount != 0 {
				t.Fatalf("op %s has wrong initial state: %+v", op.Type, rec)
			}
		}
		return nil
	})
}

func TestStrictHeadMoved(t *testing.T) {
	c := initChain(t)

	ws1, _ := c.NewWorkspace(Strict)
	ws2, _ := c.NewWorkspace(Strict)
	h1 := putMsg(t, ws1, "first")
	putMsg(t, ws2, "second")

	if _, err := ws1.Flush(); err != nil {
		t.Fatal(err)
	}
	_, err := ws2.Flush()
	if !errors.Is(err, ErrHeadMoved) {
		t.Fatalf("second flush should fail with ErrHeadMoved, got %v", err)
	}
	if !ws2.Scratch().IsEmpty() {
		t.Fatalf("losing scratch should be discarded")
	}

	head, _ := c.Head()
	if head.Hash != h1 || head.Seq != 3 {
		t.Fatalf("head should stay on the winning flush")
	}
	if recs := checkWellFormed(t, c); len(recs) != 4 {
		t.Fatalf("chain should have 4 actions, not %d", len(recs))
	}
}

func TestRelaxedRebase(t *testing.T) {
	c := initChain(t)

	ws1, _ := c.NewWorkspace(Strict)
	ws2, _ := c.NewWorkspace(Relaxed)
	putMsg(t, ws1, "first")
	putMsg(t, ws2, "second")
	putMsg(t, ws2, "third")

	if _, err := ws1.Flush(); err != nil {
		t.Fatal(err)
	}
	ops, err := ws2.Flush()
	if err != nil {
		t.Fatalf("relaxed flush should rebase: %v", err)
	}
	if len(ops) != 6 {
		t.Fatalf("expected 6 ops, got %d", len(ops))
	}

	recs := checkWellFormed(t, c)
	if len(recs) != 6 {
		t.Fatalf("chain should have 6 actions, not %d", len(recs))
	}
	if string(recs[5].Entry.App) != "third" {
		t.Fatalf("rebased actions should keep their order")
	}
	for _, op := range ops {
		if op.Action.Action.Seq < 4 {
			t.Fatalf("ops should be derived from the rebased actions")
		}
	}
}

func TestRebaseRelinksStagedReferences(t *testing.T) {
	c := initChain(t)

	ws1, _ := c.NewWorkspace(Strict)
	ws2, _ := c.NewWorkspace(Relaxed)
	putMsg(t, ws1, "first")

	orig, origEntry := msg("draft")
	created, err := ws2.Put(orig, origEntry)
	if err != nil {
		t.Fatal(err)
	}
	edit := types.NewAppEntry([]byte("final"))
	et := types.AppEntryType(0, 0, types.Public)
	if _, err := ws2.Put(types.NewUpdate(created, origEntry.Hash(), et, edit.Hash()), edit); err != nil {
		t.Fatal(err)
	}
	if _, err := ws2.Put(types.NewCreateLink(created, created, 0, 0, nil), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := ws1.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := ws2.Flush(); err != nil {
		t.Fatalf("relaxed flush should rebase: %v", err)
	}

	recs := checkWellFormed(t, c)
	if len(recs) != 7 {
		t.Fatalf("chain should have 7 actions, not %d", len(recs))
	}
	rebased := recs[4].ActionHash()
	if rebased == created {
		t.Fatalf("rebased create kept its old hash")
	}
	if a := recs[5].Action(); a.OriginalAction != rebased {
		t.Fatalf("update points at %s, want %s", a.OriginalAction, rebased)
	}
	if a := recs[6].Action(); a.Base != rebased || a.Target != rebased {
		t.Fatalf("link should join the rebased create")
	}
}

func TestFailedFlushLeavesStoreUntouched(t *testing.T) {
	c := initChain(t)

	before, err := c.Store().Dump()
	if err != nil {
		t.Fatal(err)
	}

	ws, _ := c.NewWorkspace(Strict)
	putMsg(t, ws, "fine")
	e := types.NewCountersignedEntry([]byte("session"), []byte("joint"))
	if _, err := ws.Put(types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), e); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Flush(); !errors.Is(err, ErrCounterSigningStalled) {
		t.Fatalf("expected ErrCounterSigningStalled, got %v", err)
	}

	after, err := c.Store().Dump()
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("store changed: %d keys before, %d after", len(before), len(after))
	}
	for k, v := range before {
		if !bytes.Equal(after[k], v) {
			t.Fatalf("key %x changed", k)
		}
	}
}

func TestCloseChain(t *testing.T) {
	c := initChain(t)
	next := hh.HashContent(hh.Dna, []byte("next dna"))

	ws, _ := c.NewWorkspace(Strict)
	if _, err := ws.Put(types.NewCloseChain(next), nil); err != nil {
		t.Fatal(err)
	}
	b, e := msg("too late")
	if _, err := ws.Put(b, e); !errors.Is(err, ErrChainClosed) {
		t.Fatalf("put after CloseChain should fail with ErrChainClosed, got %v", err)
	}
	if _, err := ws.Flush(); err != nil {
		t.Fatal(err)
	}

	ws, _ = c.NewWorkspace(Relaxed)
	if _, err := ws.Put(b, e); !errors.Is(err, ErrChainClosed) {
		t.Fatalf("new workspace on a closed chain should fail with ErrChainClosed, got %v", err)
	}
}

func TestPutChecks(t *testing.T) {
	c := initChain(t)
	ws, _ := c.NewWorkspace(Strict)

	e := types.NewAppEntry([]byte("real"))
	other := types.NewAppEntry([]byte("other"))

	cases := []struct {
		name  string
		b     types.ActionBuilder
		entry *types.Entry
	}{
		{"missing entry", types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), nil},
		{"mismatched entry", types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), other},
		{"wrong entry kind", types.NewCreate(types.CapClaimEntryType(), e.Hash()), e},
		{"second Dna", types.NewDna(testDna), nil},
		{"late OpenChain", nil, nil},
	}

	// Move the head past seq 3 so OpenChain is out of place.
	putMsg(t, ws, "filler")
	cases[4].b = types.NewOpenChain(hh.HashContent(hh.Dna, []byte("old")))

	for _, tc := range cases {
		var ice *InvalidChainError
		if _, err := ws.Put(tc.b, tc.entry); !errors.As(err, &ice) {
			t.Fatalf("%s: expected InvalidChainError, got %v", tc.name, err)
		}
	}
	if ws.Scratch().Len() != 1 {
		t.Fatalf("rejected puts should not be staged")
	}
}

func TestQuery(t *testing.T) {
	c := initChain(t)
	ws, _ := c.NewWorkspace(Strict)
	putMsg(t, ws, "a")
	putMsg(t, ws, "b")
	if _, err := ws.Flush(); err != nil {
		t.Fatal(err)
	}

	recs, err := c.Query(&types.ChainFilter{
		ActionTypes:    []types.ActionType{types.ActionCreate},
		EntryTypes:     []types.EntryType{types.AppEntryType(0, 0, types.Public)},
		IncludeEntries: true,
		Descending:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 app creates, got %d", len(recs))
	}
	if string(recs[0].Entry.App) != "b" {
		t.Fatalf("descending query should start with the newest record")
	}

	recs, _ = c.Query(&types.ChainFilter{SeqRange: &types.SeqRange{Start: 1, End: 2}})
	if len(recs) != 2 || recs[0].Entry != nil {
		t.Fatalf("range query should return 2 records without entries")
	}
}
