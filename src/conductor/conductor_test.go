package conductor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/dhtop"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
)

func TestGenesisAndInit(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	var inits int32
	rib := chatRibosome("genesis", nil, func(ctx context.Context, host guest.HostAPI) error {
		atomic.AddInt32(&inits, 1)
		_, err := createMsg(host, []byte("welcome"))
		return err
	})
	id := kit.Install("chat", rib)[0].Cells[0]
	cell, err := kit.Conductors[0].Cell(id)
	if err != nil {
		t.Fatal(err)
	}

	recs, err := cell.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("genesis should write 3 actions, chain has %d", len(recs))
	}
	checkWellFormed(t, recs, id.Agent, rib.Dna().Hash())

	kit.MustCall(0, id, "chat", "create", []byte("hello"))
	kit.MustCall(0, id, "chat", "create", []byte("again"))

	recs, err = cell.Records()
	if err != nil {
		t.Fatal(err)
	}
	expected := []types.ActionType{
		types.ActionDna,
		types.ActionAgentValidationPkg,
		types.ActionCreate,
		types.ActionCreate,
		types.ActionInitZomesComplete,
		types.ActionCreate,
		types.ActionCreate,
	}
	if len(recs) != len(expected) {
		t.Fatalf("chain should have %d actions, has %d", len(expected), len(recs))
	}
	for i, ty := range expected {
		if recs[i].Action().Type != ty {
			t.Fatalf("action %d should be %s, is %s", i, ty, recs[i].Action().Type)
		}
	}
	if string(recs[3].Entry.App) != "welcome" {
		t.Fatalf("init should write its entry before InitZomesComplete")
	}
	if n := atomic.LoadInt32(&inits); n != 1 {
		t.Fatalf("init ran %d times", n)
	}
	checkWellFormed(t, recs, id.Agent, rib.Dna().Hash())
}

func TestCreateAndRead(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	id := kit.Install("chat", chatRibosome("create", nil, nil))[0].Cells[0]
	h := hashFrom(kit.MustCall(0, id, "chat", "create", []byte("hello")))
	kit.Settle(5 * time.Second)

	cell, _ := kit.Conductors[0].Cell(id)
	// genesis, InitZomesComplete and the create
	if n := chainLen(t, cell); n != 5 {
		t.Fatalf("chain length is %d", n)
	}

	e := types.NewAppEntry([]byte("hello"))
	r, err := cell.Space().Cascade().Get(bg, e.Hash(), local)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.ActionHash() != h || string(r.Entry.App) != "hello" {
		t.Fatalf("the DHT should hold the created record")
	}

	created, err := cell.Chain().GetRecord(h)
	if err != nil {
		t.Fatal(err)
	}
	opTypes := dhtop.OpTypesFor(created.Action())
	want := map[types.OpType]bool{
		types.OpStoreRecord:           true,
		types.OpStoreEntry:            true,
		types.OpRegisterAgentActivity: true,
	}
	if len(opTypes) != len(want) {
		t.Fatalf("create produced %v", opTypes)
	}
	for _, ty := range opTypes {
		if !want[ty] {
			t.Fatalf("unexpected op %s", ty)
		}
	}

	err = cell.Space().DHT().View(func(txn *store.Txn) error {
		recs, err := txn.OpsByAction(h)
		if err != nil {
			return err
		}
		if len(recs) != 3 {
			t.Fatalf("the DHT holds %d ops of the create", len(recs))
		}
		for _, rec := range recs {
			if !rec.IsValidIntegrated() {
				t.Fatalf("%s is %s", rec.Type, rec.Stage)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	id := kit.Install("chat", chatRibosome("update", nil, nil))[0].Cells[0]
	cell, _ := kit.Conductors[0].Cell(id)
	c := cell.Space().Cascade()

	e := types.NewAppEntry([]byte("hello"))
	e2 := types.NewAppEntry([]byte("hello2"))
	h := hashFrom(kit.MustCall(0, id, "chat", "create", e.App))
	payload, _ := types.Encode(&updateInput{Original: h, Content: e2.App})
	kit.MustCall(0, id, "chat", "update", payload)
	kit.Settle(5 * time.Second)

	d, err := c.GetDetails(bg, e.Hash(), local)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Entry == nil {
		t.Fatalf("no details for the entry")
	}
	if len(d.Entry.Actions) != 1 || d.Entry.EntryDhtStatus != types.EntryLive {
		t.Fatalf("entry should be live with one create, has %d (%s)", len(d.Entry.Actions), d.Entry.EntryDhtStatus)
	}
	if len(d.Entry.Updates) != 1 || d.Entry.Updates[0].Action.Action.EntryHash != e2.Hash() {
		t.Fatalf("entry should have one update to the new content")
	}
	r, err := c.Get(bg, e.Hash(), local)
	if err != nil || r == nil || r.ActionHash() != h {
		t.Fatalf("get should still return the original create: %v", err)
	}

	dh := hashFrom(kit.MustCall(0, id, "chat", "delete", h[:]))
	kit.Settle(5 * time.Second)

	if r, err := c.Get(bg, e.Hash(), local); err != nil || r != nil {
		t.Fatalf("deleted entry should not be returned: %v", err)
	}
	d, err = c.GetDetails(bg, e.Hash(), local)
	if err != nil {
		t.Fatal(err)
	}
	if d.Entry.EntryDhtStatus != types.EntryDead || len(d.Entry.Deletes) != 1 {
		t.Fatalf("entry should be dead with one delete, is %s", d.Entry.EntryDhtStatus)
	}
	cell.Space().DHT().View(func(txn *store.Txn) error {
		recs, _ := txn.OpsByAction(dh)
		if len(recs) == 0 {
			t.Fatalf("the ops of the delete are missing")
		}
		return nil
	})
}

func TestCallAtomicity(t *testing.T) {
	kit := NewTestKit(t, 1, func(conf *Config) {
		conf.Workflow.RequiredReceipts = 1
		conf.Workflow.MinPublishInterval = time.Hour
	})
	defer kit.Shutdown()

	var inits int32
	rib := chatRibosome("atomic", nil, func(ctx context.Context, host guest.HostAPI) error {
		atomic.AddInt32(&inits, 1)
		return nil
	})
	id := kit.Install("chat", rib)[0].Cells[0]
	cell, _ := kit.Conductors[0].Cell(id)

	// a first call that fails takes its init with it
	_, err := kit.Call(0, id, "chat", "create_then_panic", []byte("x"))
	var ge *guest.GuestError
	if !errors.As(err, &ge) {
		t.Fatalf("expected a guest fault, got %v", err)
	}
	if n := chainLen(t, cell); n != 3 {
		t.Fatalf("failed call left %d actions", n)
	}

	kit.MustCall(0, id, "chat", "create", []byte("ok"))
	if n := atomic.LoadInt32(&inits); n != 2 {
		t.Fatalf("init should run again after the failed call, ran %d times", n)
	}
	kit.Settle(5 * time.Second)
	waitFor(t, 5*time.Second, "receipts", func() bool { return receiptsAtLeast(cell, 1) })

	before, err := cell.authored.Dump()
	if err != nil {
		t.Fatal(err)
	}
	for _, fn := range []string{"create_then_panic", "create_then_fail"} {
		if _, err := kit.Call(0, id, "chat", fn, []byte("y")); err == nil {
			t.Fatalf("%s should fail", fn)
		}
	}
	after, err := cell.authored.Dump()
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("failed calls changed the authored store")
	}
	for k, v := range before {
		if string(after[k]) != string(v) {
			t.Fatalf("failed calls changed key %q", k)
		}
	}

	head, _ := cell.Chain().Head()
	kit.MustCall(0, id, "chat", "create_two", []byte("z"))
	next, _ := cell.Chain().Head()
	if next.Seq != head.Seq+2 {
		t.Fatalf("head moved from %d to %d for two writes", head.Seq, next.Seq)
	}
}

func TestConcurrentFlush(t *testing.T) {
	for _, ordering := range []sourcechain.Ordering{sourcechain.Strict, sourcechain.Relaxed} {
		t.Run(ordering.String(), func(t *testing.T) {
			kit := NewTestKit(t, 1, nil)
			defer kit.Shutdown()

			g := newGate()
			id := kit.Install("chat", chatRibosome("flush", g, nil))[0].Cells[0]
			cell, _ := kit.Conductors[0].Cell(id)
			kit.MustCall(0, id, "chat", "create", []byte("init"))
			start := chainLen(t, cell)

			errCh := make(chan error, 1)
			go func() {
				_, err := kit.Conductors[0].CallZome(bg, ZomeCall{
					Cell:       id,
					Zome:       "chat",
					Fn:         "create_and_wait",
					Payload:    []byte("slow"),
					Provenance: id.Agent,
					Ordering:   ordering,
				})
				errCh <- err
			}()
			<-g.staged

			kit.MustCall(0, id, "chat", "create", []byte("fast"))
			close(g.release)
			err := <-errCh

			switch ordering {
			case sourcechain.Strict:
				if !errors.Is(err, sourcechain.ErrHeadMoved) {
					t.Fatalf("expected ErrHeadMoved, got %v", err)
				}
				if n := chainLen(t, cell); n != start+1 {
					t.Fatalf("only the first flush should land, chain grew by %d", n-start)
				}
			case sourcechain.Relaxed:
				if err != nil {
					t.Fatal(err)
				}
				if n := chainLen(t, cell); n != start+2 {
					t.Fatalf("both flushes should land, chain grew by %d", n-start)
				}
			}
			recs, _ := cell.Records()
			checkWellFormed(t, recs, id.Agent, cell.Space().DnaHash())
		})
	}
}

func TestCapabilityGrant(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	c := kit.Conductors[0]
	id := kit.Install("chat", chatRibosome("caps", nil, nil))[0].Cells[0]
	cell, _ := c.Cell(id)
	stranger, err := c.NewAgent()
	if err != nil {
		t.Fatal(err)
	}

	call := ZomeCall{Cell: id, Zome: "chat", Fn: "create", Payload: []byte("hi"), Provenance: stranger}
	if _, err := c.CallZome(bg, call); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}

	secret := []byte("open sesame")
	grant := hashFrom(kit.MustCall(0, id, "chat", "grant", secret))
	length := chainLen(t, cell)

	call.CapSecret = secret
	if _, err := c.CallZome(bg, call); err != nil {
		t.Fatalf("granted call failed: %v", err)
	}
	if n := chainLen(t, cell); n != length+1 {
		t.Fatalf("granted call should write to the chain")
	}

	denied := []ZomeCall{call, call}
	denied[0].CapSecret = []byte("wrong")
	denied[1].Fn = "delete"
	for _, d := range denied {
		if _, err := c.CallZome(bg, d); !errors.Is(err, ErrCapabilityDenied) {
			t.Fatalf("call to %s with %q should be denied, got %v", d.Fn, d.CapSecret, err)
		}
	}
	if n := chainLen(t, cell); n != length+1 {
		t.Fatalf("denied calls should not write")
	}

	kit.MustCall(0, id, "chat", "revoke", grant[:])
	if _, err := c.CallZome(bg, call); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("revoked grant should deny, got %v", err)
	}
}

func TestAppStatus(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	c := kit.Conductors[0]
	agent, err := c.NewAgent()
	if err != nil {
		t.Fatal(err)
	}
	info, err := c.InstallApp("chat", agent, nil, chatRibosome("status", nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Disabled.String() {
		t.Fatalf("new app is %s", info.Status)
	}
	if _, err := c.InstallApp("chat", agent, nil); !errors.Is(err, ErrAppExists) {
		t.Fatalf("expected ErrAppExists, got %v", err)
	}
	id := info.Cells[0]

	if _, err := kit.Call(0, id, "chat", "create", []byte("a")); !errors.Is(err, ErrCellNotRunning) {
		t.Fatalf("disabled app should refuse calls, got %v", err)
	}
	if err := c.EnableApp("chat"); err != nil {
		t.Fatal(err)
	}
	kit.MustCall(0, id, "chat", "create", []byte("b"))

	if err := c.PauseApp("chat"); err != nil {
		t.Fatal(err)
	}
	if _, err := kit.Call(0, id, "chat", "create", []byte("c")); !errors.Is(err, ErrCellNotRunning) {
		t.Fatalf("paused app should refuse calls, got %v", err)
	}
	if err := c.EnableApp("chat"); err != nil {
		t.Fatal(err)
	}
	kit.MustCall(0, id, "chat", "create", []byte("d"))

	if err := c.EnableApp("nope"); !errors.Is(err, ErrUnknownApp) {
		t.Fatalf("expected ErrUnknownApp, got %v", err)
	}
	if _, err := c.Cell(CellID{Dna: id.Dna, Agent: id.Dna}); !errors.Is(err, ErrUnknownCell) {
		t.Fatalf("expected ErrUnknownCell, got %v", err)
	}
}

func TestInitFailure(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	rib := chatRibosome("init", nil, func(ctx context.Context, host guest.HostAPI) error {
		if _, err := createMsg(host, []byte("staged by init")); err != nil {
			return err
		}
		return errors.New("membrane closed")
	})
	id := kit.Install("chat", rib)[0].Cells[0]
	cell, _ := kit.Conductors[0].Cell(id)

	_, err := kit.Call(0, id, "chat", "create", []byte("hi"))
	var ie *InitFailedError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InitFailedError, got %v", err)
	}
	if n := chainLen(t, cell); n != 3 {
		t.Fatalf("failed init left %d actions", n)
	}
}

func TestTwoConductors(t *testing.T) {
	kit := NewTestKit(t, 2, nil)
	defer kit.Shutdown()

	apps := kit.Install("chat", chatRibosome("two", nil, nil))
	alice, bob := apps[0].Cells[0], apps[1].Cells[0]

	e := types.NewAppEntry([]byte("hello bob"))
	h := hashFrom(kit.MustCall(0, alice, "chat", "create", e.App))
	kit.Settle(5 * time.Second)

	// with fewer nodes than the redundancy every node is an authority
	bobCell, _ := kit.Conductors[1].Cell(bob)
	r, err := bobCell.Space().Cascade().Get(bg, e.Hash(), local)
	if err != nil || r == nil || r.ActionHash() != h {
		t.Fatalf("bob's node should hold alice's entry: %v", err)
	}
	eh := e.Hash()
	if got := hashFrom(kit.MustCall(1, bob, "chat", "get", eh[:])); got != h {
		t.Fatalf("bob's get returned %s", got)
	}

	aliceCell, _ := kit.Conductors[0].Cell(alice)
	waitFor(t, 5*time.Second, "receipts from both authorities", func() bool {
		return receiptsAtLeast(aliceCell, 2)
	})
}

func TestForkWarrant(t *testing.T) {
	kit := NewTestKit(t, 2, nil)
	defer kit.Shutdown()

	apps := kit.Install("chat", chatRibosome("fork", nil, nil))
	alice := apps[0].Cells[0]
	kit.MustCall(0, alice, "chat", "create", []byte("one"))
	kit.Settle(5 * time.Second)

	aliceCell, _ := kit.Conductors[0].Cell(alice)
	head, err := aliceCell.Chain().Head()
	if err != nil {
		t.Fatal(err)
	}
	last, err := aliceCell.Chain().GetRecord(head.Hash)
	if err != nil {
		t.Fatal(err)
	}

	var ops []types.DhtOp
	var hashes []hh.OpHash
	for _, content := range []string{"left", "right"} {
		produced, err := dhtop.ProduceOps(forge(t, kit.Keystores[0], alice.Agent, last, content))
		if err != nil {
			t.Fatal(err)
		}
		for _, op := range produced {
			ops = append(ops, *op)
			hashes = append(hashes, op.Hash())
		}
	}
	bobSpace, _ := kit.Conductors[1].Space(alice.Dna)
	if _, err := bobSpace.Dht.Receive(bg, "test", ops, hashes); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "the fork to be seen", func() bool {
		act, err := bobSpace.Cascade().GetAgentActivity(bg, alice.Agent, nil, types.ActivityStatus, local)
		return err == nil && act != nil && act.Status == types.ChainInvalid
	})

	aliceSpace, _ := kit.Conductors[0].Space(alice.Dna)
	waitFor(t, 5*time.Second, "the warrant to reach alice's node", func() bool {
		warranted := false
		aliceSpace.DHT().View(func(txn *store.Txn) error {
			warranted, _ = txn.IsWarranted(alice.Agent)
			return nil
		})
		return warranted
	})

	h := hashFrom(kit.MustCall(0, alice, "chat", "create", []byte("after")))
	kit.Settle(5 * time.Second)
	bobSpace.DHT().View(func(txn *store.Txn) error {
		recs, _ := txn.OpsByAction(h)
		for _, rec := range recs {
			if rec.IsValidIntegrated() {
				t.Fatalf("%s of a warranted author was integrated as valid", rec.Type)
			}
		}
		return nil
	})
}

func TestAuthoringValidation(t *testing.T) {
	kit := NewTestKit(t, 1, nil)
	defer kit.Shutdown()

	id := kit.Install("chat", chatRibosome("authoring", nil, nil))[0].Cells[0]
	cell, _ := kit.Conductors[0].Cell(id)
	base := kit.MustCall(0, id, "chat", "create", []byte("base"))
	start := chainLen(t, cell)

	cases := []struct {
		fn      string
		payload []byte
	}{
		{"link_unknown_type", base},
		{"create", []byte("forbidden")},
	}
	for _, c := range cases {
		_, err := kit.Call(0, id, "chat", c.fn, c.payload)
		var ae *AuthoringError
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected an authoring error, got %v", c.fn, err)
		}
		if ae.Reason == "" {
			t.Fatalf("%s: authoring error without a reason", c.fn)
		}
		if n := chainLen(t, cell); n != start {
			t.Fatalf("%s: refused call grew the chain by %d", c.fn, n-start)
		}
	}

	kit.MustCall(0, id, "chat", "create", []byte("fine"))
	kit.Settle(5 * time.Second)
	cell.Space().DHT().View(func(txn *store.Txn) error {
		if warranted, _ := txn.IsWarranted(id.Agent); warranted {
			t.Fatalf("an honest author should not be warranted")
		}
		return nil
	})
}

func TestCallTimeout(t *testing.T) {
	kit := NewTestKit(t, 1, func(conf *Config) {
		conf.ZomeCallTimeout = 50 * time.Millisecond
	})
	defer kit.Shutdown()

	g := newGate()
	id := kit.Install("chat", chatRibosome("timeout", g, nil))[0].Cells[0]
	cell, _ := kit.Conductors[0].Cell(id)
	kit.MustCall(0, id, "chat", "create", []byte("first"))
	start := chainLen(t, cell)

	_, err := kit.Call(0, id, "chat", "create_and_wait", []byte("slow"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the call to time out, got %v", err)
	}
	if n := chainLen(t, cell); n != start {
		t.Fatalf("timed out call grew the chain by %d", n-start)
	}

	kit.MustCall(0, id, "chat", "create", []byte("after"))
	if n := chainLen(t, cell); n != start+1 {
		t.Fatalf("chain should grow by one after the timeout, grew by %d", n-start)
	}
}
