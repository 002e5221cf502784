package workflow

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
)

func TestIntegrateValidChain(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	ta.post(t, "hello")

	ops := opsOf(t, ta.chain...)
	d.receive(t, ops)
	d.settle(t)

	for _, op := range ops {
		rec := d.opRecord(t, op)
		if !rec.IsValidIntegrated() {
			t.Fatalf("%s at seq %d: stage %s status %s", op.Type, rec.Seq, rec.Stage, rec.Status)
		}
		if !rec.ReceiptSent {
			t.Fatalf("%s at seq %d: no receipt sent", op.Type, rec.Seq)
		}
	}

	receipts := d.receipts.got[ta.agent]
	if len(receipts) != len(ops) {
		t.Fatalf("expected %d receipts, got %d", len(ops), len(receipts))
	}
	for _, r := range receipts {
		if !r.Verify() || r.Receipt.Validator != d.validator || r.Receipt.Status != types.Valid {
			t.Fatalf("bad receipt %+v", r.Receipt)
		}
	}

	rec, err := d.Cascade().Get(bg, ta.chain[3].Entry.Hash(), types.GetOptions{Strategy: types.GetLocal})
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.ActionHash() != ta.chain[3].ActionHash() {
		t.Fatalf("integrated post should be readable")
	}
}

func TestMissingDependency(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	for i := 0; i < 5; i++ {
		ta.post(t, "post")
	}
	six, seven := ta.chain[6], ta.chain[7]

	var first []types.DhtOp
	for _, r := range ta.chain[:6] {
		first = append(first, opsOf(t, r)...)
	}
	sevenRecord := findOp(t, opsOf(t, seven), types.OpStoreRecord)
	d.receive(t, append(first, sevenRecord))
	d.settle(t)

	rec := d.opRecord(t, sevenRecord)
	if rec.Stage != store.StageAwaitingSysDeps {
		t.Fatalf("seq 7 should wait for seq 6, stage is %s", rec.Stage)
	}
	if len(rec.Deps) != 1 || rec.Deps[0] != six.ActionHash() {
		t.Fatalf("seq 7 should wait on the seq 6 action, waits on %v", rec.Deps)
	}

	d.receive(t, []types.DhtOp{findOp(t, opsOf(t, six), types.OpStoreRecord)})
	d.settle(t)

	rec = d.opRecord(t, sevenRecord)
	if !rec.IsValidIntegrated() {
		t.Fatalf("seq 7 should integrate once seq 6 did, stage is %s", rec.Stage)
	}
	if len(rec.Deps) != 0 {
		t.Fatalf("integrated op still lists deps %v", rec.Deps)
	}
}

func TestAppRejection(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	bad := ta.post(t, "bad")

	d.receive(t, opsOf(t, ta.chain...))
	d.settle(t)

	storeEntry := findOp(t, opsOf(t, bad), types.OpStoreEntry)
	rec := d.opRecord(t, storeEntry)
	if rec.Stage != store.StageIntegrated || rec.Status != types.Rejected {
		t.Fatalf("bad post should integrate as rejected, got %s/%s", rec.Stage, rec.Status)
	}
	if rec.RejectReason != "bad post" {
		t.Fatalf("reject reason not kept: %q", rec.RejectReason)
	}

	var receipt *types.SignedValidationReceipt
	for _, r := range d.receipts.got[ta.agent] {
		if r.Receipt.OpHash == storeEntry.Hash() {
			r := r
			receipt = &r
		}
	}
	if receipt == nil || receipt.Receipt.Status != types.Rejected {
		t.Fatalf("rejected op should get a negative receipt")
	}

	var warrants []types.SignedWarrant
	d.env.DHT.View(func(txn *store.Txn) error {
		var err error
		warrants, err = txn.Warrants(ta.agent)
		return err
	})
	if len(warrants) != 1 || warrants[0].Warrant.Kind != types.InvalidChainOp {
		t.Fatalf("expected one invalid op warrant, got %d", len(warrants))
	}
	if err := warrants[0].Verify(); err != nil {
		t.Fatalf("warrant does not verify: %v", err)
	}

	got, err := d.Cascade().Get(bg, bad.Entry.Hash(), types.GetOptions{Strategy: types.GetLocal})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("rejected entry should not be readable")
	}
}

func TestForkWarrant(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	three := ta.post(t, "three")
	forkA := postOn(t, ta, three, "fork a")
	forkB := postOn(t, ta, three, "fork b")

	d.receive(t, opsOf(t, append(ta.chain, forkA, forkB)...))
	d.settle(t)

	var warrants []types.SignedWarrant
	d.env.DHT.View(func(txn *store.Txn) error {
		var err error
		warrants, err = txn.Warrants(ta.agent)
		return err
	})
	if len(warrants) != 1 {
		t.Fatalf("expected one fork warrant, got %d", len(warrants))
	}
	w := warrants[0].Warrant
	if w.Kind != types.ChainFork || w.Author != ta.agent || w.Warrantor != d.validator {
		t.Fatalf("bad warrant %s by %s", w.Kind, w.Warrantor)
	}
	if err := warrants[0].Verify(); err != nil {
		t.Fatal(err)
	}

	act, err := d.Cascade().GetAgentActivity(bg, ta.agent, nil, types.ActivityStatus, types.GetOptions{Strategy: types.GetLocal})
	if err != nil {
		t.Fatal(err)
	}
	if act.Status != types.ChainInvalid {
		t.Fatalf("forked author should be Invalid, is %s", act.Status)
	}

	// a later action by the warranted author is not integrated
	five := postOn(t, ta, forkA, "five")
	fiveOps := opsOf(t, five)
	d.receive(t, fiveOps)
	d.settle(t)
	for _, op := range fiveOps {
		rec := d.opRecord(t, op)
		if rec.Stage != store.StageAbandoned {
			t.Fatalf("%s of warranted author should be abandoned, is %s", op.Type, rec.Stage)
		}
	}
}

func TestIdempotentIntegration(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	ta.post(t, "once")
	ops := opsOf(t, ta.chain...)

	d.receive(t, ops)
	d.settle(t)
	before, err := d.env.DHT.Dump()
	if err != nil {
		t.Fatal(err)
	}

	d.receive(t, ops)
	d.settle(t)
	after, err := d.env.DHT.Dump()
	if err != nil {
		t.Fatal(err)
	}
	if !sameDump(before, after) {
		t.Fatalf("integrating the same ops twice changed the store")
	}
}

func TestRefusesMismatchedHash(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	ops := opsOf(t, ta.chain[0])

	n, err := d.Receive(bg, "peer", ops, []hh.OpHash{hh.HashContent(hh.Op, []byte("lie"))})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("op with a wrong announced hash should be refused")
	}
}

func TestPoisonedOpIsQuarantined(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	boom := ta.post(t, "boom")
	d.receive(t, opsOf(t, ta.chain...))

	// enough rounds for the chain to reach seq 3 and panic past the threshold
	for i := 0; i < 30; i++ {
		d.sysValidate(bg)
		d.appValidate(bg)
		d.integrate(bg)
	}

	storeEntry := findOp(t, opsOf(t, boom), types.OpStoreEntry)
	found := false
	for _, h := range d.Quarantined() {
		if h == storeEntry.Hash() {
			found = true
		}
	}
	if !found {
		t.Fatalf("op that keeps panicking should be quarantined")
	}
	if rec := d.opRecord(t, storeEntry); rec.Stage != store.StageSysValidated {
		t.Fatalf("quarantined op should stay where it was, is %s", rec.Stage)
	}
}

func TestReceiveWarrants(t *testing.T) {
	rib := testRibosome()
	d := newTestDht(t, rib)
	other := newTestDht(t, rib)
	ta := newTestAuthor(t, rib.Dna().Hash())
	bad := ta.post(t, "bad")
	other.receive(t, opsOf(t, ta.chain...))
	other.settle(t)

	var warrants []types.SignedWarrant
	other.env.DHT.View(func(txn *store.Txn) error {
		var err error
		warrants, err = txn.Warrants(ta.agent)
		return err
	})
	if len(warrants) == 0 {
		t.Fatalf("no warrant to forward")
	}

	forged := warrants[0]
	forged.Signature = []byte("forged")
	n, err := d.ReceiveWarrants([]types.SignedWarrant{forged, warrants[0], warrants[0]})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one new warrant, got %d", n)
	}

	act, err := cascade.New(d.env.DHT, nil, nil, nil).GetAgentActivity(bg, bad.Action().Author, nil, types.ActivityStatus, types.GetOptions{Strategy: types.GetLocal})
	if err != nil {
		t.Fatal(err)
	}
	if act.Status != types.ChainInvalid {
		t.Fatalf("warranted author should be Invalid, is %s", act.Status)
	}
}

// orphans returns the StoreRecord ops of four posts whose predecessor is
// never sent.
func orphans(t *testing.T, rib interface{ Dna() *types.DnaDef }) []types.DhtOp {
	ta := newTestAuthor(t, rib.Dna().Hash())
	for i := 0; i < 5; i++ {
		ta.post(t, "post")
	}
	var ops []types.DhtOp
	for _, r := range ta.chain[4:] {
		ops = append(ops, findOp(t, opsOf(t, r), types.OpStoreRecord))
	}
	return ops
}

func TestParkedOpsWaitForRetry(t *testing.T) {
	rib := testRibosome()
	conf := testConfig()
	conf.BatchSize = 2
	conf.RetryTick = time.Hour
	d := newTestDhtConf(t, rib, conf)
	ops := orphans(t, rib)
	d.receive(t, ops)

	runs := 0
	for {
		runs++
		if runs > 10 {
			t.Fatalf("sys validation keeps asking for another run")
		}
		done, err := d.sysValidate(bg)
		if err != nil {
			t.Fatal(err)
		}
		if done == Complete {
			break
		}
	}
	for _, op := range ops {
		if rec := d.opRecord(t, op); rec.Stage != store.StageAwaitingSysDeps {
			t.Fatalf("seq %d should be parked, is %s", rec.Seq, rec.Stage)
		}
	}

	// the runner only runs again on a trigger or a tick
	d.SysValidate.Start()
	defer d.SysValidate.Shutdown(bg)
	before, _ := d.SysValidate.Runs()
	d.SysValidate.Trigger()
	time.Sleep(200 * time.Millisecond)
	after, _ := d.SysValidate.Runs()
	if after-before > 2 {
		t.Fatalf("one trigger made %d runs", after-before)
	}
}

func TestPoisonedOpsDoNotFillBatch(t *testing.T) {
	rib := testRibosome()
	conf := testConfig()
	conf.BatchSize = 1
	d := newTestDhtConf(t, rib, conf)
	ops := orphans(t, rib)
	d.receive(t, ops)
	if err := d.admitIncoming(); err != nil {
		t.Fatal(err)
	}

	first, err := d.rows(store.StagePending, nil)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one row, got %d: %v", len(first), err)
	}
	for i := 0; i < conf.PoisonThreshold; i++ {
		d.poison.guard(first[0].Hash, func() { panic("boom") })
	}

	next, err := d.rows(store.StagePending, nil)
	if err != nil || len(next) != 1 {
		t.Fatalf("expected one row, got %d: %v", len(next), err)
	}
	if next[0].Hash == first[0].Hash {
		t.Fatalf("quarantined op should not take a place in the batch")
	}
}

func TestAbandonAfter(t *testing.T) {
	rib := testRibosome()
	conf := testConfig()
	conf.RetryTick = time.Millisecond
	conf.AbandonAfter = time.Millisecond
	d := newTestDhtConf(t, rib, conf)
	op := orphans(t, rib)[0]
	d.receive(t, []types.DhtOp{op})

	if _, err := d.sysValidate(bg); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := d.sysValidate(bg); err != nil {
		t.Fatal(err)
	}

	rec := d.opRecord(t, op)
	if rec.Stage != store.StageAbandoned {
		t.Fatalf("op waiting past the deadline should be abandoned, is %s", rec.Stage)
	}
	if len(rec.Deps) != 0 {
		t.Fatalf("abandoned op still waits on %v", rec.Deps)
	}
}
