package workflow

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	"github.com/mosaicnetworks/cellchain/src/dhtop"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/sirupsen/logrus"
)

var (
	bg       = context.Background()
	postType = types.AppEntryType(0, 0, types.Public)
)

// testRibosome rejects posts that say "bad" and panics on posts that say
// "boom".
func testRibosome() *guest.InlineRibosome {
	posts := guest.NewInlineZome("posts").
		EntryDef("post", types.Public).
		OnValidate(func(ctx context.Context, op *types.DhtOp, host guest.ValidateAPI) validation.Outcome {
			if op.Entry == nil {
				return validation.Accept()
			}
			switch string(op.Entry.App) {
			case "bad":
				return validation.Reject("bad post")
			case "boom":
				panic("boom")
			}
			return validation.Accept()
		})
	return guest.NewInlineRibosome("workflow", "test", nil, posts)
}

type testAuthor struct {
	ks    *keys.MemKeystore
	pub   ed25519.PublicKey
	agent hh.AgentPubKey
	dna   hh.DnaHash
	chain []*types.Record
}

func newTestAuthor(t *testing.T, dna hh.DnaHash) *testAuthor {
	ks := keys.NewMemKeystore()
	pub, err := ks.GenerateSignKeypair()
	if err != nil {
		t.Fatal(err)
	}
	agent, _ := hh.FromAgentKey(pub)
	ta := &testAuthor{ks: ks, pub: pub, agent: agent, dna: dna}
	ta.append(t, types.NewDna(dna), nil)
	ta.append(t, types.NewAgentValidationPkg(nil), nil)
	ae := types.NewAgentEntry(agent)
	ta.append(t, types.NewCreate(types.AgentEntryType(), ae.Hash()), ae)
	return ta
}

// build makes an action on top of parent without appending it.
func (ta *testAuthor) build(t *testing.T, parent *types.Record, b types.ActionBuilder, entry *types.Entry) *types.Record {
	var (
		seq  uint32
		prev hh.ActionHash
		ts   = types.Timestamp(1000)
	)
	if parent != nil {
		seq = parent.Action().Seq + 1
		prev = parent.ActionHash()
		ts = parent.Action().Timestamp + 10
	}
	a := b.Build(ta.agent, ts, seq, prev)
	data, err := a.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ta.ks.Sign(ta.pub, data)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewRecord(*types.NewSignedAction(a, sig), entry)
}

func (ta *testAuthor) append(t *testing.T, b types.ActionBuilder, entry *types.Entry) *types.Record {
	var parent *types.Record
	if len(ta.chain) > 0 {
		parent = ta.chain[len(ta.chain)-1]
	}
	r := ta.build(t, parent, b, entry)
	ta.chain = append(ta.chain, r)
	return r
}

func (ta *testAuthor) post(t *testing.T, s string) *types.Record {
	e := types.NewAppEntry([]byte(s))
	return ta.append(t, types.NewCreate(postType, e.Hash()), e)
}

func postOn(t *testing.T, ta *testAuthor, parent *types.Record, s string) *types.Record {
	e := types.NewAppEntry([]byte(s))
	return ta.build(t, parent, types.NewCreate(postType, e.Hash()), e)
}

func opsOf(t *testing.T, records ...*types.Record) []types.DhtOp {
	var res []types.DhtOp
	for _, r := range records {
		ops, err := dhtop.ProduceOps(r)
		if err != nil {
			t.Fatal(err)
		}
		for _, op := range ops {
			res = append(res, *op)
		}
	}
	return res
}

// receiptBox collects the receipts the DHT sends.
type receiptBox struct {
	sync.Mutex
	got  map[hh.AgentPubKey][]types.SignedValidationReceipt
	sink func([]types.SignedValidationReceipt) error
}

func (b *receiptBox) SendReceipts(ctx context.Context, author hh.AgentPubKey, receipts []types.SignedValidationReceipt) error {
	b.Lock()
	if b.got == nil {
		b.got = make(map[hh.AgentPubKey][]types.SignedValidationReceipt)
	}
	b.got[author] = append(b.got[author], receipts...)
	sink := b.sink
	b.Unlock()
	if sink != nil {
		return sink(receipts)
	}
	return nil
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.BatchSize = 10
	conf.ShutdownGrace = time.Second
	return conf
}

type testDht struct {
	*Dht
	receipts  *receiptBox
	validator hh.AgentPubKey
}

func newTestDht(t *testing.T, ribosome *guest.InlineRibosome) *testDht {
	return newTestDhtConf(t, ribosome, testConfig())
}

func newTestDhtConf(t *testing.T, ribosome *guest.InlineRibosome, conf Config) *testDht {
	ks := keys.NewMemKeystore()
	pub, err := ks.GenerateSignKeypair()
	if err != nil {
		t.Fatal(err)
	}
	validator, _ := hh.FromAgentKey(pub)
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	box := &receiptBox{}
	env := Env{
		Dna:       ribosome.Dna(),
		DHT:       store.NewInmemStore(store.DHT, logger),
		Cache:     store.NewInmemStore(store.Cache, logger),
		Ribosome:  ribosome,
		Validator: validator,
		Signer:    ks,
		Receipts:  box,
	}
	return &testDht{Dht: NewDht(env, conf, logger), receipts: box, validator: validator}
}

func (d *testDht) receive(t *testing.T, ops []types.DhtOp) {
	hashes := make([]hh.OpHash, len(ops))
	for i := range ops {
		hashes[i] = ops[i].Hash()
	}
	n, err := d.Receive(bg, "peer", ops, hashes)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(ops) {
		t.Fatalf("queued %d of %d ops", n, len(ops))
	}
}

// settle runs every workflow until the op tables stop changing.
func (d *testDht) settle(t *testing.T) {
	runs := []RunFunc{d.sysValidate, d.appValidate, d.integrate, d.agentActivity, d.sendReceipts}
	var last map[string][]byte
	for i := 0; i < 50; i++ {
		for _, run := range runs {
			if _, err := run(bg); err != nil {
				t.Fatal(err)
			}
		}
		dump, err := d.env.DHT.Dump()
		if err != nil {
			t.Fatal(err)
		}
		if sameDump(dump, last) && d.QueueLen() == 0 {
			return
		}
		last = dump
	}
	t.Fatalf("workflows did not settle")
}

func sameDump(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || string(v) != string(w) {
			return false
		}
	}
	return true
}

func (d *testDht) opRecord(t *testing.T, op types.DhtOp) *store.OpRecord {
	var rec *store.OpRecord
	err := d.env.DHT.View(func(txn *store.Txn) error {
		var err error
		rec, err = txn.GetOpRecord(op.Hash())
		return err
	})
	if err != nil {
		t.Fatalf("op %s: %v", op.Type, err)
	}
	return rec
}

func findOp(t *testing.T, ops []types.DhtOp, ty types.OpType) types.DhtOp {
	for _, op := range ops {
		if op.Type == ty {
			return op
		}
	}
	t.Fatalf("no %s op", ty)
	return types.DhtOp{}
}
