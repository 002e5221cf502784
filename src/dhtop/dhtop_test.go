package dhtop

import (
	"testing"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

type fixture struct {
	ks    *keys.MemKeystore
	agent hh.AgentPubKey
	prev  hh.ActionHash
}

func newFixture(t *testing.T) *fixture {
	ks := keys.NewMemKeystore()
	pub, err := ks.GenerateSignKeypair()
	if err != nil {
		t.Fatal(err)
	}
	agent, _ := hh.FromAgentKey(pub)
	return &fixture{ks: ks, agent: agent, prev: hh.HashContent(hh.Action, []byte("prev"))}
}

func (f *fixture) record(t *testing.T, b types.ActionBuilder, entry *types.Entry) *types.Record {
	a := b.Build(f.agent, types.Now(), 3, f.prev)
	data, _ := a.Marshal()
	sig, err := f.ks.Sign(f.agent.Core(), data)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewRecord(*types.NewSignedAction(a, sig), entry)
}

func typeSet(specs []OpSpec) map[types.OpType]hh.HoloHash {
	m := make(map[types.OpType]hh.HoloHash)
	for _, s := range specs {
		m[s.Type] = s.Basis
	}
	return m
}

func TestOpsForCreate(t *testing.T) {
	f := newFixture(t)
	e := types.NewAppEntry([]byte("hello"))
	r := f.record(t, types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), e)

	specs := OpsFor(r.Action())
	set := typeSet(specs)
	if len(specs) != 3 || len(set) != 3 {
		t.Fatalf("Create should produce 3 ops, got %v", specs)
	}
	if set[types.OpStoreRecord] != r.ActionHash() {
		t.Fatalf("StoreRecord basis should be the action hash")
	}
	if set[types.OpStoreEntry] != e.Hash() {
		t.Fatalf("StoreEntry basis should be the entry hash")
	}
	if set[types.OpRegisterAgentActivity] != f.agent {
		t.Fatalf("RegisterAgentActivity basis should be the author")
	}
}

func TestOpsForPrivate(t *testing.T) {
	f := newFixture(t)
	e := types.NewAppEntry([]byte("secret"))
	r := f.record(t, types.NewCreate(types.AppEntryType(0, 0, types.Private), e.Hash()), e)

	ops, err := ProduceOps(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("private Create should produce 2 ops, got %d", len(ops))
	}
	for _, op := range ops {
		if op.Type == types.OpStoreEntry {
			t.Fatalf("private entry must not produce StoreEntry")
		}
		if op.Entry != nil {
			t.Fatalf("private entry must not travel with %s", op.Type)
		}
	}
}

func TestOpsForVariants(t *testing.T) {
	f := newFixture(t)
	e := types.NewAppEntry([]byte("hello"))
	orig := hh.HashContent(hh.Action, []byte("orig"))
	origEntry := types.NewAppEntry([]byte("orig")).Hash()
	dna := hh.HashContent(hh.Dna, []byte("dna"))

	cases := []struct {
		name  string
		b     types.ActionBuilder
		entry *types.Entry
		want  map[types.OpType]hh.HoloHash
	}{
		{
			"update",
			types.NewUpdate(orig, origEntry, types.AppEntryType(0, 0, types.Public), e.Hash()),
			e,
			map[types.OpType]hh.HoloHash{
				types.OpStoreEntry:             e.Hash(),
				types.OpRegisterUpdatedContent: origEntry,
				types.OpRegisterUpdatedRecord:  orig,
			},
		},
		{
			"delete",
			types.NewDelete(orig, origEntry),
			nil,
			map[types.OpType]hh.HoloHash{
				types.OpRegisterDeletedBy:          orig,
				types.OpRegisterDeletedEntryAction: origEntry,
			},
		},
		{
			"create link",
			types.NewCreateLink(origEntry, e.Hash(), 0, 0, nil),
			nil,
			map[types.OpType]hh.HoloHash{types.OpRegisterAddLink: origEntry},
		},
		{
			"delete link",
			types.NewDeleteLink(orig, origEntry),
			nil,
			map[types.OpType]hh.HoloHash{types.OpRegisterRemoveLink: origEntry},
		},
		{
			"close chain",
			types.NewCloseChain(dna),
			nil,
			map[types.OpType]hh.HoloHash{},
		},
	}

	for _, c := range cases {
		r := f.record(t, c.b, c.entry)
		set := typeSet(OpsFor(r.Action()))
		if len(set) != 2+len(c.want) {
			t.Fatalf("%s: expected %d ops, got %v", c.name, 2+len(c.want), set)
		}
		if set[types.OpStoreRecord] != r.ActionHash() || set[types.OpRegisterAgentActivity] != f.agent {
			t.Fatalf("%s: missing common ops", c.name)
		}
		for typ, basis := range c.want {
			got, ok := set[typ]
			if !ok || got != basis {
				t.Fatalf("%s: %s basis %v, want %v", c.name, typ, got, basis)
			}
		}
	}
}

func TestProduceOpsRehash(t *testing.T) {
	f := newFixture(t)
	e := types.NewAppEntry([]byte("hello"))
	r := f.record(t, types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), e)

	ops, err := ProduceOps(r)
	if err != nil {
		t.Fatal(err)
	}
	hashes, _ := OpHashes(r)

	for i, op := range ops {
		data, err := op.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		var wire types.DhtOp
		if err := wire.Unmarshal(data); err != nil {
			t.Fatal(err)
		}
		if wire.Hash() != hashes[i] {
			t.Fatalf("%s does not rehash to the announced hash", op.Type)
		}
		if wire.Basis() != op.Basis() {
			t.Fatalf("%s basis changed over the wire", op.Type)
		}
		if op.Type.CarriesEntry() && wire.Entry == nil {
			t.Fatalf("%s should carry the public entry", op.Type)
		}
		if !op.Type.CarriesEntry() && wire.Entry != nil {
			t.Fatalf("%s should not carry the entry", op.Type)
		}
	}
}

func TestProduceOpsEntryMismatch(t *testing.T) {
	f := newFixture(t)
	e := types.NewAppEntry([]byte("hello"))
	r := f.record(t, types.NewCreate(types.AppEntryType(0, 0, types.Public), e.Hash()), types.NewAppEntry([]byte("other")))
	if _, err := ProduceOps(r); err == nil {
		t.Fatalf("mismatched entry should fail")
	}
}
