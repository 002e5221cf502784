package guest

import (
	"context"
	"encoding/json"
	"testing"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

const testManifest = `
manifest_version: "1"
name: forum
network_seed: test
zomes:
  - name: posts
    entry_defs:
      - name: post
        visibility: public
    link_types:
      - comments
`

// fakeHost records writes and answers nothing.
type fakeHost struct {
	dna     *types.DnaDef
	created []types.EntryType
	entries []*types.Entry
	links   []uint8
	query   *types.LinkQuery
	next    hh.ActionHash
}

func (h *fakeHost) AgentInfo() AgentInfo { return AgentInfo{} }
func (h *fakeHost) Dna() *types.DnaDef   { return h.dna }
func (h *fakeHost) ZomeIndex() uint8     { return 0 }
func (h *fakeHost) CloseChain(hh.DnaHash) (hh.ActionHash, error) {
	return h.next, nil
}
func (h *fakeHost) OpenChain(hh.DnaHash) (hh.ActionHash, error) { return h.next, nil }
func (h *fakeHost) Create(et types.EntryType, e *types.Entry) (hh.ActionHash, error) {
	h.created = append(h.created, et)
	h.entries = append(h.entries, e)
	return h.next, nil
}
func (h *fakeHost) Update(hh.ActionHash, *types.Entry) (hh.ActionHash, error) { return h.next, nil }
func (h *fakeHost) Delete(hh.ActionHash) (hh.ActionHash, error)               { return h.next, nil }
func (h *fakeHost) CreateLink(base, target hh.AnyLinkable, lt uint8, tag []byte) (hh.ActionHash, error) {
	h.links = append(h.links, lt)
	return h.next, nil
}
func (h *fakeHost) DeleteLink(hh.ActionHash) (hh.ActionHash, error) { return h.next, nil }
func (h *fakeHost) Get(hh.HoloHash, types.GetOptions) (*types.Record, error) {
	return nil, nil
}
func (h *fakeHost) GetDetails(hh.HoloHash, types.GetOptions) (*types.Details, error) {
	return nil, nil
}
func (h *fakeHost) GetLinks(base hh.AnyLinkable, q types.LinkQuery, opts types.GetOptions) ([]types.Link, error) {
	h.query = &q
	return nil, nil
}
func (h *fakeHost) GetAgentActivity(hh.AgentPubKey, *types.ChainFilter, types.ActivityRequest) (*types.AgentActivity, error) {
	return nil, nil
}
func (h *fakeHost) Query(*types.ChainFilter) ([]*types.Record, error) { return nil, nil }

func TestManifestRibosome(t *testing.T) {
	def, err := types.ParseDnaManifest([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	r := NewManifestRibosome(def)
	if r.Dna().Hash() != def.Hash() {
		t.Fatalf("the ribosome should keep the manifest's DNA")
	}

	host := &fakeHost{dna: def, next: hh.HashContent(hh.Action, []byte("next"))}
	ctx := context.Background()

	out, err := r.Call(ctx, host, "posts", "create", []byte(`{"entry_def":"post","content":{"title":"hi"}}`))
	if err != nil {
		t.Fatal(err)
	}
	var res HashOutput
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.Hash != host.next {
		t.Fatalf("create returned %s", res.Hash)
	}
	if len(host.created) != 1 || host.created[0] != types.AppEntryType(0, 0, types.Public) {
		t.Fatalf("create wrote %v", host.created)
	}
	if string(host.entries[0].App) != `{"title":"hi"}` {
		t.Fatalf("entry content is %s", host.entries[0].App)
	}

	if _, err := r.Call(ctx, host, "posts", "create", []byte(`{"entry_def":"nope"}`)); err == nil {
		t.Fatalf("unknown entry def should fail")
	}
	if _, err := r.Call(ctx, host, "posts", "create", []byte(`not json`)); err == nil {
		t.Fatalf("bad input should fail")
	}

	link := `{"base":"` + host.next.String() + `","target":"` + host.next.String() + `","link_type":"comments"}`
	if _, err := r.Call(ctx, host, "posts", "create_link", []byte(link)); err != nil {
		t.Fatal(err)
	}
	if len(host.links) != 1 || host.links[0] != 0 {
		t.Fatalf("create_link wrote %v", host.links)
	}
	if _, err := r.Call(ctx, host, "posts", "get_links", []byte(link)); err != nil {
		t.Fatal(err)
	}
	if host.query == nil || len(host.query.LinkTypes) != 1 {
		t.Fatalf("get_links should filter on the link type")
	}

	out, err = r.Call(ctx, host, "posts", "get", []byte(`{"hash":"`+host.next.String()+`"}`))
	if err != nil || string(out) != "null" {
		t.Fatalf("get of a missing record returned %s, %v", out, err)
	}
}
