package guest

import (
	"context"
	"encoding/json"
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// Manifest DNAs carry no code. NewManifestRibosome gives each of their zomes
// the same generic functions over the types the zome declares. Payloads and
// results are JSON.
//
//  create       {"entry_def": "post", "content": <json>}        -> {"hash": ...}
//  update       {"original": <action hash>, "content": <json>}  -> {"hash": ...}
//  delete       {"target": <action hash>}                       -> {"hash": ...}
//  get          {"hash": <any hash>}                            -> record or null
//  create_link  {"base", "target", "link_type", "tag"}          -> {"hash": ...}
//  delete_link  {"target": <create link hash>}                  -> {"hash": ...}
//  get_links    {"base", "link_type"}                           -> [link]
//  query        {"entry_def": "post"} (optional)                -> [record]

// ManifestInput is the union of the inputs of the generic functions.
type ManifestInput struct {
	EntryDef string          `json:"entry_def,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Original hh.ActionHash   `json:"original,omitempty"`
	Target   hh.HoloHash     `json:"target,omitempty"`
	Hash     hh.HoloHash     `json:"hash,omitempty"`
	Base     hh.HoloHash     `json:"base,omitempty"`
	LinkType string          `json:"link_type,omitempty"`
	Tag      string          `json:"tag,omitempty"`
}

// HashOutput is what write functions return.
type HashOutput struct {
	Hash hh.ActionHash `json:"hash"`
}

type manifestFn func(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error)

var manifestFns = map[string]manifestFn{
	"create":      manifestCreate,
	"update":      manifestUpdate,
	"delete":      manifestDelete,
	"get":         manifestGet,
	"create_link": manifestCreateLink,
	"delete_link": manifestDeleteLink,
	"get_links":   manifestGetLinks,
	"query":       manifestQuery,
}

// NewManifestRibosome wraps a DNA definition read from a manifest.
func NewManifestRibosome(def *types.DnaDef) *InlineRibosome {
	r := &InlineRibosome{dna: def}
	for _, zd := range def.Zomes {
		z := NewInlineZome(zd.Name)
		z.entryDefs = zd.EntryDefs
		z.linkTypes = zd.LinkTypes
		for name, fn := range manifestFns {
			z.Fn(name, jsonFn(zd.Name, fn))
		}
		r.zomes = append(r.zomes, z)
	}
	return r
}

func jsonFn(zome string, fn manifestFn) ZomeFn {
	return func(ctx context.Context, host HostAPI, payload []byte) ([]byte, error) {
		in := new(ManifestInput)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, in); err != nil {
				return nil, fmt.Errorf("decoding input: %v", err)
			}
		}
		out, err := fn(ctx, host, zome, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}

func manifestCreate(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	et, err := host.Dna().EntryType(zome, in.EntryDef)
	if err != nil {
		return nil, err
	}
	h, err := host.Create(et, types.NewAppEntry(in.Content))
	return HashOutput{h}, err
}

func manifestUpdate(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	h, err := host.Update(in.Original, types.NewAppEntry(in.Content))
	return HashOutput{h}, err
}

func manifestDelete(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	h, err := host.Delete(in.Target)
	return HashOutput{h}, err
}

func manifestGet(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	return host.Get(in.Hash, types.GetOptions{})
}

func manifestCreateLink(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	_, lt, err := host.Dna().LinkType(zome, in.LinkType)
	if err != nil {
		return nil, err
	}
	h, err := host.CreateLink(in.Base, in.Target, lt, []byte(in.Tag))
	return HashOutput{h}, err
}

func manifestDeleteLink(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	h, err := host.DeleteLink(in.Target)
	return HashOutput{h}, err
}

func manifestGetLinks(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	q := types.LinkQuery{ZomeIndex: host.ZomeIndex()}
	if in.LinkType != "" {
		_, lt, err := host.Dna().LinkType(zome, in.LinkType)
		if err != nil {
			return nil, err
		}
		q.LinkTypes = []uint8{lt}
	}
	if in.Tag != "" {
		q.TagPrefix = []byte(in.Tag)
	}
	return host.GetLinks(in.Base, q, types.GetOptions{})
}

func manifestQuery(ctx context.Context, host HostAPI, zome string, in *ManifestInput) (interface{}, error) {
	filter := &types.ChainFilter{IncludeEntries: true}
	if in.EntryDef != "" {
		et, err := host.Dna().EntryType(zome, in.EntryDef)
		if err != nil {
			return nil, err
		}
		filter.EntryTypes = []types.EntryType{et}
	}
	return host.Query(filter)
}
