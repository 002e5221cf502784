package guest

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
)

// ZomeFn is an inline zome function.
type ZomeFn func(ctx context.Context, host HostAPI, payload []byte) ([]byte, error)

// InitFn is an inline init callback. A non-nil error fails init.
type InitFn func(ctx context.Context, host HostAPI) error

// ValidateFn is an inline validation callback.
type ValidateFn func(ctx context.Context, op *types.DhtOp, host ValidateAPI) validation.Outcome

// InlineZome is a zome whose code is a set of Go functions.
type InlineZome struct {
	name      string
	entryDefs []types.EntryDef
	linkTypes []string
	fns       map[string]ZomeFn
	init      InitFn
	validate  ValidateFn
}

// NewInlineZome creates an empty zome.
func NewInlineZome(name string) *InlineZome {
	return &InlineZome{
		name: name,
		fns:  make(map[string]ZomeFn),
	}
}

// Name returns the zome name.
func (z *InlineZome) Name() string {
	return z.name
}

// EntryDef declares an entry type.
func (z *InlineZome) EntryDef(name string, vis types.Visibility) *InlineZome {
	z.entryDefs = append(z.entryDefs, types.EntryDef{Name: name, Visibility: vis})
	return z
}

// LinkType declares a link type.
func (z *InlineZome) LinkType(name string) *InlineZome {
	z.linkTypes = append(z.linkTypes, name)
	return z
}

// Fn adds a callable function.
func (z *InlineZome) Fn(name string, fn ZomeFn) *InlineZome {
	z.fns[name] = fn
	return z
}

// OnInit sets the init callback.
func (z *InlineZome) OnInit(fn InitFn) *InlineZome {
	z.init = fn
	return z
}

// OnValidate sets the validation callback.
func (z *InlineZome) OnValidate(fn ValidateFn) *InlineZome {
	z.validate = fn
	return z
}

func (z *InlineZome) def() types.ZomeDef {
	return types.ZomeDef{
		Name:      z.name,
		EntryDefs: z.entryDefs,
		LinkTypes: z.linkTypes,
	}
}

// InlineRibosome runs a DNA made of inline zomes.
type InlineRibosome struct {
	dna   *types.DnaDef
	zomes []*InlineZome
}

// NewInlineRibosome builds the DNA definition from the zomes. The network seed
// and properties feed the DNA hash.
func NewInlineRibosome(name, networkSeed string, properties map[string]string, zomes ...*InlineZome) *InlineRibosome {
	dna := &types.DnaDef{
		Name:        name,
		NetworkSeed: networkSeed,
		Properties:  properties,
	}
	for _, z := range zomes {
		dna.Zomes = append(dna.Zomes, z.def())
	}
	return &InlineRibosome{dna: dna, zomes: zomes}
}

// WithOriginTime sets the DNA origin time.
func (r *InlineRibosome) WithOriginTime(ts types.Timestamp) *InlineRibosome {
	r.dna.OriginTime = ts
	return r
}

// Dna implements Ribosome.
func (r *InlineRibosome) Dna() *types.DnaDef {
	return r.dna
}

// ZomeIndex implements Ribosome.
func (r *InlineRibosome) ZomeIndex(zome string) (uint8, bool) {
	return r.dna.ZomeIndex(zome)
}

// Init implements Ribosome. Zomes without init pass.
func (r *InlineRibosome) Init(ctx context.Context, host HostAPI) InitResult {
	for _, z := range r.zomes {
		if z.init == nil {
			continue
		}
		if err := r.runInit(ctx, z, host); err != nil {
			return InitResult{Reason: err.Error()}
		}
	}
	return InitResult{Pass: true}
}

func (r *InlineRibosome) runInit(ctx context.Context, z *InlineZome, host HostAPI) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &GuestError{Zome: z.name, Fn: "init", Cause: p}
		}
	}()
	return z.init(ctx, host)
}

// Call implements Ribosome.
func (r *InlineRibosome) Call(ctx context.Context, host HostAPI, zome, fn string, payload []byte) (out []byte, err error) {
	zi, ok := r.dna.ZomeIndex(zome)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZome, zome)
	}
	f, ok := r.zomes[zi].fns[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownFn, zome, fn)
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &GuestError{Zome: zome, Fn: fn, Cause: p}
		}
	}()
	return f(ctx, host, payload)
}

// Validate implements Ribosome. Ops about an app entry or a link go to the
// zome that defines the type; every other op goes to every zome.
func (r *InlineRibosome) Validate(ctx context.Context, op *types.DhtOp, host ValidateAPI) validation.Outcome {
	a := &op.Action.Action
	switch {
	case a.EntryType != nil && a.EntryType.Kind == types.EntryApp:
		return r.validateIn(ctx, int(a.EntryType.ZomeIndex), op, host)
	case a.Type == types.ActionCreateLink:
		return r.validateIn(ctx, int(a.ZomeIndex), op, host)
	}
	for i := range r.zomes {
		if out := r.validateIn(ctx, i, op, host); out.Verdict != validation.Accepted {
			return out
		}
	}
	return validation.Accept()
}

func (r *InlineRibosome) validateIn(ctx context.Context, zi int, op *types.DhtOp, host ValidateAPI) validation.Outcome {
	if zi >= len(r.zomes) {
		return validation.Reject("no zome at index %d", zi)
	}
	z := r.zomes[zi]
	if z.validate == nil {
		return validation.Accept()
	}
	return z.validate(ctx, op, host)
}
