package workflow

import (
	"context"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	"github.com/mosaicnetworks/cellchain/src/dhtop"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/sirupsen/logrus"
)

// sysValidate takes in queued ops and runs the system checks on pending and
// parked ops.
func (d *Dht) sysValidate(ctx context.Context) (WorkComplete, error) {
	if err := d.admitIncoming(); err != nil {
		return Complete, err
	}
	rows, err := d.rows(store.StagePending, d.sysRetry)
	if err != nil {
		return Complete, err
	}

	casc := d.Cascade()
	moved := 0
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}
		op, err := d.loadOp(rec)
		if err != nil {
			return Complete, err
		}

		var out validation.Outcome
		if err := d.poison.guard(rec.Hash, func() {
			out = d.sysValidateOp(ctx, op, casc)
		}); err != nil {
			continue
		}
		ok, err := d.apply(ctx, rec, op, out, store.StageSysValidated, store.StageAwaitingSysDeps)
		if err != nil {
			return Complete, err
		}
		if ok {
			moved++
		}
	}
	return d.progress(len(rows), moved), nil
}

func (d *Dht) sysValidateOp(ctx context.Context, op *types.DhtOp, casc *cascade.Cascade) validation.Outcome {
	warranted, err := d.isWarranted(op.Author())
	if err != nil {
		return validation.Defer(err.Error())
	}
	if warranted {
		return validation.Abandon("author is warranted")
	}
	return d.env.Sys.Validate(ctx, op, casc)
}

// appValidate runs the guest's validation callbacks on system validated and
// parked ops.
func (d *Dht) appValidate(ctx context.Context) (WorkComplete, error) {
	rows, err := d.rows(store.StageSysValidated, d.appRetry)
	if err != nil {
		return Complete, err
	}

	api := &validateAPI{ctx: ctx, dna: d.env.Dna, cascade: d.Cascade()}
	moved := 0
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}
		op, err := d.loadOp(rec)
		if err != nil {
			return Complete, err
		}

		out := validation.Accept()
		if d.env.Ribosome != nil {
			if err := d.poison.guard(rec.Hash, func() {
				out = d.env.Ribosome.Validate(ctx, op, api)
			}); err != nil {
				continue
			}
		}
		d.logger.WithFields(logrus.Fields{
			"op":      rec.Hash.String(),
			"outcome": out.String(),
		}).Debug("app validation")

		ok, err := d.apply(ctx, rec, op, out, store.StageAwaitingIntegration, store.StageAwaitingAppDeps)
		if err != nil {
			return Complete, err
		}
		if ok {
			moved++
		}
	}
	return d.progress(len(rows), moved), nil
}

// CheckAuthored runs system and app validation on the ops of records about to
// be written to their author's chain. casc must see the records and the rest
// of the chain. It returns the first op that is rejected, with the outcome,
// or a nil op. Missing dependencies are left to the authorities.
func CheckAuthored(ctx context.Context, sys *validation.SysValidator, ribosome guest.Ribosome, casc *cascade.Cascade, records []*types.Record) (*types.DhtOp, validation.Outcome, error) {
	api := &validateAPI{ctx: ctx, dna: ribosome.Dna(), cascade: casc}
	for _, r := range records {
		ops, err := dhtop.ProduceOps(r)
		if err != nil {
			return nil, validation.Outcome{}, err
		}
		for _, op := range ops {
			out := sys.CheckSelf(op)
			if out.Verdict == validation.Accepted {
				out = sys.CheckDeps(ctx, op, casc)
			}
			if out.Verdict == validation.Accepted {
				out = validateGuarded(ctx, ribosome, op, api)
			}
			if err := ctx.Err(); err != nil {
				return nil, validation.Outcome{}, err
			}
			if out.Verdict == validation.Rejected {
				return op, out, nil
			}
		}
	}
	return nil, validation.Accept(), nil
}

func validateGuarded(ctx context.Context, ribosome guest.Ribosome, op *types.DhtOp, api guest.ValidateAPI) (out validation.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = validation.Reject("validation panicked: %v", r)
		}
	}()
	return ribosome.Validate(ctx, op, api)
}

// validateAPI serves validation callbacks from the cascade. Anything the
// cascade cannot find becomes an unresolved dependency.
type validateAPI struct {
	ctx     context.Context
	dna     *types.DnaDef
	cascade *cascade.Cascade
}

var _ guest.ValidateAPI = (*validateAPI)(nil)

func (v *validateAPI) Dna() *types.DnaDef {
	return v.dna
}

func (v *validateAPI) MustGetAction(h hh.ActionHash) (*types.SignedAction, error) {
	sa, err := v.cascade.RetrieveAction(v.ctx, h)
	if err != nil {
		return nil, err
	}
	if sa == nil {
		return nil, &guest.UnresolvedError{Hash: h}
	}
	return sa, nil
}

func (v *validateAPI) MustGetEntry(h hh.EntryHash) (*types.Entry, error) {
	e, err := v.cascade.RetrieveEntry(v.ctx, h)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &guest.UnresolvedError{Hash: h}
	}
	return e, nil
}

func (v *validateAPI) MustGetValidRecord(h hh.ActionHash) (*types.Record, error) {
	r, err := v.cascade.RetrieveRecord(v.ctx, h)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &guest.UnresolvedError{Hash: h}
	}
	return r, nil
}
