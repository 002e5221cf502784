package workflow

import (
	"context"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// integrate moves ops with a final status into the integrated table and
// wakes the ops that were waiting on them. Valid ops of a warranted author
// are abandoned instead.
func (d *Dht) integrate(ctx context.Context) (WorkComplete, error) {
	rows, err := d.rows(store.StageAwaitingIntegration, nil)
	if err != nil {
		return Complete, err
	}

	moved := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}
		var rec *store.OpRecord
		err := d.env.DHT.Update(func(txn *store.Txn) error {
			var err error
			rec, err = integrateOp(txn, row.Hash)
			return err
		})
		if err != nil {
			return Complete, err
		}
		if rec == nil {
			continue
		}
		moved++
		d.logger.WithFields(logrus.Fields{
			"op":     rec.Hash.String(),
			"type":   rec.Type.String(),
			"status": rec.Status.String(),
			"stage":  rec.Stage.String(),
		}).Debug("op integrated")
	}
	return d.progress(len(rows), moved), nil
}

// integrateOp integrates the op h if it still awaits integration and returns
// its row, or nil if it moved on meanwhile.
func integrateOp(txn *store.Txn, h hh.OpHash) (*store.OpRecord, error) {
	rec, err := txn.GetOpRecord(h)
	if err != nil || rec.Stage != store.StageAwaitingIntegration {
		return nil, err
	}
	warranted, err := txn.IsWarranted(rec.Author)
	if err != nil {
		return nil, err
	}
	if warranted && rec.Status == types.Valid {
		rec.Stage = store.StageAbandoned
		return rec, txn.PutOpRecord(rec)
	}

	rec.Stage = store.StageIntegrated
	rec.WhenIntegrated = types.Now()
	if err := txn.PutOpRecord(rec); err != nil {
		return nil, err
	}

	deps := []hh.HoloHash{rec.ActionHash}
	if !rec.EntryHash.IsZero() {
		deps = append(deps, rec.EntryHash)
	}
	for _, dep := range deps {
		if err := unpark(txn, dep); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// unpark removes dep from the dependencies of the ops waiting on it and
// sends the ops with nothing left to wait for back to validation.
func unpark(txn *store.Txn, dep hh.HoloHash) error {
	waiting, err := txn.OpsWaitingOn(dep)
	if err != nil {
		return err
	}
	for _, w := range waiting {
		left := w.Deps[:0]
		for _, h := range w.Deps {
			if h != dep {
				left = append(left, h)
			}
		}
		w.Deps = left
		if len(left) == 0 {
			w.Deps = nil
			switch w.Stage {
			case store.StageAwaitingSysDeps:
				w.Stage = store.StagePending
			case store.StageAwaitingAppDeps:
				w.Stage = store.StageSysValidated
			}
		}
		if err := txn.PutOpRecord(w); err != nil {
			return err
		}
	}
	return nil
}
