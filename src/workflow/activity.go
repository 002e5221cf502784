package workflow

import (
	"context"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// agentActivity checks newly integrated RegisterAgentActivity ops against the
// author's other actions at the same seq. Two valid actions at one seq are a
// fork and earn the author a ChainFork warrant.
func (d *Dht) agentActivity(ctx context.Context) (WorkComplete, error) {
	var rows []*store.OpRecord
	err := d.env.DHT.View(func(txn *store.Txn) error {
		return txn.ScanTodo(store.TodoActivity, func(r *store.OpRecord) bool {
			rows = append(rows, r)
			return d.conf.BatchSize <= 0 || len(rows) < d.conf.BatchSize
		})
	})
	if err != nil {
		return Complete, err
	}

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}

		var evidence []types.SignedAction
		err := d.env.DHT.Update(func(txn *store.Txn) error {
			cur, err := txn.GetOpRecord(rec.Hash)
			if err != nil {
				return err
			}
			if cur.Status == types.Valid {
				if evidence, err = findFork(txn, cur); err != nil {
					return err
				}
			}
			cur.ActivityChecked = true
			return txn.PutOpRecord(cur)
		})
		if err != nil {
			return Complete, err
		}

		if evidence != nil {
			d.logger.WithFields(logrus.Fields{
				"author": rec.Author.String(),
				"seq":    rec.Seq,
			}).Warn("chain fork detected")
			d.issueWarrant(ctx, types.ChainFork, rec.Author, evidence)
		}
	}
	return d.progress(len(rows), len(rows)), nil
}

// findFork returns the two actions of a fork at rec's seq, ordered by hash, or
// nil if rec's action is the only valid one there.
func findFork(txn *store.Txn, rec *store.OpRecord) ([]types.SignedAction, error) {
	others, err := txn.OpsByBasis(rec.Author, types.OpRegisterAgentActivity)
	if err != nil {
		return nil, err
	}
	for _, o := range others {
		if o.Seq != rec.Seq || o.ActionHash == rec.ActionHash || !o.IsValidIntegrated() {
			continue
		}
		a, err := txn.GetAction(rec.ActionHash)
		if err != nil {
			return nil, err
		}
		b, err := txn.GetAction(o.ActionHash)
		if err != nil {
			return nil, err
		}
		if hh.Compare(a.Hash(), b.Hash()) > 0 {
			a, b = b, a
		}
		return []types.SignedAction{*a, *b}, nil
	}
	return nil, nil
}

// warrantInvalid warrants the author of a rejected op. Ops whose signature
// does not hold prove nothing about their claimed author.
func (d *Dht) warrantInvalid(ctx context.Context, op *types.DhtOp) {
	if !op.Action.Verify() {
		return
	}
	d.issueWarrant(ctx, types.InvalidChainOp, op.Author(), []types.SignedAction{op.Action})
}

// issueWarrant signs, stores and sends a warrant unless one with the same
// kind and evidence is already held.
func (d *Dht) issueWarrant(ctx context.Context, kind types.WarrantKind, author hh.AgentPubKey, evidence []types.SignedAction) {
	if d.env.Signer == nil {
		return
	}
	log := d.logger.WithFields(logrus.Fields{
		"author": author.String(),
		"kind":   kind.String(),
	})

	w := types.Warrant{
		Kind:      kind,
		Author:    author,
		Evidence:  evidence,
		Warrantor: d.env.Validator,
		Timestamp: types.Now(),
	}
	data, err := types.Encode(&w)
	if err != nil {
		log.WithField("error", err).Error("encoding warrant")
		return
	}
	sig, err := d.env.Signer.Sign(d.env.Validator.Core(), data)
	if err != nil {
		log.WithField("error", err).Error("signing warrant")
		return
	}
	sw := types.SignedWarrant{Warrant: w, Signature: sig}

	added := false
	err = d.env.DHT.Update(func(txn *store.Txn) error {
		held, err := txn.Warrants(author)
		if err != nil {
			return err
		}
		for i := range held {
			if sameEvidence(&held[i].Warrant, &w) {
				return nil
			}
		}
		added, err = txn.PutWarrant(&sw)
		return err
	})
	if err != nil {
		log.WithField("error", err).Error("storing warrant")
		return
	}
	if !added {
		return
	}
	log.Info("warrant issued")

	if d.env.Network != nil {
		if err := d.env.Network.SendWarrants(ctx, []types.SignedWarrant{sw}); err != nil {
			log.WithField("error", err).Debug("sending warrant")
		}
	}
}

func sameEvidence(a, b *types.Warrant) bool {
	if a.Kind != b.Kind || len(a.Evidence) != len(b.Evidence) {
		return false
	}
	for i := range a.Evidence {
		if a.Evidence[i].Hash() != b.Evidence[i].Hash() {
			return false
		}
	}
	return true
}
