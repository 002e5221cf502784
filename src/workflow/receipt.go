package workflow

import (
	"context"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// sendReceipts signs a validation receipt for every integrated op that was
// published to this node and delivers them to their authors. Ops stay
// unreceipted until their author's node takes the receipts.
func (d *Dht) sendReceipts(ctx context.Context) (WorkComplete, error) {
	if d.env.Signer == nil || d.env.Receipts == nil {
		return Complete, nil
	}

	var rows []*store.OpRecord
	err := d.env.DHT.View(func(txn *store.Txn) error {
		return txn.ScanTodo(store.TodoReceipt, func(r *store.OpRecord) bool {
			rows = append(rows, r)
			return d.conf.BatchSize <= 0 || len(rows) < d.conf.BatchSize
		})
	})
	if err != nil {
		return Complete, err
	}

	byAuthor := make(map[hh.AgentPubKey][]*store.OpRecord)
	var authors []hh.AgentPubKey
	for _, r := range rows {
		if _, ok := byAuthor[r.Author]; !ok {
			authors = append(authors, r.Author)
		}
		byAuthor[r.Author] = append(byAuthor[r.Author], r)
	}

	sent := 0
	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}
		recs := byAuthor[author]
		receipts := make([]types.SignedValidationReceipt, 0, len(recs))
		for _, r := range recs {
			sr, err := d.signReceipt(r)
			if err != nil {
				return Complete, err
			}
			receipts = append(receipts, *sr)
		}

		if err := d.env.Receipts.SendReceipts(ctx, author, receipts); err != nil {
			d.logger.WithFields(logrus.Fields{
				"author": author.String(),
				"error":  err,
			}).Debug("delivering receipts")
			continue
		}

		err := d.env.DHT.Update(func(txn *store.Txn) error {
			for _, r := range recs {
				_, err := txn.UpdateOpRecord(r.Hash, func(cur *store.OpRecord) bool {
					cur.ReceiptSent = true
					return true
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Complete, err
		}
		sent += len(recs)
	}
	return d.progress(len(rows), sent), nil
}

func (d *Dht) signReceipt(r *store.OpRecord) (*types.SignedValidationReceipt, error) {
	receipt := types.ValidationReceipt{
		OpHash:         r.Hash,
		Validator:      d.env.Validator,
		Status:         r.Status,
		WhenIntegrated: r.WhenIntegrated,
	}
	data, err := types.Encode(&receipt)
	if err != nil {
		return nil, err
	}
	sig, err := d.env.Signer.Sign(d.env.Validator.Core(), data)
	if err != nil {
		return nil, err
	}
	return &types.SignedValidationReceipt{Receipt: receipt, Signature: sig}, nil
}
