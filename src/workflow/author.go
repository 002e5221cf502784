package workflow

import (
	"context"
	"sync/atomic"

	"github.com/mosaicnetworks/cellchain/src/common"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// LocalFrom is the sender recorded on ops an author hands to its own node.
const LocalFrom = "local"

// Author runs the authoring side of a cell: it readies flushed ops for
// publishing, publishes them until enough receipts came back and counts the
// receipts.
type Author struct {
	chain   *sourcechain.SourceChain
	dht     *Dht
	network Network
	conf    Config
	fresh   *Queue
	force   int32
	logger  *logrus.Entry

	Produce *Consumer
	Publish *Consumer
}

// NewAuthor wires the authoring workflows of a cell. dht, when not nil,
// receives the ops this node is an authority for. network may be nil.
func NewAuthor(chain *sourcechain.SourceChain, dht *Dht, network Network, conf Config, logger *logrus.Entry) *Author {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	logger = logger.WithField("cell", common.Short(chain.Agent().String()))

	a := &Author{
		chain:   chain,
		dht:     dht,
		network: network,
		conf:    conf,
		fresh:   NewQueue(conf.QueueCapacity, Block),
		logger:  logger,
	}
	a.Produce = NewConsumer("produce", a.produce, logger)
	a.Publish = NewConsumer("publish", a.publish, logger).WithTick(conf.PublishTick)
	a.Produce.Then(a.Publish)
	return a
}

// Start launches the workflows.
func (a *Author) Start() {
	a.Produce.Start()
	a.Publish.Start()
}

// Shutdown stops the workflows, waiting up to the shutdown grace.
func (a *Author) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.conf.ShutdownGrace)
	defer cancel()
	a.fresh.Close()
	err := a.Produce.Shutdown(ctx)
	if perr := a.Publish.Shutdown(ctx); err == nil {
		err = perr
	}
	return err
}

// Flushed hands the ops of a flush to the workflows. It blocks while the
// publish queue is full.
func (a *Author) Flushed(ctx context.Context, ops []*types.DhtOp) error {
	if len(ops) == 0 {
		return nil
	}
	if err := a.fresh.Push(ctx, ops); err != nil {
		return err
	}
	a.Produce.Trigger()
	return nil
}

// ForcePublish makes the next publish run ignore the publish interval.
func (a *Author) ForcePublish() {
	atomic.StoreInt32(&a.force, 1)
	a.Publish.Trigger()
}

// produce readies the pending authored ops for publishing.
func (a *Author) produce(ctx context.Context) (WorkComplete, error) {
	st := a.chain.Store()
	var rows []*store.OpRecord
	err := st.View(func(txn *store.Txn) error {
		var err error
		rows, err = txn.OpsInStage(store.StagePending, a.conf.BatchSize)
		return err
	})
	if err != nil {
		return Complete, err
	}

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return Complete, err
		}
		err := st.Update(func(txn *store.Txn) error {
			op, err := txn.LoadOp(rec)
			if err != nil {
				return err
			}
			ok := op.Hash() == rec.Hash && op.Action.Verify()
			if !ok {
				a.logger.WithField("op", rec.Hash.String()).Error("authored op does not check out")
			}
			_, err = txn.UpdateOpRecord(rec.Hash, func(cur *store.OpRecord) bool {
				if cur.Stage != store.StagePending {
					return false
				}
				if !ok {
					cur.Stage = store.StageAbandoned
					return true
				}
				cur.Produced = true
				cur.SetStatus(types.Valid)
				cur.Stage = store.StageIntegrated
				cur.WhenIntegrated = types.Now()
				return true
			})
			return err
		})
		if err != nil {
			return Complete, err
		}
	}

	if a.conf.BatchSize > 0 && len(rows) >= a.conf.BatchSize {
		return Incomplete, nil
	}
	return Complete, nil
}

// due reports whether an authored op should be published now.
func (a *Author) due(rec *store.OpRecord, now types.Timestamp, force bool) bool {
	if !rec.On(store.TodoPublish) || a.receipted(rec) {
		return false
	}
	return force || rec.LastPublish == 0 || now.Sub(rec.LastPublish) >= a.conf.MinPublishInterval
}

func (a *Author) receipted(rec *store.OpRecord) bool {
	return int(rec.ReceiptCount) >= a.conf.RequiredReceipts
}

// publish sends the ops that still need receipts to their authorities.
func (a *Author) publish(ctx context.Context) (WorkComplete, error) {
	force := atomic.SwapInt32(&a.force, 0) == 1
	now := types.Now()
	st := a.chain.Store()

	// ops of recent flushes go first
	fresh := make(map[hh.OpHash]bool)
	for _, item := range a.fresh.Drain(0) {
		for _, op := range item.([]*types.DhtOp) {
			fresh[op.Hash()] = true
		}
	}

	var rows, done []*store.OpRecord
	var ops []*types.DhtOp
	err := st.View(func(txn *store.Txn) error {
		err := txn.ScanTodo(store.TodoPublish, func(r *store.OpRecord) bool {
			switch {
			case a.receipted(r):
				done = append(done, r)
			case a.due(r, now, force || fresh[r.Hash]):
				rows = append(rows, r)
			}
			return a.conf.BatchSize <= 0 || len(rows) < a.conf.BatchSize
		})
		if err != nil {
			return err
		}
		for _, r := range rows {
			op, err := txn.LoadOp(r)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return Complete, err
	}
	if len(done) > 0 {
		// the receipt requirement was lowered since these were counted
		err := st.Update(func(txn *store.Txn) error {
			for _, r := range done {
				if _, err := txn.UpdateOpRecord(r.Hash, a.markReceipted); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Complete, err
		}
	}
	if len(ops) == 0 {
		return Complete, nil
	}

	reached := make(map[hh.OpHash]int)
	if a.network != nil {
		sent, err := a.network.Publish(ctx, ops)
		if err != nil {
			a.logger.WithField("error", err).Debug("publish interrupted")
		}
		for h, n := range sent {
			reached[h] += n
		}
	}
	if a.dht != nil {
		var local []types.DhtOp
		var hashes []hh.OpHash
		for _, op := range ops {
			if a.network == nil || a.network.IsAuthority(op.Basis()) {
				local = append(local, *op)
				hashes = append(hashes, op.Hash())
			}
		}
		if len(local) > 0 {
			if _, err := a.dht.Receive(ctx, LocalFrom, local, hashes); err != nil {
				return Complete, err
			}
			for _, h := range hashes {
				reached[h]++
			}
		}
	}

	published := 0
	err = st.Update(func(txn *store.Txn) error {
		for _, r := range rows {
			if reached[r.Hash] == 0 {
				continue
			}
			// receipts may have been counted while the ops were out
			_, err := txn.UpdateOpRecord(r.Hash, func(cur *store.OpRecord) bool {
				cur.LastPublish = now
				cur.PublishCount++
				return true
			})
			if err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return Complete, err
	}

	a.logger.WithFields(logrus.Fields{
		"due":       len(rows),
		"published": published,
	}).Debug("publish")

	if a.conf.BatchSize > 0 && len(rows) >= a.conf.BatchSize && published > 0 {
		return Incomplete, nil
	}
	return Complete, nil
}

func (a *Author) markReceipted(rec *store.OpRecord) bool {
	if !a.receipted(rec) || rec.Receipted {
		return false
	}
	rec.Receipted = true
	return true
}

// RecordReceipts counts validation receipts for this cell's ops. Receipts
// with bad signatures, for unknown ops or already counted are ignored. It
// returns the number of receipts counted.
func (a *Author) RecordReceipts(receipts []types.SignedValidationReceipt) (int, error) {
	n := 0
	err := a.chain.Store().Update(func(txn *store.Txn) error {
		for i := range receipts {
			r := &receipts[i]
			if !r.Verify() {
				continue
			}
			rec, err := txn.GetOpRecord(r.Receipt.OpHash)
			if common.IsStore(err, common.KeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			added, err := txn.PutReceipt(r)
			if err != nil {
				return err
			}
			if !added {
				continue
			}
			if r.Receipt.Status != types.Valid {
				a.logger.WithFields(logrus.Fields{
					"op":        rec.Hash.String(),
					"validator": r.Receipt.Validator.String(),
					"status":    r.Receipt.Status.String(),
				}).Warn("authored op was not accepted")
			}
			rec.ReceiptCount++
			a.markReceipted(rec)
			if err := txn.PutOpRecord(rec); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
