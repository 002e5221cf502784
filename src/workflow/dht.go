package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/sirupsen/logrus"
)

// Network is what the workflows need from the networking layer.
type Network interface {
	cascade.Network
	Publish(ctx context.Context, ops []*types.DhtOp) (map[hh.OpHash]int, error)
	IsAuthority(basis hh.HoloHash) bool
	SendWarrants(ctx context.Context, warrants []types.SignedWarrant) error
}

// ReceiptSink delivers validation receipts to the author of the ops.
type ReceiptSink interface {
	SendReceipts(ctx context.Context, author hh.AgentPubKey, receipts []types.SignedValidationReceipt) error
}

// Env is what the DHT workflows of a space work with. Network, Ribosome,
// Signer and Receipts may be nil.
type Env struct {
	Dna       *types.DnaDef
	DHT       *store.Store
	Cache     *store.Store
	Network   Network
	Ribosome  guest.Ribosome
	Sys       *validation.SysValidator
	Validator hh.AgentPubKey
	Signer    sourcechain.Signer
	Receipts  ReceiptSink
}

type incoming struct {
	op   types.DhtOp
	from string
}

// retry paces the rescans of a parked stage. Ops leave a parked stage when
// integration unparks them; the rescans only catch dependencies that
// arrived some other way and ops that waited too long. cursor is the last op
// rescanned, so that successive rescans walk the whole stage.
type retry struct {
	stage  store.Stage
	last   time.Time
	cursor hh.OpHash
}

func (r *retry) due(tick time.Duration) bool {
	return tick <= 0 || time.Since(r.last) >= tick
}

// Dht runs the authority side of a DNA space: it takes in published ops,
// validates and integrates them, watches agent activity for forks and sends
// validation receipts.
type Dht struct {
	env    Env
	conf   Config
	queue  *Queue
	poison *quarantine
	logger *logrus.Entry

	// owned by the SysValidate and AppValidate runs
	sysRetry *retry
	appRetry *retry

	SysValidate   *Consumer
	AppValidate   *Consumer
	Integrate     *Consumer
	AgentActivity *Consumer
	Receipt       *Consumer
}

// NewDht wires the DHT workflows of a space. They do not run until Start.
func NewDht(env Env, conf Config, logger *logrus.Entry) *Dht {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	if env.Sys == nil {
		env.Sys = validation.NewSysValidator(env.Dna, validation.DefaultConfig(), logger)
	}
	logger = logger.WithField("dna", common.Short(env.Dna.Hash().String()))

	d := &Dht{
		env:    env,
		conf:   conf,
		queue:  NewQueue(conf.QueueCapacity, DropOldest),
		poison: newQuarantine(conf.PoisonThreshold, logger),
		logger: logger,

		sysRetry: &retry{stage: store.StageAwaitingSysDeps},
		appRetry: &retry{stage: store.StageAwaitingAppDeps},
	}

	d.SysValidate = NewConsumer("sys_validation", d.sysValidate, logger).WithTick(conf.RetryTick)
	d.AppValidate = NewConsumer("app_validation", d.appValidate, logger).WithTick(conf.RetryTick)
	d.Integrate = NewConsumer("integrate", d.integrate, logger)
	d.AgentActivity = NewConsumer("agent_activity", d.agentActivity, logger)
	d.Receipt = NewConsumer("validation_receipt", d.sendReceipts, logger).WithTick(conf.RetryTick)

	d.SysValidate.Then(d.AppValidate, d.Integrate)
	d.AppValidate.Then(d.Integrate)
	d.Integrate.Then(d.SysValidate, d.AppValidate, d.AgentActivity, d.Receipt)

	return d
}

// Start launches every workflow.
func (d *Dht) Start() {
	for _, c := range d.consumers() {
		c.Start()
	}
}

// Shutdown stops every workflow, waiting up to the shutdown grace.
func (d *Dht) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.conf.ShutdownGrace)
	defer cancel()
	d.queue.Close()
	var firstErr error
	for _, c := range d.consumers() {
		if err := c.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dht) consumers() []*Consumer {
	return []*Consumer{d.SysValidate, d.AppValidate, d.Integrate, d.AgentActivity, d.Receipt}
}

// Store returns the DHT store.
func (d *Dht) Store() *store.Store {
	return d.env.DHT
}

// Cascade returns a cascade over the space's DHT, cache and network.
func (d *Dht) Cascade() *cascade.Cascade {
	return cascade.New(d.env.DHT, d.env.Cache, d.env.Network, d.logger)
}

// Quarantined returns the ops that panicked too often to be handled again.
func (d *Dht) Quarantined() []hh.OpHash {
	return d.poison.poisoned()
}

// QueueLen returns the number of incoming ops not yet taken in.
func (d *Dht) QueueLen() int {
	return d.queue.Len()
}

// Receive queues ops published to this node. Ops whose hash does not match
// the announced one are refused. It returns the number of ops queued.
func (d *Dht) Receive(ctx context.Context, from string, ops []types.DhtOp, hashes []hh.OpHash) (int, error) {
	n := 0
	for i := range ops {
		op := ops[i]
		if i < len(hashes) {
			if err := validation.CheckOpHash(&op, hashes[i]); err != nil {
				d.logger.WithFields(logrus.Fields{
					"from":  from,
					"error": err,
				}).Warn("refusing op")
				continue
			}
		}
		if err := d.queue.Push(ctx, incoming{op: op, from: from}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		d.SysValidate.Trigger()
	}
	return n, nil
}

// ReceiveWarrants stores warrants that check out. It returns the number of
// new warrants.
func (d *Dht) ReceiveWarrants(warrants []types.SignedWarrant) (int, error) {
	n := 0
	for i := range warrants {
		sw := &warrants[i]
		if err := sw.Verify(); err != nil {
			d.logger.WithField("error", err).Warn("refusing warrant")
			continue
		}
		var added bool
		err := d.env.DHT.Update(func(txn *store.Txn) error {
			var err error
			added, err = txn.PutWarrant(sw)
			return err
		})
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	return n, nil
}

// admitIncoming moves queued ops into the DHT store as pending ops.
func (d *Dht) admitIncoming() error {
	for _, item := range d.queue.Drain(0) {
		in := item.(incoming)
		rec := store.NewOpRecord(&in.op)
		rec.ReceivedFrom = in.from
		err := d.env.DHT.Update(func(txn *store.Txn) error {
			_, err := txn.InsertOp(&in.op, rec)
			return err
		})
		if err != nil {
			return fmt.Errorf("storing incoming op %s: %w", rec.Hash, err)
		}
	}
	return nil
}

// rows reads up to a batch of op rows from a stage, in op hash order, then
// fills the batch from the parked stage of parked when its rescan is due.
// Quarantined ops are skipped.
func (d *Dht) rows(stage store.Stage, parked *retry) ([]*store.OpRecord, error) {
	limit := d.conf.BatchSize
	var hashes []hh.OpHash
	take := func(h hh.OpHash) bool {
		if !d.poison.isPoisoned(h) {
			hashes = append(hashes, h)
		}
		return limit <= 0 || len(hashes) < limit
	}

	var res []*store.OpRecord
	err := d.env.DHT.View(func(txn *store.Txn) error {
		if err := txn.ScanStage(stage, take); err != nil {
			return err
		}
		if parked != nil && (limit <= 0 || len(hashes) < limit) && parked.due(d.conf.RetryTick) {
			err := txn.ScanStage(parked.stage, func(h hh.OpHash) bool {
				if !parked.cursor.IsZero() && hh.Compare(h, parked.cursor) <= 0 {
					return true
				}
				return take(h)
			})
			if err != nil {
				return err
			}
			parked.cursor = hh.OpHash{}
			if limit > 0 && len(hashes) >= limit {
				parked.cursor = hashes[len(hashes)-1]
			}
			parked.last = time.Now()
		}

		res = make([]*store.OpRecord, 0, len(hashes))
		for _, h := range hashes {
			rec, err := txn.GetOpRecord(h)
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return nil
	})
	return res, err
}

// progress tells the runner whether to run again at once: only when the
// batch was full and the run moved some of it.
func (d *Dht) progress(n, moved int) WorkComplete {
	if d.conf.BatchSize > 0 && n >= d.conf.BatchSize && moved > 0 {
		return Incomplete
	}
	return Complete
}

func (d *Dht) loadOp(rec *store.OpRecord) (*types.DhtOp, error) {
	var op *types.DhtOp
	err := d.env.DHT.View(func(txn *store.Txn) error {
		var err error
		op, err = txn.LoadOp(rec)
		return err
	})
	return op, err
}

func (d *Dht) isWarranted(author hh.AgentPubKey) (bool, error) {
	var res bool
	err := d.env.DHT.View(func(txn *store.Txn) error {
		var err error
		res, err = txn.IsWarranted(author)
		return err
	})
	return res, err
}

// expired reports whether a parked op has waited too long for its
// dependencies.
func (d *Dht) expired(rec *store.OpRecord) bool {
	return d.conf.AbandonAfter > 0 && time.Since(rec.WhenReceived.Time()) > d.conf.AbandonAfter
}

// apply records the outcome of a validation step. accepted is the stage an
// accepted op moves to and parked the stage for missing dependencies. The row
// is re-read first and left alone if another workflow moved it since rec was
// read. It reports whether the op changed stage.
func (d *Dht) apply(ctx context.Context, rec *store.OpRecord, op *types.DhtOp, out validation.Outcome, accepted, parked store.Stage) (bool, error) {
	log := d.logger.WithFields(logrus.Fields{
		"op":      rec.Hash.String(),
		"type":    rec.Type.String(),
		"verdict": out.Verdict.String(),
	})
	if out.Verdict == validation.Deferred {
		log.WithField("reason", out.Reason).Debug("op deferred")
		return false, nil
	}
	expired := out.Verdict == validation.MissingDeps && d.expired(rec)

	var cur *store.OpRecord
	written := false
	err := d.env.DHT.Update(func(txn *store.Txn) error {
		var err error
		cur, err = txn.UpdateOpRecord(rec.Hash, func(r *store.OpRecord) bool {
			if r.Stage != rec.Stage {
				return false
			}
			r.Deps = nil
			switch out.Verdict {
			case validation.Accepted:
				r.Stage = accepted
				if accepted == store.StageAwaitingIntegration {
					r.SetStatus(types.Valid)
				}
			case validation.Rejected:
				r.SetStatus(types.Rejected)
				r.RejectReason = out.Reason
				r.Stage = store.StageAwaitingIntegration
			case validation.MissingDeps:
				if expired {
					r.Stage = store.StageAbandoned
				} else {
					r.Deps = out.Deps
					r.Stage = parked
				}
			case validation.Abandoned:
				r.Stage = store.StageAbandoned
			}
			written = true
			return true
		})
		return err
	})
	if err != nil || !written {
		return false, err
	}

	switch {
	case out.Verdict == validation.Rejected:
		log.WithField("reason", out.Reason).Info("op rejected")
		d.warrantInvalid(ctx, op)
	case expired:
		log.Info("op abandoned waiting for dependencies")
	case out.Verdict == validation.Abandoned:
		log.WithField("reason", out.Reason).Info("op abandoned")
	}
	return cur.Stage != rec.Stage, nil
}
