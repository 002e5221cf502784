package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WorkComplete tells the runner whether a run left work behind.
type WorkComplete bool

const (
	// Complete runs drained their input.
	Complete WorkComplete = true
	// Incomplete runs hit their batch size and want to run again.
	Incomplete WorkComplete = false
)

// RunFunc is one run of a workflow.
type RunFunc func(ctx context.Context) (WorkComplete, error)

// Consumer runs a workflow function on trigger, one run at a time.
type Consumer struct {
	name   string
	run    RunFunc
	tick   time.Duration
	logger *logrus.Entry

	triggerCh  chan struct{}
	shutdownCh chan struct{}
	doneCh     chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	then []*Consumer

	waitLock sync.Mutex
	waiting  []chan struct{}

	started  int32
	shutdown sync.Once
	runs     uint64
	failures uint64
}

// NewConsumer creates a stopped consumer.
func NewConsumer(name string, run RunFunc, logger *logrus.Entry) *Consumer {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		name:       name,
		run:        run,
		logger:     logger.WithField("workflow", name),
		triggerCh:  make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name returns the workflow name.
func (c *Consumer) Name() string {
	return c.name
}

// WithTick makes the consumer also run every d. It must be called before
// Start.
func (c *Consumer) WithTick(d time.Duration) *Consumer {
	c.tick = d
	return c
}

// Then registers consumers to trigger after each run. It must be called
// before Start.
func (c *Consumer) Then(next ...*Consumer) *Consumer {
	c.then = append(c.then, next...)
	return c
}

// Start launches the run loop.
func (c *Consumer) Start() {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	go c.loop()
}

// Trigger asks for a run. It never blocks.
func (c *Consumer) Trigger() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// TriggerAndWait triggers a run and waits until a run that started after the
// call has finished.
func (c *Consumer) TriggerAndWait(ctx context.Context) error {
	ch := make(chan struct{})
	c.waitLock.Lock()
	c.waiting = append(c.waiting, ch)
	c.waitLock.Unlock()

	c.Trigger()

	select {
	case <-ch:
		return nil
	case <-c.doneCh:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns the number of completed runs and of runs that returned an
// error.
func (c *Consumer) Runs() (uint64, uint64) {
	return atomic.LoadUint64(&c.runs), atomic.LoadUint64(&c.failures)
}

func (c *Consumer) loop() {
	defer close(c.doneCh)

	var tickCh <-chan time.Time
	if c.tick > 0 {
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	for {
		select {
		case <-c.triggerCh:
		case <-tickCh:
		case <-c.shutdownCh:
			return
		}
		c.runOnce()
	}
}

func (c *Consumer) runOnce() {
	c.waitLock.Lock()
	waiting := c.waiting
	c.waiting = nil
	c.waitLock.Unlock()

	runID := uuid.New().String()
	start := time.Now()
	complete, err := c.run(c.ctx)
	atomic.AddUint64(&c.runs, 1)

	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		c.logger.WithFields(logrus.Fields{
			"run":   runID,
			"error": err,
		}).Error("workflow run failed")
	} else {
		c.logger.WithFields(logrus.Fields{
			"run":      runID,
			"duration": time.Since(start),
			"complete": bool(complete),
		}).Debug("workflow run")
	}

	for _, next := range c.then {
		next.Trigger()
	}
	if err == nil && complete == Incomplete {
		c.Trigger()
	}

	for _, ch := range waiting {
		close(ch)
	}
}

// Shutdown stops the loop and waits for an in-flight run to finish. When ctx
// expires first, the run's context is cancelled and ctx's error is returned.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.shutdown.Do(func() {
		close(c.shutdownCh)
	})
	if atomic.LoadInt32(&c.started) == 0 {
		c.cancel()
		return nil
	}
	select {
	case <-c.doneCh:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-c.doneCh
		return ctx.Err()
	}
}
