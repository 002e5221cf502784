package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/common"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/sirupsen/logrus"
)

func TestConsumerRuns(t *testing.T) {
	var n int32
	c := NewConsumer("count", func(ctx context.Context) (WorkComplete, error) {
		atomic.AddInt32(&n, 1)
		return Complete, nil
	}, common.NewTestEntry(t, logrus.DebugLevel))
	c.Start()
	defer c.Shutdown(bg)

	ctx, cancel := context.WithTimeout(bg, time.Second)
	defer cancel()
	if err := c.TriggerAndWait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.TriggerAndWait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&n); got < 2 {
		t.Fatalf("expected at least 2 runs, got %d", got)
	}
}

func TestConsumerCoalescesTriggers(t *testing.T) {
	release := make(chan struct{})
	var n int32
	c := NewConsumer("slow", func(ctx context.Context) (WorkComplete, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			<-release
		}
		return Complete, nil
	}, common.NewTestEntry(t, logrus.DebugLevel))
	c.Start()
	defer c.Shutdown(bg)

	c.Trigger()
	for atomic.LoadInt32(&n) == 0 {
		time.Sleep(time.Millisecond)
	}
	// the first run is busy, these collapse into one pending trigger
	for i := 0; i < 10; i++ {
		c.Trigger()
	}
	close(release)

	ctx, cancel := context.WithTimeout(bg, time.Second)
	defer cancel()
	if err := c.TriggerAndWait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&n); got > 3 {
		t.Fatalf("triggers were not coalesced: %d runs", got)
	}
}

func TestConsumerIncompleteRunsAgain(t *testing.T) {
	var n int32
	done := make(chan struct{})
	c := NewConsumer("batches", func(ctx context.Context) (WorkComplete, error) {
		if atomic.AddInt32(&n, 1) < 3 {
			return Incomplete, nil
		}
		close(done)
		return Complete, nil
	}, common.NewTestEntry(t, logrus.DebugLevel))
	c.Start()
	defer c.Shutdown(bg)

	c.Trigger()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("incomplete run was not followed up, %d runs", atomic.LoadInt32(&n))
	}
}

func TestConsumerThen(t *testing.T) {
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	reached := make(chan struct{}, 1)
	second := NewConsumer("second", func(ctx context.Context) (WorkComplete, error) {
		select {
		case reached <- struct{}{}:
		default:
		}
		return Complete, nil
	}, logger)
	first := NewConsumer("first", func(ctx context.Context) (WorkComplete, error) {
		return Complete, errors.New("failed runs still trigger downstream")
	}, logger).Then(second)
	first.Start()
	second.Start()
	defer first.Shutdown(bg)
	defer second.Shutdown(bg)

	first.Trigger()
	select {
	case <-reached:
	case <-time.After(time.Second):
		t.Fatalf("downstream consumer was not triggered")
	}
	for {
		runs, failures := first.Runs()
		if runs == 1 {
			if failures != 1 {
				t.Fatalf("failure not counted")
			}
			break
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerTick(t *testing.T) {
	var n int32
	c := NewConsumer("ticker", func(ctx context.Context) (WorkComplete, error) {
		atomic.AddInt32(&n, 1)
		return Complete, nil
	}, common.NewTestEntry(t, logrus.DebugLevel)).WithTick(5 * time.Millisecond)
	c.Start()
	defer c.Shutdown(bg)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&n) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ticker did not run the workflow")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerShutdownGrace(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	c := NewConsumer("stuck", func(ctx context.Context) (WorkComplete, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return Complete, ctx.Err()
	}, common.NewTestEntry(t, logrus.DebugLevel))
	c.Start()
	c.Trigger()
	<-started

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Fatalf("shutdown should report the expired grace, got %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatalf("run context was not cancelled")
	}
	if err := c.TriggerAndWait(bg); err != context.Canceled {
		t.Fatalf("stopped consumer should refuse to wait, got %v", err)
	}
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue(2, DropOldest)
	for i := 0; i < 5; i++ {
		if err := q.Push(bg, i); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 2 || q.Dropped() != 3 {
		t.Fatalf("len %d dropped %d", q.Len(), q.Dropped())
	}
	items := q.Drain(0)
	if items[0].(int) != 3 || items[1].(int) != 4 {
		t.Fatalf("expected the newest items, got %v", items)
	}
}

func TestQueueBlock(t *testing.T) {
	q := NewQueue(1, Block)
	if err := q.Push(bg, "a"); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(bg, "b")
	}()
	select {
	case err := <-pushed:
		t.Fatalf("push should block on a full queue, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if items := q.Drain(1); len(items) != 1 || items[0].(string) != "a" {
		t.Fatalf("unexpected drain %v", items)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatalf("push did not resume after drain")
	}

	go func() {
		pushed <- q.Push(bg, "c")
	}()
	q.Close()
	if err := <-pushed; err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if items := q.Drain(0); len(items) != 1 {
		t.Fatalf("closed queue should still drain, got %v", items)
	}
}

func TestQuarantine(t *testing.T) {
	q := newQuarantine(2, common.NewTestEntry(t, logrus.DebugLevel))
	h := hh.HashContent(hh.Op, []byte("boom"))
	other := hh.HashContent(hh.Op, []byte("fine"))

	for i := 0; i < 2; i++ {
		if err := q.guard(h, func() { panic("boom") }); err == nil {
			t.Fatalf("panic should become an error")
		}
	}
	if err := q.guard(other, func() {}); err != nil {
		t.Fatal(err)
	}
	if !q.isPoisoned(h) || q.isPoisoned(other) {
		t.Fatalf("only the panicking op should be quarantined")
	}
	if p := q.poisoned(); len(p) != 1 || p[0] != h {
		t.Fatalf("unexpected quarantine %v", p)
	}
}
