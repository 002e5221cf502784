package workflow

import (
	"fmt"
	"sync"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/sirupsen/logrus"
)

// quarantine counts the panics each op causes and stops handing out ops that
// panicked too often.
type quarantine struct {
	sync.Mutex
	threshold int
	panics    map[hh.OpHash]int
	logger    *logrus.Entry
}

func newQuarantine(threshold int, logger *logrus.Entry) *quarantine {
	if threshold < 1 {
		threshold = 1
	}
	return &quarantine{
		threshold: threshold,
		panics:    make(map[hh.OpHash]int),
		logger:    logger,
	}
}

func (q *quarantine) isPoisoned(h hh.OpHash) bool {
	q.Lock()
	defer q.Unlock()
	return q.panics[h] >= q.threshold
}

// poisoned returns the quarantined op hashes.
func (q *quarantine) poisoned() []hh.OpHash {
	q.Lock()
	defer q.Unlock()
	var res []hh.OpHash
	for h, n := range q.panics {
		if n >= q.threshold {
			res = append(res, h)
		}
	}
	return res
}

// guard runs fn, turning a panic into an error and counting it against h.
func (q *quarantine) guard(h hh.OpHash, fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		q.Lock()
		q.panics[h]++
		n := q.panics[h]
		q.Unlock()

		fields := logrus.Fields{"op": h.String(), "panic": r, "count": n}
		if n >= q.threshold {
			q.logger.WithFields(fields).Error("op quarantined")
		} else {
			q.logger.WithFields(fields).Warn("op handling panicked")
		}
		err = fmt.Errorf("panic handling op %s: %v", h, r)
	}()
	fn()
	return nil
}
