package conductor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	"github.com/mosaicnetworks/cellchain/src/guest"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/sirupsen/logrus"
)

// TestKit runs conductors connected by in-memory transports.
type TestKit struct {
	t          testing.TB
	Conductors []*Conductor
	Keystores  []*keys.MemKeystore
	Transports []*net.InmemTransport
}

// TestConfig returns a configuration with in-memory stores and short
// workflow intervals.
func TestConfig(t testing.TB, level logrus.Level) Config {
	conf := DefaultConfig()
	conf.Logger = common.NewTestEntry(t, level)
	conf.ZomeCallTimeout = 5 * time.Second
	conf.Workflow.PublishTick = 50 * time.Millisecond
	conf.Workflow.RetryTick = 50 * time.Millisecond
	conf.Workflow.MinPublishInterval = time.Second
	conf.Workflow.ShutdownGrace = time.Second
	return conf
}

// NewTestKit starts n connected conductors. edit, when not nil, adjusts the
// configuration of each.
func NewTestKit(t testing.TB, n int, edit func(*Config)) *TestKit {
	kit := &TestKit{t: t}
	for i := 0; i < n; i++ {
		_, trans := net.NewInmemTransport("")
		trans.SetTimeout(time.Second)
		for _, other := range kit.Transports {
			trans.Connect(other.LocalAddr(), other)
			other.Connect(trans.LocalAddr(), trans)
		}

		conf := TestConfig(t, logrus.DebugLevel)
		conf.Moniker = fmt.Sprintf("node%d", i)
		conf.Logger = conf.Logger.WithField("node", i)
		if edit != nil {
			edit(&conf)
		}

		ks := keys.NewMemKeystore()
		c := New(conf, ks, trans)
		c.Start()

		kit.Conductors = append(kit.Conductors, c)
		kit.Keystores = append(kit.Keystores, ks)
		kit.Transports = append(kit.Transports, trans)
	}
	return kit
}

// Install installs and enables an app with a fresh agent on every conductor
// and makes the agents known to each other. It returns one app per
// conductor.
func (kit *TestKit) Install(id string, ribosomes ...guest.Ribosome) []AppInfo {
	var apps []AppInfo
	for _, c := range kit.Conductors {
		agent, err := c.NewAgent()
		if err != nil {
			kit.t.Fatal(err)
		}
		info, err := c.InstallApp(id, agent, nil, ribosomes...)
		if err != nil {
			kit.t.Fatal(err)
		}
		if err := c.EnableApp(id); err != nil {
			kit.t.Fatal(err)
		}
		apps = append(apps, info)
	}

	for _, r := range ribosomes {
		dna := r.Dna().Hash()
		for i, c := range kit.Conductors {
			for j, other := range kit.Conductors {
				if i != j {
					c.AddPeers(dna, other.LocalPeers(dna)...)
				}
			}
		}
	}
	return apps
}

// Call makes a zome call as the cell's own agent.
func (kit *TestKit) Call(i int, cell CellID, zome, fn string, payload []byte) ([]byte, error) {
	return kit.Conductors[i].CallZome(context.Background(), ZomeCall{
		Cell:       cell,
		Zome:       zome,
		Fn:         fn,
		Payload:    payload,
		Provenance: cell.Agent,
	})
}

// MustCall is Call failing the test on error.
func (kit *TestKit) MustCall(i int, cell CellID, zome, fn string, payload []byte) []byte {
	out, err := kit.Call(i, cell, zome, fn, payload)
	if err != nil {
		kit.t.Fatalf("%s/%s on node %d: %v", zome, fn, i, err)
	}
	return out
}

// Settle waits until every authored op was published and every DHT has
// nothing left to validate or integrate. Ops waiting on missing dependencies
// do not hold it up.
func (kit *TestKit) Settle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	stable := 0
	for stable < 3 {
		if time.Now().After(deadline) {
			kit.t.Fatalf("conductors did not settle within %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
		if kit.settled() {
			stable++
		} else {
			stable = 0
		}
	}
}

func (kit *TestKit) settled() bool {
	for _, c := range kit.Conductors {
		for _, s := range c.Spaces() {
			if s.Dht.QueueLen() > 0 {
				return false
			}
			busy := 0
			s.dht.View(func(txn *store.Txn) error {
				for _, st := range []store.Stage{store.StagePending, store.StageSysValidated, store.StageAwaitingIntegration} {
					n, _ := txn.CountStage(st)
					busy += n
				}
				return nil
			})
			if busy > 0 {
				return false
			}
			for _, cell := range s.Cells() {
				unpublished := 0
				cell.authored.View(func(txn *store.Txn) error {
					return txn.ScanOps(func(r *store.OpRecord) bool {
						if !r.Produced || r.PublishCount == 0 {
							unpublished++
						}
						return true
					})
				})
				if unpublished > 0 {
					return false
				}
			}
		}
	}
	return true
}

// Shutdown stops every conductor.
func (kit *TestKit) Shutdown() {
	for _, c := range kit.Conductors {
		if err := c.Shutdown(context.Background()); err != nil {
			kit.t.Logf("shutdown: %v", err)
		}
	}
}
