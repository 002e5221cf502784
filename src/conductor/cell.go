package conductor

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/workflow"
	"github.com/sirupsen/logrus"
)

// Cell is one agent running one DNA.
type Cell struct {
	id       CellID
	app      *app
	space    *Space
	authored *store.Store
	chain    *sourcechain.SourceChain
	author   *workflow.Author
	logger   *logrus.Entry

	// initLock serialises the calls that may run init.
	initLock    sync.Mutex
	initialized bool

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

func newCell(id CellID, a *app, space *Space, signer sourcechain.Signer, logger *logrus.Entry) (*Cell, error) {
	logger = logger.WithField("cell", common.Short(id.Agent.String()))
	authored, err := openStore(space.conf, store.Authored, id.Dna.String()+"-"+id.Agent.String(), logger)
	if err != nil {
		return nil, err
	}
	chain := sourcechain.New(authored, id.Dna, id.Agent, signer, logger)
	c := &Cell{
		id:       id,
		app:      a,
		space:    space,
		authored: authored,
		chain:    chain,
		logger:   logger,
	}
	c.author = workflow.NewAuthor(chain, space.Dht, space.workflowNetwork(), space.conf.Workflow, logger)
	return c, nil
}

// ID returns the cell id.
func (c *Cell) ID() CellID {
	return c.id
}

// Chain returns the cell's source chain.
func (c *Cell) Chain() *sourcechain.SourceChain {
	return c.chain
}

// Author returns the cell's authoring workflows.
func (c *Cell) Author() *workflow.Author {
	return c.author
}

// Space returns the space of the cell's DNA.
func (c *Cell) Space() *Space {
	return c.space
}

// Cascade returns a cascade that also sees the cell's own chain.
func (c *Cell) Cascade() *cascade.Cascade {
	return c.space.Cascade().WithAuthored(c.authored)
}

// genesis writes the genesis actions unless the chain already has them.
func (c *Cell) genesis(membraneProof []byte) error {
	ops, err := c.chain.Genesis(membraneProof)
	if err != nil {
		return err
	}
	if len(ops) > 0 {
		c.logger.WithField("ops", len(ops)).Info("Genesis")
	}
	return nil
}

func (c *Cell) start() {
	c.startOnce.Do(func() {
		c.author.Start()
		c.author.Produce.Trigger()
		c.started = true
	})
}

func (c *Cell) stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.started {
			err = c.author.Shutdown(ctx)
		}
		if cerr := c.authored.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// Records returns the cell's chain with entries, oldest first.
func (c *Cell) Records() ([]*types.Record, error) {
	return c.chain.Query(&types.ChainFilter{IncludeEntries: true})
}
