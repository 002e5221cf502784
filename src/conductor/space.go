package conductor

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/cellchain/src/cascade"
	"github.com/mosaicnetworks/cellchain/src/common"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/p2p"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/validation"
	"github.com/mosaicnetworks/cellchain/src/workflow"
	"github.com/sirupsen/logrus"
)

// Space is everything a conductor keeps for one DNA.
type Space struct {
	dnaHash  hh.DnaHash
	ribosome guest.Ribosome
	conf     *Config
	dht      *store.Store
	cache    *store.Store
	network  *p2p.Network
	auth     *cascade.Authority
	sys      *validation.SysValidator
	logger   *logrus.Entry

	// Dht runs the authority workflows. The agent of the first cell signs
	// its receipts.
	Dht *workflow.Dht

	sync.RWMutex
	cells map[hh.AgentPubKey]*Cell
}

func newSpace(ribosome guest.Ribosome, trans net.Transport, conf *Config, logger *logrus.Entry) (*Space, error) {
	dnaHash := ribosome.Dna().Hash()
	logger = logger.WithField("dna", common.Short(dnaHash.String()))

	s := &Space{
		dnaHash:  dnaHash,
		ribosome: ribosome,
		conf:     conf,
		cells:    make(map[hh.AgentPubKey]*Cell),
		logger:   logger,
	}

	var err error
	if s.dht, err = openStore(conf, store.DHT, dnaHash.String(), logger); err != nil {
		return nil, err
	}
	if s.cache, err = openStore(conf, store.Cache, dnaHash.String(), logger); err != nil {
		s.dht.Close()
		return nil, err
	}
	if trans != nil {
		s.network = p2p.New(dnaHash, trans, peers.NewPeerSet(conf.Peers), conf.Redundancy, logger)
	}
	s.auth = cascade.NewAuthority(s.dht, logger)
	s.sys = validation.NewSysValidator(ribosome.Dna(), conf.Validation, logger)
	return s, nil
}

func openStore(conf *Config, kind store.Kind, name string, logger *logrus.Entry) (*store.Store, error) {
	if !conf.Store {
		return store.NewInmemStore(kind, logger), nil
	}
	return store.NewBadgerStore(kind, conf.dbDir(kind.String(), name), logger)
}

// DnaHash returns the hash of the space's DNA.
func (s *Space) DnaHash() hh.DnaHash {
	return s.dnaHash
}

// Network returns the networking collaborator, nil on a conductor without a
// transport.
func (s *Space) Network() *p2p.Network {
	return s.network
}

// DHT returns the store of the ops this node holds as an authority.
func (s *Space) DHT() *store.Store {
	return s.dht
}

// Cascade returns a cascade over the space's stores and network.
func (s *Space) Cascade() *cascade.Cascade {
	if s.network == nil {
		return cascade.New(s.dht, s.cache, nil, s.logger)
	}
	return cascade.New(s.dht, s.cache, s.network, s.logger)
}

func (s *Space) workflowNetwork() workflow.Network {
	if s.network == nil {
		return nil
	}
	return s.network
}

func (s *Space) startDht(validator hh.AgentPubKey, signer sourcechain.Signer) {
	env := workflow.Env{
		Dna:       s.ribosome.Dna(),
		DHT:       s.dht,
		Cache:     s.cache,
		Network:   s.workflowNetwork(),
		Ribosome:  s.ribosome,
		Sys:       s.sys,
		Validator: validator,
		Signer:    signer,
		Receipts:  receiptRouter{s},
	}
	s.Dht = workflow.NewDht(env, s.conf.Workflow, s.logger)
	s.Dht.Start()
}

// Cell returns the cell of a local agent.
func (s *Space) Cell(agent hh.AgentPubKey) (*Cell, bool) {
	s.RLock()
	defer s.RUnlock()
	c, ok := s.cells[agent]
	return c, ok
}

// Cells returns the cells of the space.
func (s *Space) Cells() []*Cell {
	s.RLock()
	defer s.RUnlock()
	res := make([]*Cell, 0, len(s.cells))
	for _, c := range s.cells {
		res = append(res, c)
	}
	return res
}

func (s *Space) addCell(c *Cell) {
	s.Lock()
	s.cells[c.id.Agent] = c
	s.Unlock()
	if s.network != nil {
		s.network.Join(c.id.Agent, s.conf.Moniker)
	}
}

// recordReceipts hands receipts to every local cell; each counts the ones
// about its own ops.
func (s *Space) recordReceipts(receipts []types.SignedValidationReceipt) (int, error) {
	n := 0
	for _, c := range s.Cells() {
		m, err := c.author.RecordReceipts(receipts)
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

func (s *Space) shutdown(ctx context.Context) error {
	var firstErr error
	for _, c := range s.Cells() {
		if err := c.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Dht != nil {
		if err := s.Dht.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, st := range []*store.Store{s.dht, s.cache} {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// receiptRouter delivers receipts to local cells directly and to remote
// authors over the network.
type receiptRouter struct {
	space *Space
}

func (r receiptRouter) SendReceipts(ctx context.Context, author hh.AgentPubKey, receipts []types.SignedValidationReceipt) error {
	if c, ok := r.space.Cell(author); ok {
		_, err := c.author.RecordReceipts(receipts)
		return err
	}
	if r.space.network == nil {
		return nil
	}
	return r.space.network.SendReceipts(ctx, author, receipts)
}
