package conductor

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/sirupsen/logrus"
)

// Conductor hosts the cells of the apps installed on a node.
type Conductor struct {
	conf     Config
	keystore keys.Keystore
	trans    net.Transport
	logger   *logrus.Entry

	sync.RWMutex
	spaces map[hh.DnaHash]*Space
	apps   map[string]*app

	shutdownCh chan struct{}
	shutdown   bool
	wg         sync.WaitGroup
}

// New creates a conductor. trans may be nil for a node that does not talk to
// other nodes; every space is then its own sole authority.
func New(conf Config, keystore keys.Keystore, trans net.Transport) *Conductor {
	if conf.Logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		conf.Logger = logrus.NewEntry(log)
	}
	if conf.Redundancy <= 0 {
		conf.Redundancy = DefaultRedundancy
	}
	return &Conductor{
		conf:       conf,
		keystore:   keystore,
		trans:      trans,
		logger:     conf.Logger,
		spaces:     make(map[hh.DnaHash]*Space),
		apps:       make(map[string]*app),
		shutdownCh: make(chan struct{}),
	}
}

// Keystore returns the keystore the cells sign with.
func (c *Conductor) Keystore() keys.Keystore {
	return c.keystore
}

// Transport returns the transport, nil on a standalone conductor.
func (c *Conductor) Transport() net.Transport {
	return c.trans
}

// Start listens on the transport and serves incoming RPCs.
func (c *Conductor) Start() {
	if c.trans == nil {
		return
	}
	go c.trans.Listen()
	c.wg.Add(1)
	go c.serve()
}

// NewAgent generates a signing key in the keystore and returns it as an
// agent key.
func (c *Conductor) NewAgent() (hh.AgentPubKey, error) {
	pub, err := c.keystore.GenerateSignKeypair()
	if err != nil {
		return hh.AgentPubKey{}, err
	}
	return hh.FromAgentKey(pub)
}

// InstallApp creates one cell per DNA for agent and writes their genesis
// actions. The app starts Disabled.
func (c *Conductor) InstallApp(id string, agent hh.AgentPubKey, membraneProof []byte, ribosomes ...guest.Ribosome) (AppInfo, error) {
	if agent.Type() != hh.Agent {
		return AppInfo{}, fmt.Errorf("%s is not an agent key", agent)
	}
	// the keystore must hold the key
	if _, err := c.keystore.Sign(ed25519.PublicKey(agent.Core()), nil); err != nil {
		return AppInfo{}, fmt.Errorf("agent key: %w", err)
	}

	c.Lock()
	defer c.Unlock()
	if c.shutdown {
		return AppInfo{}, ErrShutdown
	}
	if _, ok := c.apps[id]; ok {
		return AppInfo{}, fmt.Errorf("%w: %s", ErrAppExists, id)
	}

	a := &app{id: id, agent: agent, status: Disabled}
	for _, r := range ribosomes {
		space, err := c.space(r, agent)
		if err != nil {
			return AppInfo{}, err
		}
		cellID := CellID{Dna: space.dnaHash, Agent: agent}
		if _, ok := space.Cell(agent); ok {
			return AppInfo{}, fmt.Errorf("cell %s already installed", cellID)
		}
		cell, err := newCell(cellID, a, space, c.keystore, c.logger)
		if err != nil {
			return AppInfo{}, err
		}
		if err := cell.genesis(membraneProof); err != nil {
			cell.stop(context.Background())
			return AppInfo{}, fmt.Errorf("genesis of %s: %w", cellID, err)
		}
		space.addCell(cell)
		a.cells = append(a.cells, cell)
	}
	c.apps[id] = a

	c.logger.WithFields(logrus.Fields{
		"app":   id,
		"cells": len(a.cells),
	}).Info("Installed app")
	return a.info(), nil
}

// space returns the space of a DNA, creating it on first use with agent as
// the validator that signs receipts. It must be called with the lock held.
func (c *Conductor) space(r guest.Ribosome, agent hh.AgentPubKey) (*Space, error) {
	h := r.Dna().Hash()
	if s, ok := c.spaces[h]; ok {
		return s, nil
	}
	s, err := newSpace(r, c.trans, &c.conf, c.logger)
	if err != nil {
		return nil, err
	}
	s.startDht(agent, c.keystore)
	c.spaces[h] = s
	return s, nil
}

// EnableApp starts the cells of an app and lets it take zome calls.
func (c *Conductor) EnableApp(id string) error {
	return c.setStatus(id, Running)
}

// PauseApp stops an app from taking zome calls.
func (c *Conductor) PauseApp(id string) error {
	return c.setStatus(id, Paused)
}

// DisableApp stops an app from taking zome calls.
func (c *Conductor) DisableApp(id string) error {
	return c.setStatus(id, Disabled)
}

func (c *Conductor) setStatus(id string, status AppStatus) error {
	c.Lock()
	defer c.Unlock()
	a, ok := c.apps[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	if status == Running {
		for _, cell := range a.cells {
			cell.start()
		}
	}
	c.logger.WithFields(logrus.Fields{
		"app":  id,
		"from": a.status.String(),
		"to":   status.String(),
	}).Info("App status")
	a.status = status
	return nil
}

func (c *Conductor) appStatus(cell *Cell) AppStatus {
	c.RLock()
	defer c.RUnlock()
	return cell.app.status
}

// App returns the description of an installed app.
func (c *Conductor) App(id string) (AppInfo, error) {
	c.RLock()
	defer c.RUnlock()
	a, ok := c.apps[id]
	if !ok {
		return AppInfo{}, fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	return a.info(), nil
}

// Apps describes every installed app, sorted by id.
func (c *Conductor) Apps() []AppInfo {
	c.RLock()
	defer c.RUnlock()
	res := make([]AppInfo, 0, len(c.apps))
	for _, a := range c.apps {
		res = append(res, a.info())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Cell returns a hosted cell.
func (c *Conductor) Cell(id CellID) (*Cell, error) {
	s, ok := c.Space(id.Dna)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, id)
	}
	cell, ok := s.Cell(id.Agent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCell, id)
	}
	return cell, nil
}

// Space returns the space of a DNA.
func (c *Conductor) Space(dna hh.DnaHash) (*Space, bool) {
	c.RLock()
	defer c.RUnlock()
	s, ok := c.spaces[dna]
	return s, ok
}

// Spaces returns every space.
func (c *Conductor) Spaces() []*Space {
	c.RLock()
	defer c.RUnlock()
	res := make([]*Space, 0, len(c.spaces))
	for _, s := range c.spaces {
		res = append(res, s)
	}
	return res
}

// LocalPeers returns the peers of the local agents in a DNA.
func (c *Conductor) LocalPeers(dna hh.DnaHash) []*peers.Peer {
	s, ok := c.Space(dna)
	if !ok || s.network == nil {
		return nil
	}
	var res []*peers.Peer
	for _, p := range s.network.PeerSet().Peers {
		if s.network.IsLocal(p.Agent) {
			res = append(res, p)
		}
	}
	return res
}

// AddPeers adds peers to the peer set of a DNA.
func (c *Conductor) AddPeers(dna hh.DnaHash, ps ...*peers.Peer) {
	s, ok := c.Space(dna)
	if !ok || s.network == nil {
		return
	}
	set := s.network.PeerSet()
	for _, p := range ps {
		if _, ok := set.ByAgent[p.Agent]; !ok {
			set = set.WithNewPeer(p)
		}
	}
	s.network.SetPeerSet(set)
}

// Shutdown stops the workflows, the RPC loop and the transport, and closes
// the stores.
func (c *Conductor) Shutdown(ctx context.Context) error {
	c.Lock()
	if c.shutdown {
		c.Unlock()
		return nil
	}
	c.shutdown = true
	close(c.shutdownCh)
	spaces := make([]*Space, 0, len(c.spaces))
	for _, s := range c.spaces {
		spaces = append(spaces, s)
	}
	c.Unlock()

	c.logger.Debug("Shutdown")

	var firstErr error
	if c.trans != nil {
		if err := c.trans.Close(); err != nil {
			firstErr = err
		}
	}
	c.wg.Wait()
	for _, s := range spaces {
		if err := s.shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
