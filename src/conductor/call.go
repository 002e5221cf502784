package conductor

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/sourcechain"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/mosaicnetworks/cellchain/src/workflow"
	"github.com/sirupsen/logrus"
)

// ZomeCall is a request to run a zome function on a cell.
type ZomeCall struct {
	Cell       CellID
	Zome       string
	Fn         string
	Payload    []byte
	Provenance hh.AgentPubKey
	CapSecret  []byte
	// Ordering decides what the flush does when another call advanced the
	// chain first.
	Ordering sourcechain.Ordering
}

// CallZome runs a zome function. The actions the function writes are
// committed together when it returns without error; on any error, from the
// guest or from the flush, none of them are.
func (c *Conductor) CallZome(ctx context.Context, call ZomeCall) ([]byte, error) {
	cell, err := c.Cell(call.Cell)
	if err != nil {
		return nil, err
	}
	if status := c.appStatus(cell); status != Running {
		return nil, fmt.Errorf("%w: app %s is %s", ErrCellNotRunning, cell.app.id, status)
	}
	if err := cell.authorize(call); err != nil {
		return nil, err
	}

	if c.conf.ZomeCallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.ZomeCallTimeout)
		defer cancel()
	}
	return cell.call(ctx, call)
}

func (cell *Cell) call(ctx context.Context, call ZomeCall) ([]byte, error) {
	logger := cell.logger.WithFields(logrus.Fields{
		"zome": call.Zome,
		"fn":   call.Fn,
	})

	// A call that may have to run init holds the init lock throughout so
	// that init runs once.
	needInit := false
	if !cell.isInitialized() {
		cell.initLock.Lock()
		defer cell.initLock.Unlock()
		needInit = !cell.initialized
	}

	zi, ok := cell.space.ribosome.ZomeIndex(call.Zome)
	if !ok {
		return nil, fmt.Errorf("%w: %s", guest.ErrUnknownZome, call.Zome)
	}
	ws, err := cell.chain.NewWorkspace(call.Ordering)
	if err != nil {
		return nil, err
	}
	host := newHostFns(ctx, cell, ws, zi)

	if needInit {
		if err := cell.runInit(ctx, ws, host); err != nil {
			ws.Discard()
			logger.WithField("error", err).Debug("init")
			return nil, err
		}
	}

	out, err := cell.space.ribosome.Call(ctx, host, call.Zome, call.Fn, call.Payload)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		ws.Discard()
		logger.WithField("error", err).Debug("zome call failed")
		return nil, err
	}

	if err := cell.checkStaged(ctx, ws, host); err != nil {
		ws.Discard()
		logger.WithField("error", err).Debug("staged actions refused")
		return nil, err
	}

	ops, err := ws.Flush()
	if err != nil {
		logger.WithField("error", err).Debug("flush")
		return nil, err
	}
	if needInit {
		cell.initialized = true
	}

	if len(ops) > 0 {
		if err := cell.author.Flushed(ctx, ops); err != nil {
			// the ops are committed; publish finds them on its next tick
			logger.WithField("error", err).Debug("handing ops to publish")
		}
	}
	logger.WithField("ops", len(ops)).Debug("zome call")
	return out, nil
}

// checkStaged validates what the call staged the way authorities will, so
// that a call cannot commit actions that would earn its agent a warrant.
func (cell *Cell) checkStaged(ctx context.Context, ws *sourcechain.Workspace, host *hostFns) error {
	op, out, err := workflow.CheckAuthored(ctx, cell.space.sys, cell.space.ribosome, host.cascade, ws.Scratch().Records())
	if err != nil || op == nil {
		return err
	}
	return &AuthoringError{Action: op.Action.Hash(), Op: op.Type, Reason: out.Reason}
}

func (cell *Cell) isInitialized() bool {
	cell.initLock.Lock()
	defer cell.initLock.Unlock()
	if cell.initialized {
		return true
	}
	ok, err := cell.chain.IsInitialized()
	if err == nil && ok {
		cell.initialized = true
	}
	return cell.initialized
}

// runInit runs the DNA's init callbacks in the call's workspace and stages
// InitZomesComplete after them.
func (cell *Cell) runInit(ctx context.Context, ws *sourcechain.Workspace, host *hostFns) error {
	res := cell.space.ribosome.Init(ctx, host)
	if !res.Pass {
		return &InitFailedError{Reason: res.Reason}
	}
	if _, err := ws.Put(types.NewInitZomesComplete(), nil); err != nil {
		return err
	}
	return nil
}

// authorize resolves the capability of a call: the cell's own agent always
// may call; anyone else needs a live grant on the cell's chain.
func (cell *Cell) authorize(call ZomeCall) error {
	if call.Provenance == cell.id.Agent {
		return nil
	}
	grants, err := cell.liveGrants()
	if err != nil {
		return err
	}
	for _, g := range grants {
		if g.Admits(call.Provenance, call.CapSecret, call.Zome, call.Fn) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not call %s/%s", ErrCapabilityDenied, call.Provenance, call.Zome, call.Fn)
}

// liveGrants returns the grants on the chain that were neither updated nor
// deleted.
func (cell *Cell) liveGrants() ([]*types.CapGrant, error) {
	recs, err := cell.chain.Query(&types.ChainFilter{
		ActionTypes:    []types.ActionType{types.ActionCreate, types.ActionUpdate, types.ActionDelete},
		IncludeEntries: true,
	})
	if err != nil {
		return nil, err
	}

	live := make(map[hh.ActionHash]*types.CapGrant)
	var order []hh.ActionHash
	for _, r := range recs {
		a := r.Action()
		switch a.Type {
		case types.ActionUpdate:
			delete(live, a.OriginalAction)
		case types.ActionDelete:
			delete(live, a.DeletesAction)
			continue
		}
		if r.Entry != nil && r.Entry.Kind == types.EntryCapGrant && r.Entry.CapGrant != nil {
			h := r.ActionHash()
			live[h] = r.Entry.CapGrant
			order = append(order, h)
		}
	}

	var res []*types.CapGrant
	for _, h := range order {
		if g, ok := live[h]; ok {
			res = append(res, g)
		}
	}
	return res, nil
}
