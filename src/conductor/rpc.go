package conductor

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/net"
	"github.com/sirupsen/logrus"
)

// serve answers the RPCs the transport delivers until shutdown.
func (c *Conductor) serve() {
	defer c.wg.Done()
	rpcCh := c.trans.Consumer()
	for {
		select {
		case rpc, ok := <-rpcCh:
			if !ok {
				return
			}
			c.processRPC(rpc)
		case <-c.shutdownCh:
			return
		}
	}
}

func (c *Conductor) processRPC(rpc net.RPC) {
	dna, err := rpc.Dna()
	if err != nil {
		c.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, err)
		return
	}
	s, ok := c.Space(dna)
	if !ok {
		rpc.Respond(nil, fmt.Errorf("dna %s is not hosted here", dna))
		return
	}

	switch cmd := rpc.Command.(type) {
	case *net.PublishRequest:
		c.logger.WithFields(logrus.Fields{
			"from": cmd.From,
			"ops":  len(cmd.Ops),
		}).Debug("process PublishRequest")
		n, err := s.Dht.Receive(context.Background(), cmd.From, cmd.Ops, cmd.Hashes)
		rpc.Respond(&net.PublishResponse{Accepted: n}, err)

	case *net.GetRequest:
		ops, err := s.auth.HandleGet(cmd.Hash)
		rpc.Respond(&net.GetResponse{Ops: ops}, err)

	case *net.GetLinksRequest:
		ops, err := s.auth.HandleGetLinks(cmd.Base, cmd.Query)
		rpc.Respond(&net.GetLinksResponse{Ops: ops}, err)

	case *net.GetAgentActivityRequest:
		act, err := s.auth.HandleGetAgentActivity(cmd.Agent, cmd.Filter, cmd.Request)
		resp := &net.GetAgentActivityResponse{}
		if act != nil {
			resp.Activity = *act
		}
		rpc.Respond(resp, err)

	case *net.ValidationReceiptRequest:
		n, err := s.recordReceipts(cmd.Receipts)
		rpc.Respond(&net.ValidationReceiptResponse{Accepted: n}, err)

	case *net.WarrantRequest:
		c.logger.WithField("warrants", len(cmd.Warrants)).Debug("process WarrantRequest")
		n, err := s.Dht.ReceiveWarrants(cmd.Warrants)
		rpc.Respond(&net.WarrantResponse{Accepted: n}, err)

	default:
		rpc.Respond(nil, fmt.Errorf("unexpected command %T", rpc.Command))
	}
}
