package net

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Request is implemented by every command. Nodes run one space per DNA and
// the DNA picks the space that answers.
type Request interface {
	DnaHash() hh.DnaHash
}

// RPCResponse captures both a response and a potential error.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// RPC encapsulates an RPC request and provides a response mechanism.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// Dna returns the DNA the command is addressed to.
func (r *RPC) Dna() (hh.DnaHash, error) {
	req, ok := r.Command.(Request)
	if !ok {
		return hh.DnaHash{}, fmt.Errorf("unexpected command %T", r.Command)
	}
	return req.DnaHash(), nil
}

// Respond is used to respond with a response, error or both.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}
