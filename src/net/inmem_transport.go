package net

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/cellchain/src/types"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID as
// the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport implements the Transport interface, to allow cells to talk
// to each other in-memory without going over a network. Requests and
// responses are still encoded and decoded so that no memory is shared between
// the two ends.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport and generates a
// random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    2 * time.Second,
	}
	return addr, trans
}

// SetTimeout changes how long an RPC waits for its response.
func (i *InmemTransport) SetTimeout(timeout time.Duration) {
	i.Lock()
	i.timeout = timeout
	i.Unlock()
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Publish implements the Transport interface.
func (i *InmemTransport) Publish(target string, args *PublishRequest, resp *PublishResponse) error {
	return i.call(target, args, resp)
}

// Get implements the Transport interface.
func (i *InmemTransport) Get(target string, args *GetRequest, resp *GetResponse) error {
	return i.call(target, args, resp)
}

// GetLinks implements the Transport interface.
func (i *InmemTransport) GetLinks(target string, args *GetLinksRequest, resp *GetLinksResponse) error {
	return i.call(target, args, resp)
}

// GetAgentActivity implements the Transport interface.
func (i *InmemTransport) GetAgentActivity(target string, args *GetAgentActivityRequest, resp *GetAgentActivityResponse) error {
	return i.call(target, args, resp)
}

// ValidationReceipts implements the Transport interface.
func (i *InmemTransport) ValidationReceipts(target string, args *ValidationReceiptRequest, resp *ValidationReceiptResponse) error {
	return i.call(target, args, resp)
}

// Warrants implements the Transport interface.
func (i *InmemTransport) Warrants(target string, args *WarrantRequest, resp *WarrantResponse) error {
	return i.call(target, args, resp)
}

// call sends a copy of args and decodes the answer into resp.
func (i *InmemTransport) call(target string, args interface{}, resp interface{}) error {
	cmd, err := roundTrip(args)
	if err != nil {
		return err
	}

	i.RLock()
	timeout := i.timeout
	i.RUnlock()

	rpcResp, err := i.makeRPC(target, cmd, timeout)
	if err != nil {
		return err
	}

	data, err := types.Encode(rpcResp.Response)
	if err != nil {
		return err
	}
	return types.Decode(data, resp)
}

// roundTrip returns a deep copy of a request pointer through the codec.
func roundTrip(args interface{}) (interface{}, error) {
	data, err := types.Encode(args)
	if err != nil {
		return nil, err
	}
	cp := reflect.New(reflect.TypeOf(args).Elem()).Interface()
	if err := types.Decode(data, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (i *InmemTransport) makeRPC(target string, args interface{}, timeout time.Duration) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{
		Command:  args,
		RespChan: respCh,
	}:
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for a given
// peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is an empty function as there is no need to defer initialisation of
// the InMem service
func (i *InmemTransport) Listen() {
}
