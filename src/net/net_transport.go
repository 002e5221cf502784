package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	rpcPublish uint8 = iota
	rpcGet
	rpcGetLinks
	rpcGetAgentActivity
	rpcValidationReceipts
	rpcWarrants
)

const bufSize = 64 * 1024

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// newCommand returns an empty request for an rpc type.
func newCommand(rpcType uint8) (interface{}, error) {
	switch rpcType {
	case rpcPublish:
		return new(PublishRequest), nil
	case rpcGet:
		return new(GetRequest), nil
	case rpcGetLinks:
		return new(GetLinksRequest), nil
	case rpcGetAgentActivity:
		return new(GetAgentActivityRequest), nil
	case rpcValidationReceipts:
		return new(ValidationReceiptRequest), nil
	case rpcWarrants:
		return new(WarrantRequest), nil
	default:
		return nil, fmt.Errorf("unknown rpc type %d", rpcType)
	}
}

// StreamLayer is used with the NetworkTransport to provide the low level
// stream abstraction.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream
	AdvertiseAddr() string
}

/*
NetworkTransport provides a network based transport over a StreamLayer. Each
RPC request is framed by a byte that indicates the message type, followed by
the msgpack encoded request. The response is an error string followed by the
response object, both msgpack encoded. Connections are pooled per target.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	dec    *codec.Decoder
	enc    *codec.Encoder
}

func newNetConn(target string, conn net.Conn) *netConn {
	w := bufio.NewWriterSize(conn, bufSize)
	return &netConn{
		target: target,
		conn:   conn,
		w:      w,
		dec:    codec.NewDecoder(bufio.NewReaderSize(conn, bufSize), types.MsgpackHandle()),
		enc:    codec.NewEncoder(w, types.MsgpackHandle()),
	}
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. maxPool controls how many connections are pooled per target. The
// timeout is used to apply I/O deadlines.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		connPool:   make(map[string][]*netConn),
		consumeCh:  make(chan RPC),
		logger:     logger,
		maxPool:    maxPool,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()
		n.shutdown = true

		n.connPoolLock.Lock()
		for _, conns := range n.connPool {
			for _, c := range conns {
				c.Release()
			}
		}
		n.connPool = make(map[string][]*netConn)
		n.connPoolLock.Unlock()
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	if addr := n.stream.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// getConn returns a pooled connection to target or dials a new one.
func (n *NetworkTransport) getConn(target string) (*netConn, error) {
	n.connPoolLock.Lock()
	if conns := n.connPool[target]; len(conns) > 0 {
		conn := conns[len(conns)-1]
		n.connPool[target] = conns[:len(conns)-1]
		n.connPoolLock.Unlock()
		return conn, nil
	}
	n.connPoolLock.Unlock()

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, err
	}
	return newNetConn(target, conn), nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns := n.connPool[conn.target]
	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[conn.target] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// Publish implements the Transport interface.
func (n *NetworkTransport) Publish(target string, args *PublishRequest, resp *PublishResponse) error {
	return n.genericRPC(target, rpcPublish, args, resp)
}

// Get implements the Transport interface.
func (n *NetworkTransport) Get(target string, args *GetRequest, resp *GetResponse) error {
	return n.genericRPC(target, rpcGet, args, resp)
}

// GetLinks implements the Transport interface.
func (n *NetworkTransport) GetLinks(target string, args *GetLinksRequest, resp *GetLinksResponse) error {
	return n.genericRPC(target, rpcGetLinks, args, resp)
}

// GetAgentActivity implements the Transport interface.
func (n *NetworkTransport) GetAgentActivity(target string, args *GetAgentActivityRequest, resp *GetAgentActivityResponse) error {
	return n.genericRPC(target, rpcGetAgentActivity, args, resp)
}

// ValidationReceipts implements the Transport interface.
func (n *NetworkTransport) ValidationReceipts(target string, args *ValidationReceiptRequest, resp *ValidationReceiptResponse) error {
	return n.genericRPC(target, rpcValidationReceipts, args, resp)
}

// Warrants implements the Transport interface.
func (n *NetworkTransport) Warrants(target string, args *WarrantRequest, resp *WarrantResponse) error {
	return n.genericRPC(target, rpcWarrants, args, resp)
}

// genericRPC handles a simple request/response RPC.
func (n *NetworkTransport) genericRPC(target string, rpcType uint8, args interface{}, resp interface{}) error {
	conn, err := n.getConn(target)
	if err != nil {
		return err
	}

	if n.timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(n.timeout))
	}

	if err := sendRPC(conn, rpcType, args); err != nil {
		conn.Release()
		return err
	}

	canReturn, err := decodeResponse(conn, resp)
	if canReturn {
		n.returnConn(conn)
	}
	return err
}

// sendRPC is used to encode and send the RPC.
func sendRPC(conn *netConn, rpcType uint8, args interface{}) error {
	if err := conn.w.WriteByte(rpcType); err != nil {
		return err
	}
	if err := conn.enc.Encode(args); err != nil {
		return err
	}
	return conn.w.Flush()
}

// decodeResponse is used to decode an RPC response and reports whether the
// connection can be reused.
func decodeResponse(conn *netConn, resp interface{}) (bool, error) {
	var rpcError string
	if err := conn.dec.Decode(&rpcError); err != nil {
		conn.Release()
		return false, err
	}

	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return false, err
	}

	if rpcError != "" {
		return true, errors.New(rpcError)
	}
	return true, nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		go n.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)
	dec := codec.NewDecoder(r, types.MsgpackHandle())
	enc := codec.NewEncoder(w, types.MsgpackHandle())

	for {
		if err := n.handleCommand(r, dec, enc); err != nil {
			switch {
			case err == ErrTransportShutdown:
				n.logger.WithField("error", err).Warn("Failed to decode incoming command")
			case err != io.EOF:
				n.logger.WithField("error", err).Error("Failed to decode incoming command")
			}
			return
		}
		if err := w.Flush(); err != nil {
			n.logger.WithField("error", err).Error("Failed to flush response")
			return
		}
	}
}

// handleCommand is used to decode and dispatch a single command.
func (n *NetworkTransport) handleCommand(r *bufio.Reader, dec *codec.Decoder, enc *codec.Encoder) error {
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	cmd, err := newCommand(rpcType)
	if err != nil {
		return err
	}
	if err := dec.Decode(cmd); err != nil {
		return err
	}

	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  cmd,
		RespChan: respCh,
	}

	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	select {
	case resp := <-respCh:
		respErr := ""
		if resp.Error != nil {
			respErr = resp.Error.Error()
		}
		if err := enc.Encode(respErr); err != nil {
			return err
		}
		return enc.Encode(resp.Response)
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
}
