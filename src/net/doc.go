// Package net implements the transports cells use to reach the authorities of
// a DHT neighbourhood.
//
// A Transport carries a small set of request/response RPCs: publishing ops to
// an authority, fetching held ops for a get or get_links, fetching an agent's
// activity, and delivering validation receipts and warrants back to authors.
// There are two implementations:
//
// - Inmem: in-memory transport used for tests and single-process networks
//
// - TCP: a NetworkTransport over plain TCP
//
// The TCP transport frames every request with a one-byte RPC type followed by
// the canonical MessagePack encoding of the request. A response is an error
// string followed by the encoded response object.
//
// To use a TCP transport, set the following options in the Config object (cf
// config package):
//
// - BindAddr: the IP:PORT of the TCP socket to bind to.
//
// - AdvertiseAddr: (optional) the address advertised to other nodes when
// BindAddr is not reachable by them.
package net
