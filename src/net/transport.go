package net

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	Publish(target string, args *PublishRequest, resp *PublishResponse) error

	Get(target string, args *GetRequest, resp *GetResponse) error

	GetLinks(target string, args *GetLinksRequest, resp *GetLinksResponse) error

	GetAgentActivity(target string, args *GetAgentActivityRequest, resp *GetAgentActivityResponse) error

	ValidationReceipts(target string, args *ValidationReceiptRequest, resp *ValidationReceiptResponse) error

	Warrants(target string, args *WarrantRequest, resp *WarrantResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
