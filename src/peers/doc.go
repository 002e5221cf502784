// Package peers defines the concept of a cellchain peer and implements
// functions to manage collections of peers.
//
// A peer is a node reachable at a network address that runs cells for one
// agent. Peers are identified by their agent public key, and optionaly a
// moniker which is a non-unique user-friendly name.
//
// The agent key places a peer on the DHT ring. The authorities for a basis
// hash are the peers whose location is nearest to the location of that hash,
// so a PeerSet can answer which peers should hold an op and which peers should
// be asked for data about a hash.
//
// Upon starting up, a node expects to find a peers.json file in its data
// directory listing the peers it should talk to.
package peers
