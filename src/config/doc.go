// Package config defines the configuration of a cellchain node.
//
// The command line loads it from flags and from an optional cellchain.toml
// (or .yaml, .json) in the data directory, then derives the conductor
// configuration from it. The data directory also holds:
//
//	priv_key   // the hex encoded seed of the agent key (cf. cellchain keygen).
//	peers.json // a JSON file listing the known peers.
//	badger_db/ // the databases, when store is enabled.
package config
