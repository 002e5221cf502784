// Package conductor hosts cells and exposes the zome call surface.
//
// A Conductor groups its cells by DNA into spaces. Every space holds the DHT
// and cache stores of its DNA, the networking collaborator and the authority
// workflows, and serves the cells of the local agents that run that DNA. A
// cell owns a source chain and the workflows that publish it.
//
//	Conductor
//	  ├─ Space (dna D1) : DHT store, cache, p2p.Network, workflow.Dht
//	  │    ├─ Cell (D1, A) : source chain, workflow.Author
//	  │    └─ Cell (D1, B)
//	  └─ Space (dna D2)
//	       └─ Cell (D2, A)
//
// Incoming RPCs from the transport are dispatched to the space of the DNA
// they name.
package conductor
