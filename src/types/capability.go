package types

import (
	"bytes"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// CapSecretLen is the size of capability secrets.
const CapSecretLen = 64

// CapAccessKind selects who may use a grant.
type CapAccessKind uint8

const (
	// Unrestricted grants need no secret.
	Unrestricted CapAccessKind = iota
	// Transferable grants admit anyone holding the secret.
	Transferable
	// Assigned grants admit listed agents holding the secret.
	Assigned
)

func (k CapAccessKind) String() string {
	switch k {
	case Unrestricted:
		return "Unrestricted"
	case Transferable:
		return "Transferable"
	case Assigned:
		return "Assigned"
	default:
		return "Unknown"
	}
}

// CapAccess is the access half of a grant.
type CapAccess struct {
	Kind      CapAccessKind    `codec:"kind"`
	Secret    []byte           `codec:"secret,omitempty"`
	Assignees []hh.AgentPubKey `codec:"assignees,omitempty"`
}

// ZomeFn names a zome function.
type ZomeFn struct {
	Zome string `codec:"zome"`
	Fn   string `codec:"fn"`
}

// GrantedFunctions is the function half of a grant. All overrides Listed.
type GrantedFunctions struct {
	All    bool     `codec:"all"`
	Listed []ZomeFn `codec:"listed,omitempty"`
}

// Admits reports whether fn is covered.
func (g GrantedFunctions) Admits(zome, fn string) bool {
	if g.All {
		return true
	}
	for _, f := range g.Listed {
		if f.Zome == zome && f.Fn == fn {
			return true
		}
	}
	return false
}

// CapGrant is a capability recorded as a private entry on the grantor's chain.
type CapGrant struct {
	Tag       string           `codec:"tag"`
	Access    CapAccess        `codec:"access"`
	Functions GrantedFunctions `codec:"functions"`
}

// Admits reports whether a call from provenance, presenting secret, for
// zome/fn is authorised by the grant.
func (g *CapGrant) Admits(provenance hh.AgentPubKey, secret []byte, zome, fn string) bool {
	if !g.Functions.Admits(zome, fn) {
		return false
	}
	switch g.Access.Kind {
	case Unrestricted:
		return true
	case Transferable:
		return len(secret) > 0 && bytes.Equal(secret, g.Access.Secret)
	case Assigned:
		if len(secret) == 0 || !bytes.Equal(secret, g.Access.Secret) {
			return false
		}
		for _, a := range g.Access.Assignees {
			if a == provenance {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CapClaim records a secret received from another agent.
type CapClaim struct {
	Tag     string         `codec:"tag"`
	Grantor hh.AgentPubKey `codec:"grantor"`
	Secret  []byte         `codec:"secret"`
}
