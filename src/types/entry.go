package types

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Visibility decides whether an entry is published to the DHT.
type Visibility uint8

const (
	Public Visibility = iota
	Private
)

func (v Visibility) String() string {
	if v == Private {
		return "Private"
	}
	return "Public"
}

// EntryKind is the discriminator of both Entry and EntryType.
type EntryKind uint8

const (
	EntryAgent EntryKind = iota
	EntryApp
	EntryCapGrant
	EntryCapClaim
	EntryCountersigned
)

func (k EntryKind) String() string {
	switch k {
	case EntryAgent:
		return "Agent"
	case EntryApp:
		return "App"
	case EntryCapGrant:
		return "CapGrant"
	case EntryCapClaim:
		return "CapClaim"
	case EntryCountersigned:
		return "Countersigned"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// EntryType is recorded in Create and Update actions. App entry types are
// scoped to a zome.
type EntryType struct {
	Kind       EntryKind  `codec:"kind"`
	ZomeIndex  uint8      `codec:"zome_index"`
	EntryIndex uint8      `codec:"entry_index"`
	Visibility Visibility `codec:"visibility"`
}

// AgentEntryType is the type of the genesis agent key entry.
func AgentEntryType() EntryType {
	return EntryType{Kind: EntryAgent}
}

// CapGrantEntryType is the type of capability grants. Grants are private.
func CapGrantEntryType() EntryType {
	return EntryType{Kind: EntryCapGrant, Visibility: Private}
}

// CapClaimEntryType is the type of capability claims. Claims are private.
func CapClaimEntryType() EntryType {
	return EntryType{Kind: EntryCapClaim, Visibility: Private}
}

// AppEntryType builds an app entry type.
func AppEntryType(zome, index uint8, vis Visibility) EntryType {
	return EntryType{Kind: EntryApp, ZomeIndex: zome, EntryIndex: index, Visibility: vis}
}

func (t EntryType) String() string {
	if t.Kind == EntryApp {
		return fmt.Sprintf("App(%d:%d,%s)", t.ZomeIndex, t.EntryIndex, t.Visibility)
	}
	return t.Kind.String()
}

// Entry is the content that Create and Update actions point at.
type Entry struct {
	Kind     EntryKind      `codec:"kind"`
	Agent    hh.AgentPubKey `codec:"agent,omitempty"`
	App      []byte         `codec:"app,omitempty"`
	CapGrant *CapGrant      `codec:"cap_grant,omitempty"`
	CapClaim *CapClaim      `codec:"cap_claim,omitempty"`
	Session  []byte         `codec:"session,omitempty"`
}

// NewAgentEntry wraps an agent key.
func NewAgentEntry(agent hh.AgentPubKey) *Entry {
	return &Entry{Kind: EntryAgent, Agent: agent}
}

// NewAppEntry wraps opaque application bytes.
func NewAppEntry(b []byte) *Entry {
	return &Entry{Kind: EntryApp, App: b}
}

// NewCapGrantEntry wraps a capability grant.
func NewCapGrantEntry(g CapGrant) *Entry {
	return &Entry{Kind: EntryCapGrant, CapGrant: &g}
}

// NewCapClaimEntry wraps a capability claim.
func NewCapClaimEntry(c CapClaim) *Entry {
	return &Entry{Kind: EntryCapClaim, CapClaim: &c}
}

// NewCountersignedEntry wraps a countersigned app payload with its session
// data.
func NewCountersignedEntry(session, b []byte) *Entry {
	return &Entry{Kind: EntryCountersigned, Session: session, App: b}
}

// Marshal returns the canonical encoding of the entry.
func (e *Entry) Marshal() ([]byte, error) {
	return Encode(e)
}

// Unmarshal decodes an entry.
func (e *Entry) Unmarshal(data []byte) error {
	return Decode(data, e)
}

// Hash returns the EntryHash. Agent entries are addressed by the agent key
// itself so that the key can be looked up as an entry.
func (e *Entry) Hash() hh.EntryHash {
	if e.Kind == EntryAgent {
		return e.Agent.Retype(hh.Entry)
	}
	return hh.HashContent(hh.Entry, MustEncode(e))
}

// Size is the length of the entry's canonical encoding.
func (e *Entry) Size() int {
	return len(MustEncode(e))
}

// MatchesType reports whether an entry variant is allowed under an entry type.
func (e *Entry) MatchesType(t EntryType) bool {
	switch t.Kind {
	case EntryAgent:
		return e.Kind == EntryAgent
	case EntryApp:
		return e.Kind == EntryApp || e.Kind == EntryCountersigned
	case EntryCapGrant:
		return e.Kind == EntryCapGrant && e.CapGrant != nil
	case EntryCapClaim:
		return e.Kind == EntryCapClaim && e.CapClaim != nil
	default:
		return false
	}
}
