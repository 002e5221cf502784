package types

import (
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Details is the answer to GetDetails. Exactly one of Entry or Record is set,
// depending on whether an entry or an action hash was asked for.
type Details struct {
	Entry  *EntryDetails  `codec:"entry,omitempty" json:",omitempty"`
	Record *RecordDetails `codec:"record,omitempty" json:",omitempty"`
}

// ActionWithStatus is a signed action with the validation status it holds at
// the answering authority.
type ActionWithStatus struct {
	Action SignedAction     `codec:"action"`
	Status ValidationStatus `codec:"status"`
}

// EntryDetails is the full metadata of an entry.
type EntryDetails struct {
	Entry           *Entry             `codec:"entry"`
	Actions         []ActionWithStatus `codec:"actions"`
	RejectedActions []ActionWithStatus `codec:"rejected_actions"`
	Deletes         []ActionWithStatus `codec:"deletes"`
	Updates         []ActionWithStatus `codec:"updates"`
	EntryDhtStatus  EntryDhtStatus     `codec:"entry_dht_status"`
}

// RecordDetails is the full metadata of an action.
type RecordDetails struct {
	Record  Record             `codec:"record"`
	Status  ValidationStatus   `codec:"status"`
	Deletes []ActionWithStatus `codec:"deletes"`
	Updates []ActionWithStatus `codec:"updates"`
}

// Link is a live CreateLink as returned by GetLinks.
type Link struct {
	Author     hh.AgentPubKey `codec:"author"`
	Base       hh.AnyLinkable `codec:"base"`
	Target     hh.AnyLinkable `codec:"target"`
	Timestamp  Timestamp      `codec:"timestamp"`
	ZomeIndex  uint8          `codec:"zome_index"`
	LinkType   uint8          `codec:"link_type"`
	Tag        []byte         `codec:"tag"`
	CreateLink hh.ActionHash  `codec:"create_link_hash"`
}

// LinkQuery filters links on a base.
type LinkQuery struct {
	// ZomeIndex and LinkTypes restrict to these types when LinkTypes is
	// non-empty.
	ZomeIndex uint8   `codec:"zome_index"`
	LinkTypes []uint8 `codec:"link_types,omitempty"`
	// TagPrefix keeps links whose tag starts with these bytes.
	TagPrefix []byte `codec:"tag_prefix,omitempty"`
	// Author keeps links created by this agent when set.
	Author hh.AgentPubKey `codec:"author,omitempty"`
}

// ActivityRequest selects how much of an agent's activity to return.
type ActivityRequest uint8

const (
	// ActivityStatus returns only the chain status and highest observed.
	ActivityStatus ActivityRequest = iota
	// ActivityFull also returns the matching action hashes.
	ActivityFull
)

// ChainItem identifies an action on an agent's chain.
type ChainItem struct {
	Seq  uint32        `codec:"seq"`
	Hash hh.ActionHash `codec:"hash"`
}

// HighestObserved is the highest seq seen for an agent and every action hash
// seen at that seq. More than one hash means a fork.
type HighestObserved struct {
	Seq    uint32          `codec:"seq"`
	Hashes []hh.ActionHash `codec:"hashes"`
}

// AgentActivity is the answer to GetAgentActivity.
type AgentActivity struct {
	Agent           hh.AgentPubKey   `codec:"agent"`
	Status          ChainStatus      `codec:"status"`
	HighestObserved *HighestObserved `codec:"highest_observed,omitempty"`
	ValidActions    []ChainItem      `codec:"valid_actions,omitempty"`
	RejectedActions []ChainItem      `codec:"rejected_actions,omitempty"`
	Warrants        []SignedWarrant  `codec:"warrants,omitempty"`
}

// HeldOp is an op together with the validation status the holder gives it.
// Authorities answer reads with held ops.
type HeldOp struct {
	Op     DhtOp            `codec:"op"`
	Status ValidationStatus `codec:"status"`
}
