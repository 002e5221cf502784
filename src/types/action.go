package types

import (
	"fmt"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// ActionType is the discriminator of the Action sum type.
type ActionType uint8

const (
	ActionDna ActionType = iota
	ActionAgentValidationPkg
	ActionInitZomesComplete
	ActionCreate
	ActionUpdate
	ActionDelete
	ActionCreateLink
	ActionDeleteLink
	ActionOpenChain
	ActionCloseChain
)

func (t ActionType) String() string {
	switch t {
	case ActionDna:
		return "Dna"
	case ActionAgentValidationPkg:
		return "AgentValidationPkg"
	case ActionInitZomesComplete:
		return "InitZomesComplete"
	case ActionCreate:
		return "Create"
	case ActionUpdate:
		return "Update"
	case ActionDelete:
		return "Delete"
	case ActionCreateLink:
		return "CreateLink"
	case ActionDeleteLink:
		return "DeleteLink"
	case ActionOpenChain:
		return "OpenChain"
	case ActionCloseChain:
		return "CloseChain"
	default:
		return fmt.Sprintf("ActionType(%d)", uint8(t))
	}
}

// ParseActionType is the inverse of ActionType.String.
func ParseActionType(s string) (ActionType, error) {
	for t := ActionDna; t <= ActionCloseChain; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown action type %q", s)
}

// Action is the unit of authorship. The common header is always set; the
// remaining fields are populated according to Type and left zero otherwise.
type Action struct {
	Type       ActionType     `codec:"type"`
	Author     hh.AgentPubKey `codec:"author"`
	Timestamp  Timestamp      `codec:"timestamp"`
	Seq        uint32         `codec:"seq"`
	PrevAction hh.ActionHash  `codec:"prev_action"`

	// Dna
	DnaHash hh.DnaHash `codec:"dna_hash,omitempty"`

	// AgentValidationPkg
	MembraneProof []byte `codec:"membrane_proof,omitempty"`

	// Create, Update
	EntryType *EntryType   `codec:"entry_type,omitempty"`
	EntryHash hh.EntryHash `codec:"entry_hash,omitempty"`

	// Update
	OriginalAction hh.ActionHash `codec:"original_action,omitempty"`
	OriginalEntry  hh.EntryHash  `codec:"original_entry,omitempty"`

	// Delete
	DeletesAction hh.ActionHash `codec:"deletes_action,omitempty"`
	DeletesEntry  hh.EntryHash  `codec:"deletes_entry,omitempty"`

	// CreateLink, DeleteLink
	Base          hh.AnyLinkable `codec:"base,omitempty"`
	Target        hh.AnyLinkable `codec:"target,omitempty"`
	ZomeIndex     uint8          `codec:"zome_index,omitempty"`
	LinkType      uint8          `codec:"link_type,omitempty"`
	Tag           []byte         `codec:"tag,omitempty"`
	LinkAddAction hh.ActionHash  `codec:"link_add_action,omitempty"`

	// OpenChain, CloseChain
	PrevDnaHash hh.DnaHash `codec:"prev_dna_hash,omitempty"`
	NewDnaHash  hh.DnaHash `codec:"new_dna_hash,omitempty"`
}

// Marshal returns the canonical encoding of the Action. Signatures and hashes
// are computed over these bytes.
func (a *Action) Marshal() ([]byte, error) {
	return Encode(a)
}

// Unmarshal decodes an Action.
func (a *Action) Unmarshal(data []byte) error {
	return Decode(data, a)
}

// Hash returns the ActionHash of the canonical encoding.
func (a *Action) Hash() hh.ActionHash {
	return hh.HashContent(hh.Action, MustEncode(a))
}

// HasEntry reports whether the action carries an entry (Create or Update).
func (a *Action) HasEntry() bool {
	return a.Type == ActionCreate || a.Type == ActionUpdate
}

// IsGenesis reports whether the action is one of the three genesis actions,
// judged by sequence number.
func (a *Action) IsGenesis() bool {
	return a.Seq < 3
}

// IsPrivate reports whether the action's entry is private.
func (a *Action) IsPrivate() bool {
	return a.EntryType != nil && a.EntryType.Visibility == Private
}

// Validate checks the variant-independent structure of an Action: the header
// fields present or absent as the variant requires.
func (a *Action) Validate() error {
	if a.Author.Type() != hh.Agent {
		return fmt.Errorf("author is not an agent key")
	}
	if a.Type == ActionDna {
		if a.Seq != 0 || !a.PrevAction.IsZero() {
			return fmt.Errorf("Dna action must be at seq 0 with no prev_action")
		}
		if a.DnaHash.Type() != hh.Dna {
			return fmt.Errorf("Dna action without dna hash")
		}
		return nil
	}
	if a.Seq == 0 {
		return fmt.Errorf("%s action at seq 0", a.Type)
	}
	if a.PrevAction.Type() != hh.Action {
		return fmt.Errorf("%s action without prev_action", a.Type)
	}
	switch a.Type {
	case ActionAgentValidationPkg, ActionInitZomesComplete:
	case ActionCreate:
		if a.EntryType == nil || a.EntryHash.Type() != hh.Entry {
			return fmt.Errorf("Create without entry")
		}
	case ActionUpdate:
		if a.EntryType == nil || a.EntryHash.Type() != hh.Entry {
			return fmt.Errorf("Update without entry")
		}
		if a.OriginalAction.Type() != hh.Action || a.OriginalEntry.Type() != hh.Entry {
			return fmt.Errorf("Update without original")
		}
	case ActionDelete:
		if a.DeletesAction.Type() != hh.Action || a.DeletesEntry.Type() != hh.Entry {
			return fmt.Errorf("Delete without target")
		}
	case ActionCreateLink:
		if a.Base.IsZero() || a.Target.IsZero() {
			return fmt.Errorf("CreateLink without base or target")
		}
	case ActionDeleteLink:
		if a.Base.IsZero() || a.LinkAddAction.Type() != hh.Action {
			return fmt.Errorf("DeleteLink without base or link_add_action")
		}
	case ActionOpenChain:
		if a.PrevDnaHash.Type() != hh.Dna {
			return fmt.Errorf("OpenChain without prev_dna_hash")
		}
	case ActionCloseChain:
		if a.NewDnaHash.Type() != hh.Dna {
			return fmt.Errorf("CloseChain without new_dna_hash")
		}
	default:
		return fmt.Errorf("unknown action type %d", a.Type)
	}
	return nil
}

/*******************************************************************************
Builders
*******************************************************************************/

// ActionBuilder holds the variant part of an action. The source chain fills
// in the header (author, timestamp, seq, prev_action) when the action is put.
type ActionBuilder func(a *Action)

// Build applies the header and the builder.
func (b ActionBuilder) Build(author hh.AgentPubKey, ts Timestamp, seq uint32, prev hh.ActionHash) Action {
	a := Action{
		Author:     author,
		Timestamp:  ts,
		Seq:        seq,
		PrevAction: prev,
	}
	b(&a)
	return a
}

// NewDna builds the first action of every chain.
func NewDna(dna hh.DnaHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionDna
		a.DnaHash = dna
	}
}

// NewAgentValidationPkg builds the second genesis action.
func NewAgentValidationPkg(membraneProof []byte) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionAgentValidationPkg
		a.MembraneProof = membraneProof
	}
}

// NewInitZomesComplete marks the end of zome initialisation.
func NewInitZomesComplete() ActionBuilder {
	return func(a *Action) {
		a.Type = ActionInitZomesComplete
	}
}

// NewCreate builds a Create action for an entry.
func NewCreate(et EntryType, entry hh.EntryHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionCreate
		t := et
		a.EntryType = &t
		a.EntryHash = entry
	}
}

// NewUpdate builds an Update of an existing action/entry pair.
func NewUpdate(originalAction hh.ActionHash, originalEntry hh.EntryHash, et EntryType, entry hh.EntryHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionUpdate
		a.OriginalAction = originalAction
		a.OriginalEntry = originalEntry
		t := et
		a.EntryType = &t
		a.EntryHash = entry
	}
}

// NewDelete builds a Delete of an entry-bearing action.
func NewDelete(deletesAction hh.ActionHash, deletesEntry hh.EntryHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionDelete
		a.DeletesAction = deletesAction
		a.DeletesEntry = deletesEntry
	}
}

// NewCreateLink builds a link from base to target.
func NewCreateLink(base, target hh.AnyLinkable, zomeIndex, linkType uint8, tag []byte) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionCreateLink
		a.Base = base
		a.Target = target
		a.ZomeIndex = zomeIndex
		a.LinkType = linkType
		a.Tag = tag
	}
}

// NewDeleteLink removes a link previously added by linkAdd.
func NewDeleteLink(linkAdd hh.ActionHash, base hh.AnyLinkable) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionDeleteLink
		a.LinkAddAction = linkAdd
		a.Base = base
	}
}

// NewOpenChain builds an OpenChain action pointing at the previous DNA.
func NewOpenChain(prev hh.DnaHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionOpenChain
		a.PrevDnaHash = prev
	}
}

// NewCloseChain builds a CloseChain action pointing at the next DNA.
func NewCloseChain(next hh.DnaHash) ActionBuilder {
	return func(a *Action) {
		a.Type = ActionCloseChain
		a.NewDnaHash = next
	}
}
