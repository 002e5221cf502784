package types

import (
	"crypto/ed25519"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// SignedAction is an Action with its author's signature over the canonical
// encoding of the Action.
type SignedAction struct {
	Action    Action `codec:"action"`
	Signature []byte `codec:"signature"`

	hash hh.ActionHash
}

// NewSignedAction pairs an action with a signature.
func NewSignedAction(a Action, sig []byte) *SignedAction {
	return &SignedAction{Action: a, Signature: sig}
}

// Hash returns the ActionHash, computing it once.
func (s *SignedAction) Hash() hh.ActionHash {
	if s.hash.IsZero() {
		s.hash = s.Action.Hash()
	}
	return s.hash
}

// Verify checks the signature under the action's author.
func (s *SignedAction) Verify() bool {
	data, err := s.Action.Marshal()
	if err != nil {
		return false
	}
	return keys.Verify(ed25519.PublicKey(s.Action.Author.Core()), data, s.Signature)
}

// Marshal encodes the signed action.
func (s *SignedAction) Marshal() ([]byte, error) {
	return Encode(s)
}

// Unmarshal decodes a signed action.
func (s *SignedAction) Unmarshal(data []byte) error {
	s.hash = hh.HoloHash{}
	return Decode(data, s)
}

// Record is what callers see of a chain element: a signed action and, when
// available, its entry.
type Record struct {
	SignedAction SignedAction `codec:"signed_action"`
	Entry        *Entry       `codec:"entry,omitempty"`
}

// NewRecord builds a Record.
func NewRecord(sa SignedAction, entry *Entry) *Record {
	return &Record{SignedAction: sa, Entry: entry}
}

// ActionHash returns the hash of the record's action.
func (r *Record) ActionHash() hh.ActionHash {
	return r.SignedAction.Hash()
}

// Action returns the record's action.
func (r *Record) Action() *Action {
	return &r.SignedAction.Action
}
