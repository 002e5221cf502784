package types

import (
	"crypto/ed25519"

	"github.com/mosaicnetworks/cellchain/src/crypto/keys"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// ValidationReceipt is an authority's signed statement that it validated and
// integrated an op.
type ValidationReceipt struct {
	OpHash         hh.OpHash        `codec:"op_hash"`
	Validator      hh.AgentPubKey   `codec:"validator"`
	Status         ValidationStatus `codec:"status"`
	WhenIntegrated Timestamp        `codec:"when_integrated"`
}

// SignedValidationReceipt carries the validator's signature.
type SignedValidationReceipt struct {
	Receipt   ValidationReceipt `codec:"receipt"`
	Signature []byte            `codec:"signature"`
}

// Verify checks the validator's signature.
func (s *SignedValidationReceipt) Verify() bool {
	data, err := Encode(&s.Receipt)
	if err != nil {
		return false
	}
	return keys.Verify(ed25519.PublicKey(s.Receipt.Validator.Core()), data, s.Signature)
}
