// Package holohash implements the typed, content-addressed hashes used to name
// every piece of data on a source chain and on the DHT.
//
// A HoloHash is 39 bytes: a 3-byte type prefix, the 32-byte blake2b digest (the
// core) and a 4-byte DHT location derived from the core. The location places
// the hash on the u32 ring that neighborhoods are computed on.
package holohash

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/cellchain/src/crypto"
)

const (
	// PrefixLen is the length of the type prefix.
	PrefixLen = 3
	// CoreLen is the length of the blake2b digest.
	CoreLen = 32
	// LocLen is the length of the DHT location suffix.
	LocLen = 4
	// Len is the full length of a HoloHash.
	Len = PrefixLen + CoreLen + LocLen
)

// HashType identifies what a hash points to.
type HashType uint8

const (
	// Unknown is the type of the zero hash
	Unknown HashType = iota
	Dna
	Agent
	Entry
	Op
	Action
	Wasm
	Warrant
)

var prefixes = map[HashType][PrefixLen]byte{
	Dna:     {0x84, 0x2d, 0x24},
	Agent:   {0x84, 0x20, 0x24},
	Entry:   {0x84, 0x21, 0x24},
	Op:      {0x84, 0x24, 0x24},
	Action:  {0x84, 0x29, 0x24},
	Wasm:    {0x84, 0x2a, 0x24},
	Warrant: {0x84, 0x2c, 0x24},
}

func (t HashType) String() string {
	switch t {
	case Dna:
		return "Dna"
	case Agent:
		return "Agent"
	case Entry:
		return "Entry"
	case Op:
		return "Op"
	case Action:
		return "Action"
	case Wasm:
		return "Wasm"
	case Warrant:
		return "Warrant"
	default:
		return "Unknown"
	}
}

// HoloHash is a typed hash. The zero value is the empty hash.
type HoloHash [Len]byte

// Aliases make signatures self-documenting. They are not distinct types.
type (
	ActionHash  = HoloHash
	EntryHash   = HoloHash
	AgentPubKey = HoloHash
	DnaHash     = HoloHash
	OpHash      = HoloHash
	WasmHash    = HoloHash
	WarrantHash = HoloHash
	// AnyLinkable is a hash that links can be attached to.
	AnyLinkable = HoloHash
)

// FromCore builds a HoloHash of the given type around a 32-byte core.
func FromCore(t HashType, core []byte) (HoloHash, error) {
	var h HoloHash
	prefix, ok := prefixes[t]
	if !ok {
		return h, fmt.Errorf("unknown hash type %d", t)
	}
	if len(core) != CoreLen {
		return h, fmt.Errorf("hash core should be %d bytes, got %d", CoreLen, len(core))
	}
	copy(h[:PrefixLen], prefix[:])
	copy(h[PrefixLen:PrefixLen+CoreLen], core)
	copy(h[PrefixLen+CoreLen:], locationBytes(core))
	return h, nil
}

// MustFromCore is FromCore for cores that are known to be well formed.
func MustFromCore(t HashType, core []byte) HoloHash {
	h, err := FromCore(t, core)
	if err != nil {
		panic(err)
	}
	return h
}

// HashContent hashes data with blake2b-256 and wraps the digest.
func HashContent(t HashType, data []byte) HoloHash {
	return MustFromCore(t, crypto.Blake2b256(data))
}

// FromAgentKey wraps a raw 32-byte Ed25519 public key.
func FromAgentKey(pub []byte) (AgentPubKey, error) {
	return FromCore(Agent, pub)
}

// Retype returns a copy of h with a different type prefix. The core and
// location are unchanged. Agent keys are also entries, and are addressed as
// such on the DHT.
func (h HoloHash) Retype(t HashType) HoloHash {
	return MustFromCore(t, h.Core())
}

// FromBytes parses the 39-byte raw form and checks the location.
func FromBytes(b []byte) (HoloHash, error) {
	var h HoloHash
	if len(b) != Len {
		return h, fmt.Errorf("hash should be %d bytes, got %d", Len, len(b))
	}
	copy(h[:], b)
	if h.Type() == Unknown {
		return HoloHash{}, fmt.Errorf("unknown hash prefix %x", b[:PrefixLen])
	}
	if !bytes.Equal(h[PrefixLen+CoreLen:], locationBytes(h.Core())) {
		return HoloHash{}, fmt.Errorf("hash location does not match core")
	}
	return h, nil
}

// Parse decodes the string form produced by String.
func Parse(s string) (HoloHash, error) {
	if len(s) < 1 || s[0] != 'u' {
		return HoloHash{}, fmt.Errorf("hash string should start with 'u'")
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return HoloHash{}, err
	}
	return FromBytes(raw)
}

// Type returns the hash type read from the prefix.
func (h HoloHash) Type() HashType {
	for t, p := range prefixes {
		if bytes.Equal(h[:PrefixLen], p[:]) {
			return t
		}
	}
	return Unknown
}

// Core returns the 32-byte digest.
func (h HoloHash) Core() []byte {
	return h[PrefixLen : PrefixLen+CoreLen]
}

// Bytes returns the 39-byte raw form.
func (h HoloHash) Bytes() []byte {
	return h[:]
}

// Location returns the position of the hash on the DHT ring.
func (h HoloHash) Location() uint32 {
	return binary.LittleEndian.Uint32(h[PrefixLen+CoreLen:])
}

// IsZero reports whether h is the empty hash.
func (h HoloHash) IsZero() bool {
	return h == HoloHash{}
}

// String returns "u" followed by the unpadded url-safe base64 of the raw
// bytes.
func (h HoloHash) String() string {
	if h.IsZero() {
		return ""
	}
	return "u" + base64.RawURLEncoding.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so hashes read well in JSON.
func (h HoloHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HoloHash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = HoloHash{}
		return nil
	}
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = p
	return nil
}

// Compare orders hashes bytewise.
func Compare(a, b HoloHash) int {
	return bytes.Compare(a[:], b[:])
}

// locationBytes hashes the core to 16 bytes and folds it with XOR into 4.
func locationBytes(core []byte) []byte {
	digest := crypto.Blake2b128(core)
	out := make([]byte, LocLen)
	for i, b := range digest {
		out[i%LocLen] ^= b
	}
	return out
}
