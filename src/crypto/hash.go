package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// Blake2b256 returns the 32-byte blake2b digest of the data. It is the core
// of every content address.
func Blake2b256(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

// Blake2b128 returns the 16-byte blake2b digest of the data. It is used to
// derive DHT locations.
func Blake2b128(data []byte) []byte {
	hasher, err := blake2b.New(16, nil)
	if err != nil {
		// only returned for invalid sizes or keys
		panic(err)
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

// HashFromTwoHashes returns the blake2b-256 hash of the concatenation of left
// and right data.
func HashFromTwoHashes(left []byte, right []byte) []byte {
	hasher, _ := blake2b.New256(nil)
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}
