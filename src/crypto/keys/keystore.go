package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/box"
)

// ErrUnknownKey is returned when a Keystore is asked to use a key it does not
// hold.
var ErrUnknownKey = errors.New("unknown key")

// Keystore holds private keys and exposes signing and sealing operations keyed
// by public key.
type Keystore interface {
	GenerateSignKeypair() (ed25519.PublicKey, error)
	Sign(pub ed25519.PublicKey, data []byte) ([]byte, error)
	GenerateBoxKeypair() (*[32]byte, error)
	SealTo(recipient *[32]byte, msg []byte) ([]byte, error)
	OpenSealed(recipient *[32]byte, sealed []byte) ([]byte, error)
}

// Verify checks an Ed25519 signature. It does not need any private material so
// it is not part of the Keystore.
func Verify(pub ed25519.PublicKey, data []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// PublicKeyHex returns the hex encoding of a public key with the 0X prefix.
func PublicKeyHex(pub ed25519.PublicKey) string {
	return fmt.Sprintf("0X%X", []byte(pub))
}

// MemKeystore is an in-memory Keystore.
type MemKeystore struct {
	sync.RWMutex
	signKeys map[string]ed25519.PrivateKey
	boxKeys  map[[32]byte]*[32]byte
}

// NewMemKeystore creates an empty MemKeystore.
func NewMemKeystore() *MemKeystore {
	return &MemKeystore{
		signKeys: make(map[string]ed25519.PrivateKey),
		boxKeys:  make(map[[32]byte]*[32]byte),
	}
}

// GenerateSignKeypair implements Keystore.
func (k *MemKeystore) GenerateSignKeypair() (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	k.AddSignKey(priv)
	return pub, nil
}

// AddSignKey imports an existing Ed25519 private key, typically one read from
// a keyfile.
func (k *MemKeystore) AddSignKey(priv ed25519.PrivateKey) ed25519.PublicKey {
	pub := priv.Public().(ed25519.PublicKey)
	k.Lock()
	k.signKeys[hex.EncodeToString(pub)] = priv
	k.Unlock()
	return pub
}

// Sign implements Keystore.
func (k *MemKeystore) Sign(pub ed25519.PublicKey, data []byte) ([]byte, error) {
	k.RLock()
	priv, ok := k.signKeys[hex.EncodeToString(pub)]
	k.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return ed25519.Sign(priv, data), nil
}

// GenerateBoxKeypair implements Keystore.
func (k *MemKeystore) GenerateBoxKeypair() (*[32]byte, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	k.Lock()
	k.boxKeys[*pub] = priv
	k.Unlock()
	return pub, nil
}

// SealTo implements Keystore. Anyone can seal to a public key, the recipient
// does not need to be held by this keystore.
func (k *MemKeystore) SealTo(recipient *[32]byte, msg []byte) ([]byte, error) {
	return box.SealAnonymous(nil, msg, recipient, rand.Reader)
}

// OpenSealed implements Keystore.
func (k *MemKeystore) OpenSealed(recipient *[32]byte, sealed []byte) ([]byte, error) {
	k.RLock()
	priv, ok := k.boxKeys[*recipient]
	k.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	out, ok := box.OpenAnonymous(nil, sealed, recipient, priv)
	if !ok {
		return nil, errors.New("sealed box could not be opened")
	}
	return out, nil
}
