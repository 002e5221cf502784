// Package keys implements the public key cryptography used by cells.
//
// Every agent owns an Ed25519 signing key-pair. The public half doubles as the
// agent's identity on the DHT; the private half never leaves the Keystore.
// Signing requests are made by public key, so callers only ever handle the
// public bytes and the signatures.
//
// Keystores can also generate X25519 key-pairs and seal or open anonymous
// boxes (libsodium sealed boxes) for encrypting payloads to an agent.
package keys
