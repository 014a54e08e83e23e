// Package design implements the host-side cryptographic keying layer for a
// satellite-TV-style broadcast framework: a per-channel key-derivation tree,
// subscription-package construction, frame encoding, secrets-bundle
// generation, and a reference decoder-side verifier used for round-trip
// testing.
//
// MD5 is used throughout the tree engine purely as a fixed-input 128-bit
// compression function (a PRF), never for collision resistance against an
// adversarial input: the inputs to it are always derived key material, not
// attacker-controlled data.
package design

import (
	"crypto/ed25519"
	"crypto/md5"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	// NodeKeySize is the width, in bytes, of every key held at a node of a
	// channel's derivation tree.
	NodeKeySize = 16
	// DeviceMasterKeySize is the width of the decoder master key held in a
	// secrets bundle.
	DeviceMasterKeySize = 32
	// DeviceKeySize is the width of a per-decoder key derived from the
	// decoder master key.
	DeviceKeySize = 32
	// FrameKeySize is the width of the stream-cipher key used to encrypt
	// subscription cover blocks and frame payloads.
	FrameKeySize = 32
	// NonceSize is the width of the ChaCha20 nonce used on the wire.
	NonceSize = 12
	// SignatureSize is the width of an Ed25519 signature.
	SignatureSize = ed25519.SignatureSize
)

// NodeKey is the 128-bit key value held at a single node of a channel's
// derivation tree.
type NodeKey [NodeKeySize]byte

// prfLeft derives the left child's key from a parent key: MD5(parent || 'L').
func prfLeft(parent NodeKey) NodeKey { return md5Tag(parent, 'L') }

// prfRight derives the right child's key from a parent key: MD5(parent || 'R').
func prfRight(parent NodeKey) NodeKey { return md5Tag(parent, 'R') }

func md5Tag(k NodeKey, tag byte) NodeKey {
	var in [NodeKeySize + 1]byte
	copy(in[:NodeKeySize], k[:])
	in[NodeKeySize] = tag
	return NodeKey(md5.Sum(in[:]))
}

// extend16to32 widens a 128-bit node key into a 256-bit stream-cipher key by
// appending MD5(key) to itself.
func extend16to32(k NodeKey) [FrameKeySize]byte {
	sum := md5.Sum(k[:])
	var out [FrameKeySize]byte
	copy(out[:NodeKeySize], k[:])
	copy(out[NodeKeySize:], sum[:])
	return out
}

// deriveDeviceKey derives a decoder's per-device key from the secrets
// bundle's decoder master key via HKDF-SHA-512, with the little-endian
// decoder ID as HKDF info.
func deriveDeviceKey(decoderMaster [DeviceMasterKeySize]byte, decoderID uint32) ([DeviceKeySize]byte, error) {
	var out [DeviceKeySize]byte
	info := make([]byte, 4)
	binary.LittleEndian.PutUint32(info, decoderID)
	r := hkdf.New(sha512.New, decoderMaster[:], nil, info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("deriving device key: %w", err)
	}
	return out, nil
}

// randBytes reads n bytes from rng, the injectable CSPRNG every generator
// and encoder in this package takes instead of a package-global source, so
// tests can supply a deterministic reader and production callers pass
// crypto/rand.Reader.
func randBytes(rng io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return buf, nil
}

// streamXOR runs ChaCha20 (the plain stream cipher, not the Poly1305 AEAD
// construction) over data with the given key and nonce. It is its own
// inverse: the same call encrypts or decrypts.
func streamXOR(key [FrameKeySize]byte, nonce [NonceSize]byte, data []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("constructing chacha20 cipher: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}
