package design

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// frameHeaderSize is channel(4) + timestamp(8) + nonce(12).
	frameHeaderSize = 4 + 8 + NonceSize
	// FrameOverhead is the number of bytes a frame package adds beyond the
	// raw payload: header plus trailing Ed25519 signature.
	FrameOverhead = frameHeaderSize + SignatureSize
	// MaxFramePayloadSize bounds a single frame's plaintext length.
	MaxFramePayloadSize = 64
)

// EncodeFrame builds a frame package encrypting payload for channel at the
// given timestamp, signed by the host key in secrets. The returned package
// is frameHeaderSize + len(payload) + SignatureSize bytes.
func EncodeFrame(rng io.Reader, secrets *Secrets, channel uint32, payload []byte, timestamp uint64) ([]byte, error) {
	if len(payload) > MaxFramePayloadSize {
		return nil, errRange(fmt.Sprintf("payload length %d exceeds the %d-byte maximum", len(payload), MaxFramePayloadSize))
	}
	root, ok := secrets.Channels[channel]
	if !ok {
		return nil, errUnknownChannel(fmt.Sprintf("channel %d is not present in the secrets bundle", channel))
	}

	deriv := NewChannelKeyDerivation(root)
	key := extend16to32(deriv.LeafKey(timestamp))

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], channel)
	binary.LittleEndian.PutUint64(header[4:12], timestamp)
	nonce, err := randBytes(rng, NonceSize)
	if err != nil {
		return nil, errCrypto("generating frame nonce", err)
	}
	copy(header[12:12+NonceSize], nonce)

	var nonceArr [NonceSize]byte
	copy(nonceArr[:], nonce)
	ciphertext, err := streamXOR(key, nonceArr, payload)
	if err != nil {
		return nil, errCrypto("encrypting frame payload", err)
	}

	packet := make([]byte, 0, frameHeaderSize+len(payload)+SignatureSize)
	packet = append(packet, header...)
	packet = append(packet, ciphertext...)
	sig := ed25519.Sign(secrets.HostKeyPriv, packet)
	packet = append(packet, sig...)

	return packet, nil
}
