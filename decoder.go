package design

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// subscriptionRecord is the decoder's in-memory record of one channel's
// active subscription: the range it was granted and the cover of keyed
// tree nodes needed to derive any leaf key within that range.
type subscriptionRecord struct {
	Start, End uint64
	Cover      []ChannelTreeNode
}

// DecoderState is a pure-host mirror of a decoder's subscription table and
// replay state, used to round-trip test subscription packages and frame
// packages without any embedded firmware. Channel 0 is always implicitly
// subscribed for the full timestamp range, mirroring a decoder's built-in
// emergency-channel key.
//
// Real decoder hardware is out of scope; this type exists because the
// verification steps in isolation (spec'd as a single per-frame function)
// need somewhere to keep the subscription table and the per-channel last-
// accepted timestamps between calls, exactly as a real decoder would.
type DecoderState struct {
	hostPub      ed25519.PublicKey
	deviceKey    [DeviceKeySize]byte
	subs         map[uint32]subscriptionRecord
	lastAccepted map[uint32]uint64
}

// NewDecoderState creates a decoder mirror for the decoder whose device key
// is deviceKey (as derived by deriveDeviceKey during provisioning), trusting
// signatures from hostPub, with channelZeroRoot pre-loaded as the always-on
// emergency channel.
func NewDecoderState(hostPub ed25519.PublicKey, deviceKey [DeviceKeySize]byte, channelZeroRoot NodeKey) *DecoderState {
	s := &DecoderState{
		hostPub:      hostPub,
		deviceKey:    deviceKey,
		subs:         make(map[uint32]subscriptionRecord),
		lastAccepted: make(map[uint32]uint64),
	}
	s.subs[0] = subscriptionRecord{
		Start: 0,
		End:   ^uint64(0),
		Cover: []ChannelTreeNode{{NodeNum: 1, Depth: 0, Key: channelZeroRoot}},
	}
	return s
}

// Subscribe verifies and installs a subscription package built by
// BuildSubscription, replacing any existing subscription for its channel.
// Attempting to (re-)subscribe channel 0 fails: it is always subscribed and
// was never meant to be issued as an explicit package.
func (s *DecoderState) Subscribe(packet []byte) error {
	parsed, err := parseSubscriptionHeader(packet)
	if err != nil {
		return err
	}
	if parsed.Channel == 0 {
		return errRange("channel 0 is implicit and cannot be subscribed")
	}
	sig := packet[len(packet)-SignatureSize:]
	if !ed25519.Verify(s.hostPub, parsed.EncryptedBody, sig) {
		return errCrypto("subscription signature verification failed", nil)
	}

	coverBlock, err := streamXOR(s.deviceKey, parsed.Nonce, packet[subscriptionHeaderSize:subscriptionHeaderSize+SubscriptionCoverBlockSize])
	if err != nil {
		return errCrypto("decrypting subscription cover block", err)
	}
	cover, err := decodeCoverBlock(coverBlock)
	if err != nil {
		return err
	}

	s.subs[parsed.Channel] = subscriptionRecord{Start: parsed.Start, End: parsed.End, Cover: cover}
	return nil
}

// Decode verifies and decrypts a frame package built by EncodeFrame,
// enforcing that the channel is currently subscribed, the timestamp falls
// within the subscribed range, and the timestamp strictly exceeds the last
// one this decoder accepted on that channel.
func (s *DecoderState) Decode(frame []byte) ([]byte, error) {
	if len(frame) < FrameOverhead {
		return nil, errSerialization(fmt.Sprintf("frame package has length %d, shorter than the %d-byte minimum", len(frame), FrameOverhead), nil)
	}
	content := frame[:len(frame)-SignatureSize]
	sig := frame[len(frame)-SignatureSize:]
	if !ed25519.Verify(s.hostPub, content, sig) {
		return nil, errCrypto("frame signature verification failed", nil)
	}

	channel := binary.LittleEndian.Uint32(content[0:4])
	timestamp := binary.LittleEndian.Uint64(content[4:12])
	var nonce [NonceSize]byte
	copy(nonce[:], content[12:12+NonceSize])
	ciphertext := content[frameHeaderSize:]

	rec, ok := s.subs[channel]
	if !ok {
		return nil, errNotCovered(fmt.Sprintf("channel %d is not currently subscribed", channel))
	}
	if timestamp < rec.Start || timestamp > rec.End {
		return nil, errNotCovered(fmt.Sprintf("timestamp %d is outside the subscribed range [%d, %d]", timestamp, rec.Start, rec.End))
	}
	if last, seen := s.lastAccepted[channel]; seen && timestamp <= last {
		return nil, errReplay(fmt.Sprintf("timestamp %d does not exceed the last accepted timestamp %d on channel %d", timestamp, last, channel))
	}

	leafKey, err := KeyForTimestampFromCover(rec.Cover, timestamp)
	if err != nil {
		return nil, err
	}
	key := extend16to32(leafKey)
	plaintext, err := streamXOR(key, nonce, ciphertext)
	if err != nil {
		return nil, errCrypto("decrypting frame payload", err)
	}

	s.lastAccepted[channel] = timestamp
	return plaintext, nil
}
