package design

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// SubscriptionCoverSlots is the number of fixed-size slots the
	// subscription cover block is padded out to, regardless of how many
	// nodes the minimum cover actually needs (at most 2*Height-1 = 127,
	// comfortably more than 25 would ever require for realistic channel
	// lifetimes; the slot count is a deployment-fixed wire property, not a
	// mathematical bound, see DESIGN.md).
	SubscriptionCoverSlots = 25
	// subscriptionSlotSize is the padded size of one cover-block slot. Only
	// the first 25 bytes of a slot carry data (8-byte node number, 16-byte
	// key, 1-byte depth); the rest is reserved padding.
	subscriptionSlotSize = 128
	// SubscriptionCoverBlockSize is the total size of the (still-encrypted)
	// cover block.
	SubscriptionCoverBlockSize = SubscriptionCoverSlots * subscriptionSlotSize
	// subscriptionHeaderSize is decoder_id(4) + start(8) + end(8) +
	// channel(4) + nonce(12).
	subscriptionHeaderSize = 4 + 8 + 8 + 4 + NonceSize
	// SubscriptionSize is the total size of a subscription package: header
	// + cover block + Ed25519 signature.
	SubscriptionSize = subscriptionHeaderSize + SubscriptionCoverBlockSize + SignatureSize

	slotNodeNumOffset = 0
	slotKeyOffset     = 8
	slotDepthOffset   = 24
)

// BuildSubscription constructs a subscription package authorizing decoder
// decoderID to decrypt channel between start and end (inclusive), signed by
// the host key in secrets.
func BuildSubscription(rng io.Reader, secrets *Secrets, decoderID uint32, start, end uint64, channel uint32) ([]byte, error) {
	if channel == 0 {
		return nil, errRange("channel 0 is implicit and cannot be subscribed")
	}
	if start > end {
		return nil, errRange(fmt.Sprintf("start %d exceeds end %d", start, end))
	}
	root, ok := secrets.Channels[channel]
	if !ok {
		return nil, errUnknownChannel(fmt.Sprintf("channel %d is not present in the secrets bundle", channel))
	}

	deriv := NewChannelKeyDerivation(root)
	cover, err := MinimumCover(start, end)
	if err != nil {
		return nil, err
	}
	if len(cover) > SubscriptionCoverSlots {
		return nil, errCoverTooLarge(fmt.Sprintf("minimum cover needs %d nodes, only %d slots are available", len(cover), SubscriptionCoverSlots))
	}
	for i := range cover {
		cover[i].Key = deriv.KeyAt(cover[i])
	}

	header := make([]byte, subscriptionHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], decoderID)
	binary.LittleEndian.PutUint64(header[4:12], start)
	binary.LittleEndian.PutUint64(header[12:20], end)
	binary.LittleEndian.PutUint32(header[20:24], channel)
	nonce, err := randBytes(rng, NonceSize)
	if err != nil {
		return nil, errCrypto("generating subscription nonce", err)
	}
	copy(header[24:24+NonceSize], nonce)

	coverBlock := make([]byte, SubscriptionCoverBlockSize)
	for i, node := range cover {
		off := i * subscriptionSlotSize
		binary.LittleEndian.PutUint64(coverBlock[off+slotNodeNumOffset:off+slotNodeNumOffset+8], node.NodeNum)
		copy(coverBlock[off+slotKeyOffset:off+slotKeyOffset+NodeKeySize], node.Key[:])
		coverBlock[off+slotDepthOffset] = node.Depth
	}
	// Remaining slots (len(cover)..SubscriptionCoverSlots) stay at their
	// zero value: node_num = 0, a sentinel, since node 0 never occurs in a
	// real tree.

	deviceKey, err := deriveDeviceKey(secrets.DecoderMasterKey, decoderID)
	if err != nil {
		return nil, errCrypto("deriving device key", err)
	}
	var nonceArr [NonceSize]byte
	copy(nonceArr[:], nonce)
	encryptedCover, err := streamXOR(deviceKey, nonceArr, coverBlock)
	if err != nil {
		return nil, errCrypto("encrypting subscription cover block", err)
	}

	packet := make([]byte, 0, SubscriptionSize)
	packet = append(packet, header...)
	packet = append(packet, encryptedCover...)
	sig := ed25519.Sign(secrets.HostKeyPriv, packet)
	packet = append(packet, sig...)

	return packet, nil
}

// parsedSubscription is the decoded form of a subscription package after
// signature verification and cover-block decryption.
type parsedSubscription struct {
	DecoderID     uint32
	Start, End    uint64
	Channel       uint32
	Nonce         [NonceSize]byte
	EncryptedBody []byte // header || encrypted cover block, signed content
}

// parseSubscriptionHeader splits a subscription package's header fields
// without touching the (still-encrypted) cover block or signature.
func parseSubscriptionHeader(packet []byte) (parsedSubscription, error) {
	if len(packet) != SubscriptionSize {
		return parsedSubscription{}, errSerialization(fmt.Sprintf("subscription package has length %d, want %d", len(packet), SubscriptionSize), nil)
	}
	var p parsedSubscription
	p.DecoderID = binary.LittleEndian.Uint32(packet[0:4])
	p.Start = binary.LittleEndian.Uint64(packet[4:12])
	p.End = binary.LittleEndian.Uint64(packet[12:20])
	p.Channel = binary.LittleEndian.Uint32(packet[20:24])
	copy(p.Nonce[:], packet[24:24+NonceSize])
	p.EncryptedBody = packet[:subscriptionHeaderSize+SubscriptionCoverBlockSize]
	return p, nil
}

// decodeCoverBlock parses a decrypted cover block into its live
// (non-sentinel) nodes.
func decodeCoverBlock(block []byte) ([]ChannelTreeNode, error) {
	if len(block) != SubscriptionCoverBlockSize {
		return nil, errSerialization(fmt.Sprintf("cover block has length %d, want %d", len(block), SubscriptionCoverBlockSize), nil)
	}
	var nodes []ChannelTreeNode
	for i := 0; i < SubscriptionCoverSlots; i++ {
		off := i * subscriptionSlotSize
		nodeNum := binary.LittleEndian.Uint64(block[off+slotNodeNumOffset : off+slotNodeNumOffset+8])
		depth := block[off+slotDepthOffset]
		// The padding sentinel is node_num == 0 at depth 0: no real node can
		// have both, since the root is node_num == 1. Without the depth
		// check this would also match the leaf of timestamp 0 (depth ==
		// Height, node_num truncated to 0), dropping a genuine cover node.
		if nodeNum == 0 && depth == 0 {
			continue
		}
		var node ChannelTreeNode
		node.NodeNum = nodeNum
		copy(node.Key[:], block[off+slotKeyOffset:off+slotKeyOffset+NodeKeySize])
		node.Depth = depth
		nodes = append(nodes, node)
	}
	return nodes, nil
}
