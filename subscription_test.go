package design

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func testSecrets(t *testing.T, channels []uint32) *Secrets {
	t.Helper()
	blob, err := GenSecrets(rand.Reader, channels)
	if err != nil {
		t.Fatalf("GenSecrets: %v", err)
	}
	secrets, err := LoadSecrets(blob)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	return secrets
}

func TestBuildSubscriptionPackageSize(t *testing.T) {
	secrets := testSecrets(t, []uint32{7})
	packet, err := BuildSubscription(rand.Reader, secrets, 12345, 0, 1000, 7)
	if err != nil {
		t.Fatalf("BuildSubscription: %v", err)
	}
	if len(packet) != SubscriptionSize {
		t.Fatalf("subscription package has length %d, want %d", len(packet), SubscriptionSize)
	}
}

func TestBuildSubscriptionHeaderRoundTrips(t *testing.T) {
	secrets := testSecrets(t, []uint32{9})
	packet, err := BuildSubscription(rand.Reader, secrets, 42, 100, 999, 9)
	if err != nil {
		t.Fatalf("BuildSubscription: %v", err)
	}
	parsed, err := parseSubscriptionHeader(packet)
	if err != nil {
		t.Fatalf("parseSubscriptionHeader: %v", err)
	}
	if parsed.DecoderID != 42 || parsed.Start != 100 || parsed.End != 999 || parsed.Channel != 9 {
		t.Fatalf("parsed header = %+v, want decoder 42, range [100, 999], channel 9", parsed)
	}
}

func TestBuildSubscriptionSignatureCoversContent(t *testing.T) {
	secrets := testSecrets(t, []uint32{3})
	packet, err := BuildSubscription(rand.Reader, secrets, 1, 0, 1, 3)
	if err != nil {
		t.Fatalf("BuildSubscription: %v", err)
	}
	content := packet[:len(packet)-SignatureSize]
	sig := packet[len(packet)-SignatureSize:]

	if !ed25519.Verify(secrets.HostKeyPub, content, sig) {
		t.Fatalf("signature should verify over the unmodified package")
	}

	flippedContent := append([]byte(nil), content...)
	flippedContent[0] ^= 0xFF
	if ed25519.Verify(secrets.HostKeyPub, flippedContent, sig) {
		t.Fatalf("signature should not verify after flipping a content bit")
	}

	flippedSig := append([]byte(nil), sig...)
	flippedSig[0] ^= 0xFF
	if ed25519.Verify(secrets.HostKeyPub, content, flippedSig) {
		t.Fatalf("signature should not verify after flipping a signature bit")
	}
}

func TestBuildSubscriptionCoversLeafZero(t *testing.T) {
	// A subscription for exactly [0, 0] covers only the leaf of timestamp 0,
	// whose NodeNum truncates to the same value (0) as an empty padding
	// slot. decodeCoverBlock must keep this node rather than mistake it for
	// padding.
	secrets := testSecrets(t, []uint32{5})
	packet, err := BuildSubscription(rand.Reader, secrets, 1, 0, 0, 5)
	if err != nil {
		t.Fatalf("BuildSubscription: %v", err)
	}
	parsed, err := parseSubscriptionHeader(packet)
	if err != nil {
		t.Fatalf("parseSubscriptionHeader: %v", err)
	}
	deviceKey, err := deriveDeviceKey(secrets.DecoderMasterKey, 1)
	if err != nil {
		t.Fatalf("deriveDeviceKey: %v", err)
	}
	coverBlock, err := streamXOR(deviceKey, parsed.Nonce, packet[subscriptionHeaderSize:subscriptionHeaderSize+SubscriptionCoverBlockSize])
	if err != nil {
		t.Fatalf("streamXOR: %v", err)
	}
	cover, err := decodeCoverBlock(coverBlock)
	if err != nil {
		t.Fatalf("decodeCoverBlock: %v", err)
	}
	if len(cover) != 1 {
		t.Fatalf("decodeCoverBlock returned %d nodes, want 1 (leaf 0 must not be dropped as padding)", len(cover))
	}

	deriv := NewChannelKeyDerivation(secrets.Channels[5])
	cover[0].Key = deriv.KeyAt(cover[0])
	got, err := KeyForTimestampFromCover(cover, 0)
	if err != nil {
		t.Fatalf("KeyForTimestampFromCover(0): %v", err)
	}
	if want := deriv.LeafKey(0); got != want {
		t.Fatalf("KeyForTimestampFromCover(0) = %x, want %x", got, want)
	}
}

func TestBuildSubscriptionRejectsUnknownChannel(t *testing.T) {
	secrets := testSecrets(t, []uint32{1})
	if _, err := BuildSubscription(rand.Reader, secrets, 1, 0, 10, 99); err == nil {
		t.Fatalf("expected an error for a channel absent from the secrets bundle")
	}
}

func TestBuildSubscriptionRejectsInvertedRange(t *testing.T) {
	secrets := testSecrets(t, []uint32{1})
	if _, err := BuildSubscription(rand.Reader, secrets, 1, 10, 5, 1); err == nil {
		t.Fatalf("expected an error when start > end")
	}
}

func TestBuildSubscriptionRejectsCoverTooLarge(t *testing.T) {
	secrets := testSecrets(t, []uint32{1})
	// A full-range subscription needs only the root node, but an odd range
	// spanning almost the whole space can need close to 2*Height-1 nodes,
	// comfortably above the 25-slot budget.
	if _, err := BuildSubscription(rand.Reader, secrets, 1, 1, ^uint64(0)-1, 1); err == nil {
		t.Fatalf("expected a CoverTooLargeError for a cover exceeding the slot budget")
	} else if e, ok := err.(*Error); !ok || e.Kind != KindCoverTooLarge {
		t.Fatalf("got error %v, want KindCoverTooLarge", err)
	}
}
