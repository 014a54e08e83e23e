package design

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestEncodeFrameSize(t *testing.T) {
	secrets := testSecrets(t, []uint32{4})
	payload := []byte("broadcast frame payload")
	packet, err := EncodeFrame(rand.Reader, secrets, 4, payload, 55)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(packet) != FrameOverhead+len(payload) {
		t.Fatalf("frame package has length %d, want %d", len(packet), FrameOverhead+len(payload))
	}
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	secrets := testSecrets(t, []uint32{4})
	payload := bytes.Repeat([]byte{0x01}, MaxFramePayloadSize+1)
	if _, err := EncodeFrame(rand.Reader, secrets, 4, payload, 1); err == nil {
		t.Fatalf("expected an error for a payload exceeding MaxFramePayloadSize")
	}
}

func TestEncodeFrameRejectsUnknownChannel(t *testing.T) {
	secrets := testSecrets(t, []uint32{4})
	if _, err := EncodeFrame(rand.Reader, secrets, 77, []byte("x"), 1); err == nil {
		t.Fatalf("expected an error for a channel absent from the secrets bundle")
	}
}

func TestEncodeFrameSignatureVerifies(t *testing.T) {
	secrets := testSecrets(t, []uint32{4})
	packet, err := EncodeFrame(rand.Reader, secrets, 4, []byte("payload"), 7)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	content := packet[:len(packet)-SignatureSize]
	sig := packet[len(packet)-SignatureSize:]
	if !ed25519.Verify(secrets.HostKeyPub, content, sig) {
		t.Fatalf("frame signature should verify")
	}
}
