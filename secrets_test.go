package design

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
)

func TestGenSecretsIncludesChannelZero(t *testing.T) {
	blob, err := GenSecrets(rand.Reader, []uint32{1, 3, 4})
	if err != nil {
		t.Fatalf("GenSecrets: %v", err)
	}
	var parsed secretsJSON
	if err := json.Unmarshal(blob, &parsed); err != nil {
		t.Fatalf("unmarshaling secrets bundle: %v", err)
	}
	for _, ch := range []string{"0", "1", "3", "4"} {
		if _, ok := parsed.Channels[ch]; !ok {
			t.Fatalf("secrets bundle is missing channel %q", ch)
		}
	}
	if len(parsed.Channels) != 4 {
		t.Fatalf("secrets bundle has %d channels, want 4 (including channel 0)", len(parsed.Channels))
	}
}

func TestGenSecretsThenLoadRoundTrips(t *testing.T) {
	blob, err := GenSecrets(rand.Reader, []uint32{2, 5})
	if err != nil {
		t.Fatalf("GenSecrets: %v", err)
	}
	secrets, err := LoadSecrets(blob)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	for _, ch := range []uint32{0, 2, 5} {
		if _, ok := secrets.Channels[ch]; !ok {
			t.Fatalf("loaded secrets missing channel %d", ch)
		}
	}
	if len(secrets.HostKeyPub) == 0 || len(secrets.HostKeyPriv) == 0 {
		t.Fatalf("loaded secrets missing host keypair")
	}
	msg := []byte("round trip signature check")
	sig := ed25519.Sign(secrets.HostKeyPriv, msg)
	if !ed25519.Verify(secrets.HostKeyPub, msg, sig) {
		t.Fatalf("signature produced with the loaded private key did not verify with the loaded public key")
	}
}

func TestLoadSecretsRejectsMissingChannelZero(t *testing.T) {
	blob := []byte(`{"channels":{"1":"00112233445566778899aabbccddeeff"},"decoder_dk":"","host_key_priv":"","host_key_pub":""}`)
	if _, err := LoadSecrets(blob); err == nil {
		t.Fatalf("expected an error when channel 0 is absent")
	}
}

func TestLoadSecretsRejectsBadChannelHexLength(t *testing.T) {
	blob := []byte(`{"channels":{"0":"aabb"},"decoder_dk":"","host_key_priv":"","host_key_pub":""}`)
	if _, err := LoadSecrets(blob); err == nil {
		t.Fatalf("expected an error for a channel root key of the wrong length")
	}
}

func TestLoadSecretsRejectsMalformedJSON(t *testing.T) {
	if _, err := LoadSecrets([]byte("not json")); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
