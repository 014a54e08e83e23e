package design

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Secrets is the in-memory form of a secrets bundle: one root key per
// subscribed channel (plus the implicit emergency channel 0), the decoder
// master key used to derive per-device keys, and the host's Ed25519
// signing keypair.
type Secrets struct {
	Channels         map[uint32]NodeKey
	DecoderMasterKey [DeviceMasterKeySize]byte
	HostKeyPriv      ed25519.PrivateKey
	HostKeyPub       ed25519.PublicKey
}

// secretsJSON is the wire shape of a secrets bundle: hex-encoded byte
// fields and a DER-hex Ed25519 keypair, matching gen_secrets's plain
// json.dumps output in the original implementation this was ported from.
type secretsJSON struct {
	Channels    map[string]string `json:"channels"`
	DecoderDK   string            `json:"decoder_dk"`
	HostKeyPriv string            `json:"host_key_priv"`
	HostKeyPub  string            `json:"host_key_pub"`
}

// GenSecrets generates a fresh secrets bundle for the given channels (the
// emergency channel 0 is always included even if absent from the list) and
// returns its JSON encoding.
func GenSecrets(rng io.Reader, channels []uint32) ([]byte, error) {
	chset := make(map[uint32]struct{}, len(channels)+1)
	chset[0] = struct{}{}
	for _, c := range channels {
		chset[c] = struct{}{}
	}

	chHex := make(map[string]string, len(chset))
	for c := range chset {
		root, err := randBytes(rng, NodeKeySize)
		if err != nil {
			return nil, errCrypto(fmt.Sprintf("generating root key for channel %d", c), err)
		}
		chHex[strconv.FormatUint(uint64(c), 10)] = hex.EncodeToString(root)
	}

	dk, err := randBytes(rng, DeviceMasterKeySize)
	if err != nil {
		return nil, errCrypto("generating decoder master key", err)
	}

	pub, priv, err := ed25519.GenerateKey(rng)
	if err != nil {
		return nil, errCrypto("generating host signing keypair", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errSerialization("marshaling host private key", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errSerialization("marshaling host public key", err)
	}

	blob := secretsJSON{
		Channels:    chHex,
		DecoderDK:   hex.EncodeToString(dk),
		HostKeyPriv: hex.EncodeToString(privDER),
		HostKeyPub:  hex.EncodeToString(pubDER),
	}
	out, err := json.Marshal(blob)
	if err != nil {
		return nil, errSerialization("marshaling secrets bundle", err)
	}
	return out, nil
}

// LoadSecrets parses and validates a secrets bundle produced by GenSecrets.
func LoadSecrets(data []byte) (*Secrets, error) {
	var blob secretsJSON
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, errSerialization("parsing secrets bundle JSON", err)
	}
	if _, ok := blob.Channels["0"]; !ok {
		return nil, errSerialization("secrets bundle is missing the emergency channel 0", nil)
	}

	channels := make(map[uint32]NodeKey, len(blob.Channels))
	for k, v := range blob.Channels {
		ch, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, errSerialization(fmt.Sprintf("channel key %q is not a valid channel number", k), err)
		}
		raw, err := hex.DecodeString(v)
		if err != nil {
			return nil, errSerialization(fmt.Sprintf("channel %d root key is not valid hex", ch), err)
		}
		if len(raw) != NodeKeySize {
			return nil, errSerialization(fmt.Sprintf("channel %d root key has length %d, want %d", ch, len(raw), NodeKeySize), nil)
		}
		var root NodeKey
		copy(root[:], raw)
		channels[uint32(ch)] = root
	}

	dk, err := hex.DecodeString(blob.DecoderDK)
	if err != nil {
		return nil, errSerialization("decoder_dk is not valid hex", err)
	}
	if len(dk) != DeviceMasterKeySize {
		return nil, errSerialization(fmt.Sprintf("decoder_dk has length %d, want %d", len(dk), DeviceMasterKeySize), nil)
	}

	privDER, err := hex.DecodeString(blob.HostKeyPriv)
	if err != nil {
		return nil, errSerialization("host_key_priv is not valid hex", err)
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privDER)
	if err != nil {
		return nil, errSerialization("host_key_priv is not a valid PKCS8 DER key", err)
	}
	priv, ok := privAny.(ed25519.PrivateKey)
	if !ok {
		return nil, errSerialization("host_key_priv does not hold an Ed25519 key", nil)
	}

	pubDER, err := hex.DecodeString(blob.HostKeyPub)
	if err != nil {
		return nil, errSerialization("host_key_pub is not valid hex", err)
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return nil, errSerialization("host_key_pub is not a valid PKIX DER key", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return nil, errSerialization("host_key_pub does not hold an Ed25519 key", nil)
	}
	if !pub.Equal(priv.Public()) {
		return nil, errSerialization("host_key_pub does not match host_key_priv", nil)
	}

	var dkArr [DeviceMasterKeySize]byte
	copy(dkArr[:], dk)

	return &Secrets{
		Channels:         channels,
		DecoderMasterKey: dkArr,
		HostKeyPriv:      priv,
		HostKeyPub:       pub,
	}, nil
}
