package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/dcrd/dcrutil/v4"
)

// Wallet holds the secp256k1 key that authorizes submissions through
// the gateway. It is passed explicitly into whatever needs it; there is
// no ambient "current wallet".
type Wallet struct {
	priv *secp256k1.PrivateKey
}

// NewWallet parses a 32-byte hex private key.
func NewWallet(privHex string) (*Wallet, error) {
	b, err := hex.DecodeString(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("bad privkey hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("privkey must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("invalid private key scalar")
	}
	return &Wallet{priv: priv}, nil
}

// GenerateWallet creates a fresh random key.
func GenerateWallet() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{priv: priv}, nil
}

// Address is 0x || hex(HASH160(compressed pubkey)), lower-case.
func (w *Wallet) Address() string {
	comp := w.priv.PubKey().SerializeCompressed()
	return "0x" + hex.EncodeToString(dcrutil.Hash160(comp))
}

// PubKeyHex returns the compressed public key in hex.
func (w *Wallet) PubKeyHex() string {
	return hex.EncodeToString(w.priv.PubKey().SerializeCompressed())
}

// Sign produces a schnorr signature over the blake256 digest of msg.
func (w *Wallet) Sign(msg []byte) ([]byte, error) {
	digest := blake256.Sum256(msg)
	sig, err := schnorr.Sign(w.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig.Serialize(), nil
}

// Verify checks a signature produced by Sign against pubkey pubHex.
func Verify(pubHex string, msg, sigBytes []byte) bool {
	pb, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pb)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	digest := blake256.Sum256(msg)
	return sig.Verify(digest[:], pub)
}
