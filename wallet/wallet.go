// Package wallet verifies that a signature over a challenge message was
// produced by the key behind a wallet address.
package wallet

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ErrInvalidAddress is returned when the address does not decode to a
// public key.
var ErrInvalidAddress = errors.New("invalid wallet address")

// Verifier checks a signature over a message against a wallet address.
type Verifier interface {
	Verify(message, signature []byte, address string) (bool, error)
}

// Ed25519Verifier verifies Solana-style wallet signatures: the address is
// the base58-encoded ed25519 public key.
type Ed25519Verifier struct{}

// NewEd25519Verifier creates a wallet signature verifier.
func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{}
}

func (v *Ed25519Verifier) Verify(message, signature []byte, address string) (bool, error) {
	pubKey, err := base58.Decode(address)
	if err != nil {
		return false, errors.Wrap(ErrInvalidAddress, err.Error())
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, ErrInvalidAddress
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, signature), nil
}

// DecodeSignature decodes a base58-encoded signature as submitted by
// wallet clients.
func DecodeSignature(encoded string) ([]byte, error) {
	sig, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode signature")
	}
	return sig, nil
}

// ValidAddress reports whether the address decodes to an ed25519 public key.
func ValidAddress(address string) bool {
	pubKey, err := base58.Decode(address)
	return err == nil && len(pubKey) == ed25519.PublicKeySize
}
