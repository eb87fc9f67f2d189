// Package proof gates every encrypted write behind proof verification.
//
// The registry depends only on the Verifier capability; the concrete
// encryption/proof scheme is supplied at construction time. Ed25519Verifier is
// the default scheme for deployments whose proof generator signs ciphertext
// digests; FHE or zero-knowledge backends plug in behind the same interface.
package proof

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
)

// Verifier checks that a ciphertext/proof pair is well formed. Implementations
// must be deterministic and side-effect free; slow external backends should
// honor ctx cancellation.
type Verifier interface {
	Verify(ctx context.Context, ciphertext, proof []byte) (bool, error)
}

// Envelope is the wire form of a proof attached to one encrypted field.
type Envelope struct {
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
	PayloadHash string `json:"payload_hash"`
}

const (
	EnvelopeVersion    = "proof-v1"
	AlgorithmEd25519   = "ed25519"
	payloadHashHexSize = sha256.Size * 2
)

// Ed25519Verifier validates signature envelopes over ciphertext digests.
// With no trusted keys configured any well-formed signature passes; attester
// trust is then enforced by the role checks in front of the gate.
type Ed25519Verifier struct {
	trusted map[string]struct{}
}

// Option configures the Ed25519Verifier.
type Option func(*Ed25519Verifier)

// WithTrustedKeys restricts acceptance to envelopes signed by one of the given
// public keys.
func WithTrustedKeys(keys ...ed25519.PublicKey) Option {
	return func(v *Ed25519Verifier) {
		if v.trusted == nil {
			v.trusted = make(map[string]struct{}, len(keys))
		}
		for _, key := range keys {
			v.trusted[base64.RawURLEncoding.EncodeToString(key)] = struct{}{}
		}
	}
}

func NewEd25519Verifier(opts ...Option) *Ed25519Verifier {
	v := &Ed25519Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether proof is a valid envelope for ciphertext. A malformed
// envelope is a false verdict, not an error; errors are reserved for backend
// failures, which this in-process verifier cannot have.
func (v *Ed25519Verifier) Verify(_ context.Context, ciphertext, proof []byte) (bool, error) {
	var env Envelope
	if err := json.Unmarshal(proof, &env); err != nil {
		return false, nil
	}
	if env.Version != EnvelopeVersion || env.Algorithm != AlgorithmEd25519 {
		return false, nil
	}
	if len(env.PayloadHash) != payloadHashHexSize {
		return false, nil
	}

	pub, err := base64.RawURLEncoding.DecodeString(env.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, nil
	}
	if v.trusted != nil {
		if _, ok := v.trusted[env.PublicKey]; !ok {
			return false, nil
		}
	}

	sig, err := base64.RawURLEncoding.DecodeString(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, nil
	}

	digest := sha256.Sum256(ciphertext)
	if hex.EncodeToString(digest[:]) != env.PayloadHash {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig), nil
}
