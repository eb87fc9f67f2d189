package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"medvault/internal/domain"
)

// Generator produces ciphertext/proof pairs the way the external proof
// generator collaborator would: plaintext sealed with XChaCha20-Poly1305, the
// ciphertext digest signed with Ed25519. It backs tests and dev seeding;
// production payloads arrive already encrypted.
type Generator struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	key  []byte
}

func NewGenerator() (*Generator, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate sealing key: %w", err)
	}
	return &Generator{priv: priv, pub: pub, key: key}, nil
}

// PublicKey returns the attestation key for verifier trust configuration.
func (g *Generator) PublicKey() ed25519.PublicKey {
	return g.pub
}

// EncryptField seals plaintext and attaches a signed envelope. The ciphertext
// layout is nonce || sealed.
func (g *Generator) EncryptField(plaintext []byte) (domain.EncryptedField, error) {
	aead, err := chacha20poly1305.NewX(g.key)
	if err != nil {
		return domain.EncryptedField{}, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return domain.EncryptedField{}, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := append(nonce, aead.Seal(nil, nonce, plaintext, nil)...)

	digest := sha256.Sum256(ciphertext)
	env := Envelope{
		Version:     EnvelopeVersion,
		Algorithm:   AlgorithmEd25519,
		PublicKey:   base64.RawURLEncoding.EncodeToString(g.pub),
		Signature:   base64.RawURLEncoding.EncodeToString(ed25519.Sign(g.priv, digest[:])),
		PayloadHash: hex.EncodeToString(digest[:]),
	}
	proof, err := json.Marshal(env)
	if err != nil {
		return domain.EncryptedField{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return domain.EncryptedField{Ciphertext: ciphertext, Proof: proof}, nil
}

// FieldSet encrypts a plaintext field map in one call.
func (g *Generator) FieldSet(values map[string]string) (domain.EncryptedFieldSet, error) {
	fields := make(domain.EncryptedFieldSet, len(values))
	for name, value := range values {
		field, err := g.EncryptField([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("encrypt field %s: %w", name, err)
		}
		fields[name] = field
	}
	return fields, nil
}
