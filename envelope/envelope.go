// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envelope implements the commission's RSA blind signatures using
// RSABSSA (RFC 9474) with SHA-384 and PSS encoding.
//
// A voter blinds its message, has the commission sign the blinded value
// (the envelope), then unblinds the result. The revealed signature verifies
// against the commission public key without linking it to the envelope that
// was signed. Envelopes and signatures travel as standard base64 of exactly
// the modulus size; any other encoding of the same value is rejected, so a
// signature has a single accepted form.
package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/blindsign/blindrsa"

	"github.com/blinklabs-io/devote/internal/sops"
)

const DefaultKeyBits = 2048

// Variant is the RSABSSA variant shared by the commission and voters. The
// message is signed as is, without a random prefix.
const Variant = blindrsa.SHA384PSSDeterministic

var (
	ErrInvalidEnvelope  = errors.New("invalid envelope")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer holds the commission key
type Signer struct {
	key    *rsa.PrivateKey
	signer blindrsa.Signer
}

func New(key *rsa.PrivateKey) *Signer {
	return &Signer{
		key:    key,
		signer: blindrsa.NewSigner(key),
	}
}

// Generate creates a signer with a fresh key
func Generate(bits int) (*Signer, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate envelope key: %w", err)
	}
	return New(key), nil
}

// Load reads a PEM encoded private key, which may be SOPS encrypted
func Load(path string) (*Signer, error) {
	data, err := sops.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read envelope key: %w", err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return New(key), nil
}

// ParsePrivateKeyPEM accepts PKCS#1 and PKCS#8 RSA keys
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("envelope key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("envelope key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("envelope key: unsupported key type %T", parsed)
	}
	return key, nil
}

// MarshalPrivateKeyPEM encodes key as a PKCS#1 PEM block
func MarshalPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// PublicKeyPEM returns the PKIX encoded public key
func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})), nil
}

// Sign signs a base64 encoded blinded message and returns the base64
// encoded blind signature
func (s *Signer) Sign(envelope string) (string, error) {
	raw, err := decodeFixed(envelope, s.key.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	sig, err := s.signer.BlindSign(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return encode(sig), nil
}

// Verify checks a base64 encoded unblinded signature over message
func (s *Signer) Verify(message string, signature string) error {
	return Verify(&s.key.PublicKey, message, signature)
}

// Verify checks signature against pub. Only the canonical encoding of a
// signature verifies.
func Verify(pub *rsa.PublicKey, message string, signature string) error {
	raw, err := decodeFixed(signature, pub.Size())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	verifier, err := blindrsa.NewVerifier(Variant, pub)
	if err != nil {
		return err
	}
	if err := verifier.Verify([]byte(message), raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// decodeFixed decodes s, which must be the exact standard base64 encoding
// of size bytes
func decodeFixed(s string, size int) ([]byte, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("got %d bytes, expected %d", len(raw), size)
	}
	// Strict decoding still skips line breaks
	if encode(raw) != s {
		return nil, errors.New("non-canonical encoding")
	}
	return raw, nil
}

func encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
