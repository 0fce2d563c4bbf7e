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

// Package disclosure protects vote option codes with a per-voting AES key
// that is only revealed once the voting's disclosure time has passed.
//
// Ciphertexts are laid out as an 8 byte random nonce followed by the
// AES-CTR output. The nonce is the high half of the initial counter block
// and the low half starts at zero. Keys and ciphertexts are carried as
// upper-case hex.
package disclosure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	KeySize   = 16
	NonceSize = 8
)

var (
	ErrInvalidKey        = errors.New("invalid disclosure key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// GenerateKey returns a new random key, hex encoded
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return encodeHex(key), nil
}

func decodeKey(key string) ([]byte, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidKey,
			KeySize,
			len(raw),
		)
	}
	return raw, nil
}

func newStream(key []byte, nonce []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return cipher.NewCTR(block, iv), nil
}

// Encrypt encrypts plaintext with the hex encoded key and returns the hex
// encoded nonce and ciphertext
func Encrypt(key string, plaintext string) (string, error) {
	rawKey, err := decodeKey(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, NonceSize+len(plaintext))
	nonce := out[:NonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read random nonce: %w", err)
	}
	stream, err := newStream(rawKey, nonce)
	if err != nil {
		return "", err
	}
	stream.XORKeyStream(out[NonceSize:], []byte(plaintext))
	return encodeHex(out), nil
}

// Decrypt reverses Encrypt
func Decrypt(key string, ciphertext string) (string, error) {
	rawKey, err := decodeKey(key)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if len(raw) < NonceSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	stream, err := newStream(rawKey, raw[:NonceSize])
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(raw)-NonceSize)
	stream.XORKeyStream(plain, raw[NonceSize:])
	return string(plain), nil
}

func encodeHex(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

// KeyVisible reports whether a key locked until unlock may be shown at now.
// The key becomes visible at exactly the unlock time.
func KeyVisible(unlock time.Time, now time.Time) bool {
	return !now.Before(unlock)
}

// VisibleKey returns the key when it may be disclosed at now, otherwise nil.
// Votings without an unlock time have no key to disclose.
func VisibleKey(key *string, unlock *time.Time, now time.Time) *string {
	if key == nil || unlock == nil {
		return nil
	}
	if !KeyVisible(*unlock, now) {
		return nil
	}
	ret := *key
	return &ret
}
