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

package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cloudflare/circl/blindsign/blindrsa"
)

// Blinded is the voter side of a blind signature exchange
type Blinded struct {
	// Envelope is the base64 encoded blinded message to be signed
	Envelope string

	pub    *rsa.PublicKey
	client blindrsa.Client
	state  blindrsa.State
}

// Blind blinds message for signing with pub
func Blind(pub *rsa.PublicKey, message string) (*Blinded, error) {
	client, err := blindrsa.NewClient(Variant, pub)
	if err != nil {
		return nil, err
	}
	prepared, err := client.Prepare(rand.Reader, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("prepare message: %w", err)
	}
	blinded, state, err := client.Blind(rand.Reader, prepared)
	if err != nil {
		return nil, fmt.Errorf("blind message: %w", err)
	}
	return &Blinded{
		Envelope: encode(blinded),
		pub:      pub,
		client:   client,
		state:    state,
	}, nil
}

// Unblind turns the commission's envelope signature into the revealed
// signature over the original message
func (b *Blinded) Unblind(envelopeSignature string) (string, error) {
	raw, err := decodeFixed(envelopeSignature, b.pub.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	sig, err := b.client.Finalize(b.state, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return encode(sig), nil
}
