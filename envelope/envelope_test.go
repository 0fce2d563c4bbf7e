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
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlindSignatureRoundTrip(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)

	message := "42|GAVOTER"
	blinded, err := Blind(signer.PublicKey(), message)
	require.NoError(t, err)

	envelopeSig, err := signer.Sign(blinded.Envelope)
	require.NoError(t, err)
	revealed, err := blinded.Unblind(envelopeSig)
	require.NoError(t, err)

	assert.NotEqual(t, envelopeSig, revealed)
	require.NoError(t, signer.Verify(message, revealed))
	require.ErrorIs(t, signer.Verify("42|OTHER", revealed), ErrInvalidSignature)
}

func TestSignRejectsBadEnvelope(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)

	_, err = signer.Sign("%%%")
	require.ErrorIs(t, err, ErrInvalidEnvelope)

	tooLarge := make([]byte, signer.PublicKey().Size()+1)
	tooLarge[0] = 1
	_, err = signer.Sign(base64.StdEncoding.EncodeToString(tooLarge))
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)
	require.ErrorIs(t, signer.Verify("m", "not base64"), ErrInvalidSignature)
	require.ErrorIs(
		t,
		signer.Verify("m", base64.StdEncoding.EncodeToString([]byte{0})),
		ErrInvalidSignature,
	)
}

func TestVerifyAcceptsOnlyCanonicalSignature(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)
	message := "7|GAVOTER"
	blinded, err := Blind(signer.PublicKey(), message)
	require.NoError(t, err)
	envelopeSig, err := signer.Sign(blinded.Envelope)
	require.NoError(t, err)
	revealed, err := blinded.Unblind(envelopeSig)
	require.NoError(t, err)
	require.NoError(t, signer.Verify(message, revealed))

	raw, err := base64.StdEncoding.DecodeString(revealed)
	require.NoError(t, err)
	require.Len(t, raw, signer.PublicKey().Size())
	variants := map[string]string{
		"leading zero byte":   base64.StdEncoding.EncodeToString(append([]byte{0}, raw...)),
		"two leading zeros":   base64.StdEncoding.EncodeToString(append([]byte{0, 0}, raw...)),
		"embedded line break": revealed[:8] + "\n" + revealed[8:],
		"trailing line break": revealed + "\r\n",
		"unpadded":            base64.RawStdEncoding.EncodeToString(raw),
		"url alphabet":        base64.URLEncoding.EncodeToString(raw),
	}
	for name, variant := range variants {
		if variant == revealed {
			continue
		}
		assert.ErrorIs(t, signer.Verify(message, variant), ErrInvalidSignature, name)
	}
}

func TestRawSignatureDoesNotVerify(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)
	// A raw RSA signature over the message bytes is not a valid signature
	raw := []byte("7|GAVOTER")
	padded := make([]byte, signer.PublicKey().Size())
	copy(padded[len(padded)-len(raw):], raw)
	forged, err := signer.Sign(base64.StdEncoding.EncodeToString(padded))
	require.NoError(t, err)
	require.ErrorIs(t, signer.Verify("7|GAVOTER", forged), ErrInvalidSignature)
}

func TestLoadPlainPEM(t *testing.T) {
	signer, err := Generate(1024)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "envelope.pem")
	require.NoError(
		t,
		os.WriteFile(path, MarshalPrivateKeyPEM(signer.key), 0o600),
	)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, signer.key.N.Cmp(loaded.key.N))

	pubPEM, err := loaded.PublicKeyPEM()
	require.NoError(t, err)
	assert.Contains(t, pubPEM, "BEGIN PUBLIC KEY")
}

func TestParsePrivateKeyPEMRejectsJunk(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("nothing here"))
	require.Error(t, err)
}
