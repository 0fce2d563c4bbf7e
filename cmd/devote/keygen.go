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

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/devote/envelope"
	"github.com/blinklabs-io/devote/internal/sops"
)

const defaultKeyBits = 2048

var keygenFlags = struct {
	output  string
	bits    int
	encrypt bool
	force   bool
}{}

// writeEnvelopeKey generates an envelope key and writes it as PEM,
// wrapped in a SOPS document when encrypt is set
func writeEnvelopeKey(path string, bits int, encrypt bool, force bool) error {
	if path == "" {
		return errors.New("no output file given")
	}
	if bits < 2048 {
		return fmt.Errorf("key size %d is too small", bits)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	data := envelope.MarshalPrivateKeyPEM(key)
	if encrypt {
		data, err = sops.Encrypt(data)
		if err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

func keygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a commission envelope signing key",
		Run: func(cmd *cobra.Command, args []string) {
			logger := commonRun()
			if err := writeEnvelopeKey(
				keygenFlags.output,
				keygenFlags.bits,
				keygenFlags.encrypt,
				keygenFlags.force,
			); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info(
				"wrote envelope key to "+keygenFlags.output,
				"component", programName,
				"encrypted", keygenFlags.encrypt,
			)
		},
	}
	cmd.Flags().
		StringVarP(&keygenFlags.output, "output", "o", "envelope.pem", "file to write the key to")
	cmd.Flags().
		IntVar(&keygenFlags.bits, "bits", defaultKeyBits, "RSA key size")
	cmd.Flags().
		BoolVar(&keygenFlags.encrypt, "sops", false, "encrypt the key with the SOPS master keys from the environment")
	cmd.Flags().
		BoolVar(&keygenFlags.force, "force", false, "overwrite an existing file")
	return cmd
}
