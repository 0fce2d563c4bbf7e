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

// Package sops wraps secret files (such as the envelope signing key) in a
// SOPS binary document encrypted with cloud KMS master keys.
package sops

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	"github.com/getsops/sops/v3/version"
)

// Environment variables selecting the KMS master keys used by Encrypt
const (
	EnvGCPKMSResourceID = "DEVOTE_GCP_KMS_RESOURCE_ID"
	EnvAWSKMSKeyARNs    = "DEVOTE_AWS_KMS_KEY_ARNS"
	EnvAWSKMSProfile    = "DEVOTE_AWS_KMS_PROFILE"
)

var ErrAlreadyEncrypted = errors.New("secret is already encrypted")

// IsEncrypted reports whether data looks like a SOPS binary document
func IsEncrypted(data []byte) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}

// Decrypt returns the plaintext of a SOPS binary document
func Decrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}
	return ret, nil
}

// ReadFile reads a secret file, decrypting it when it is SOPS encrypted
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	if !IsEncrypted(data) {
		return data, nil
	}
	return Decrypt(data)
}

// Encrypt wraps data in a SOPS binary document using the master keys
// named by the environment
func Encrypt(data []byte) ([]byte, error) {
	if IsEncrypted(data) {
		return nil, ErrAlreadyEncrypted
	}
	storeConfig := &config.JSONBinaryStoreConfig{}
	store := jsonstore.NewBinaryStore(storeConfig)
	branches, err := store.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}
	keyGroups, err := masterKeyGroupsFromEnv()
	if err != nil {
		return nil, err
	}
	tree := sopsapi.Tree{
		Branches: branches,
		Metadata: sopsapi.Metadata{
			KeyGroups: keyGroups,
			Version:   version.Version,
		},
	}
	dataKey, keyErrs := tree.GenerateDataKey()
	if len(keyErrs) > 0 {
		return nil, fmt.Errorf("generate data key: %w", errors.Join(keyErrs...))
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	encrypted, err := store.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("emit secret: %w", err)
	}
	return encrypted, nil
}

func masterKeyGroupsFromEnv() ([]sopsapi.KeyGroup, error) {
	var keyGroups []sopsapi.KeyGroup
	if rid := os.Getenv(EnvGCPKMSResourceID); rid != "" {
		var group sopsapi.KeyGroup
		for _, k := range gcpkms.MasterKeysFromResourceIDString(rid) {
			group = append(group, skeys.MasterKey(k))
		}
		if len(group) > 0 {
			keyGroups = append(keyGroups, group)
		}
	}
	if arns := os.Getenv(EnvAWSKMSKeyARNs); arns != "" {
		var group sopsapi.KeyGroup
		profile := os.Getenv(EnvAWSKMSProfile)
		for _, k := range awskms.MasterKeysFromArnString(arns, nil, profile) {
			group = append(group, skeys.MasterKey(k))
		}
		if len(group) > 0 {
			keyGroups = append(keyGroups, group)
		}
	}
	if len(keyGroups) == 0 {
		return nil, fmt.Errorf(
			"no SOPS master key configured: set %s and/or %s",
			EnvGCPKMSResourceID,
			EnvAWSKMSKeyARNs,
		)
	}
	return keyGroups, nil
}
