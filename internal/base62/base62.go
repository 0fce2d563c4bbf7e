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

// Package base62 encodes numeric ids for use in URLs
package base62

import (
	"errors"
	"math/big"
)

var ErrInvalid = errors.New("invalid base62 id")

func Encode(id uint) string {
	return new(big.Int).SetUint64(uint64(id)).Text(62)
}

// Decode parses an id produced by Encode
func Decode(s string) (uint, error) {
	if s == "" {
		return 0, ErrInvalid
	}
	v, ok := new(big.Int).SetString(s, 62)
	if !ok || v.Sign() < 0 || !v.IsUint64() {
		return 0, ErrInvalid
	}
	ret := v.Uint64()
	if uint64(uint(ret)) != ret {
		return 0, ErrInvalid
	}
	return uint(ret), nil
}
