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

package base62

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "0", Encode(0))
	assert.Equal(t, "Z", Encode(61))
	assert.Equal(t, "10", Encode(62))
	assert.Equal(t, "G", Encode(42))
}

func TestDecode(t *testing.T) {
	id, err := Decode(Encode(123456789))
	require.NoError(t, err)
	assert.Equal(t, uint(123456789), id)

	for _, bad := range []string{"", "-1", "a_b", "!!"} {
		_, err := Decode(bad)
		require.ErrorIs(t, err, ErrInvalid, bad)
	}
}
