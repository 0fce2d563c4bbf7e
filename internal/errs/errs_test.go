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

package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/devote/internal/errs"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf(
		"create voting: %w",
		errs.NewValidationError("votesCap", "must be positive"),
	)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
	var vErr errs.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "votesCap", vErr.Field)
	assert.Contains(t, err.Error(), "votesCap: must be positive")
}

func TestStageErrorUnwraps(t *testing.T) {
	cause := errors.New("ledger unavailable")
	err := fmt.Errorf(
		"provision voting 3: %w",
		errs.NewStageError(errs.StageIssuers, cause),
	)
	assert.ErrorIs(t, err, cause)
	stage, ok := errs.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.StageIssuers, stage)

	_, ok = errs.StageOf(cause)
	assert.False(t, ok)
}
