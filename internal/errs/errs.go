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

// Package errs holds the error kinds shared by the provisioning, pool and
// commission packages. Callers match them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrBackendNotFound   = errors.New("backend not found")
	ErrNotReady          = errors.New("voting is not provisioned yet")
	ErrForbidden         = errors.New("forbidden")
	ErrResourceExhausted = errors.New("no more accounts are available")
	ErrTryAgainLater     = errors.New(
		"no free account is available yet, try again later",
	)
	ErrNotFound = errors.New("not found")
)

// ValidationError describes a malformed or out-of-range input field
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, reason string) ValidationError {
	return ValidationError{
		Field:  field,
		Reason: reason,
	}
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Provisioning stages
const (
	StageValidate     = "validate"
	StageFunding      = "funding"
	StagePersist      = "persist"
	StageIssuers      = "issuers"
	StageDistribution = "distribution"
	StageProgress     = "progress"
	StagePublish      = "publish"
)

// StageError tags a provisioning failure with the stage that produced it
type StageError struct {
	Stage string
	Err   error
}

func NewStageError(stage string, err error) *StageError {
	return &StageError{
		Stage: stage,
		Err:   err,
	}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("provisioning stage %s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the provisioning stage recorded in err, if any
func StageOf(err error) (string, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
