// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dserr names the error kinds shared across the dataset engine
// (spec §7), so callers can branch on behavior with errors.Is/errors.As
// instead of string matching.
package dserr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) to attach
// context while keeping errors.Is working.
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrFileReadError     = errors.New("file read error")
	ErrInvalidFileContents = errors.New("invalid file contents")
	ErrSchemaValidation  = errors.New("schema validation failed")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInconsistentState = errors.New("inconsistent working copy state")
	ErrUnsupported       = errors.New("unsupported")
)

// FieldError is a single constraint violation produced by a typed
// accessor, accumulated by Feature.Validate into an AggregateError.
type FieldError struct {
	Field   string
	Code    string // e.g. "too_big", "out_of_range", "invalid_format"
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// AggregateError collects one or more FieldErrors raised while
// validating a Feature (spec §4.5 AggregateValidation, §7).
type AggregateError struct {
	Errors []*FieldError
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation errors, first: %s", len(e.Errors), e.Errors[0].Error())
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// TypeMismatch panics: a caller used the wrong typed accessor for a
// column. Spec §7 treats this as a precondition violation, not a
// recoverable error.
func TypeMismatch(column string, want, got string) {
	panic(fmt.Errorf("%w: column %q is %s, not %s", ErrTypeMismatch, column, got, want))
}
