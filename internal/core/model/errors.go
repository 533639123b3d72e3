// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the persistent and transient data structures shared by
// the ingestion pipeline, the backup engine, and the services layer. This file
// defines the error taxonomy used across the whole backend. Each category is a
// distinct type so callers can branch with errors.As, while the messages carry
// the exact offending input for user-visible reporting.
package model

import (
	"errors"
	"fmt"
)

// ValidationError reports bad or ambiguous caller input: conflicting media
// kinds, malformed parameters, unsupported archive versions, or misuse of the
// job-file mapping. Surfaced to the caller verbatim and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// SecurityError reports an input rejected before any I/O happens, such as a
// path escaping the upload root or a download URL that resolves to a
// non-public address.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security check failed: %s", e.Reason)
}

// NewSecurityError builds a SecurityError with a formatted reason.
func NewSecurityError(format string, args ...any) error {
	return &SecurityError{Reason: fmt.Sprintf(format, args...)}
}

// TransientMediaError reports a recoverable media failure. The canonical case
// is a video manifest that could not be built from keyframe metadata: the
// pipeline logs the reason and falls back to full chunking instead of failing
// the run.
type TransientMediaError struct {
	Reason string
	Cause  error
}

func (e *TransientMediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient media failure: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transient media failure: %s", e.Reason)
}

func (e *TransientMediaError) Unwrap() error { return e.Cause }

// IntegrityError reports a file referenced by a manifest or a job-file mapping
// that is absent from the discovered source set. File always names the exact
// missing entry.
type IntegrityError struct {
	File   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %q: %s", e.File, e.Reason)
}

// StorageError reports a fatal cloud-download or disk-write failure. Partial
// on-disk artifacts are not rolled back by the reporting site.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// ImportFormatError reports a backup archive that does not match the expected
// layout or schema. The import fails before any database row is committed for
// the affected task or project.
type ImportFormatError struct {
	Reason string
}

func (e *ImportFormatError) Error() string {
	return fmt.Sprintf("unreadable backup archive: %s", e.Reason)
}

// NewImportFormatError builds an ImportFormatError with a formatted reason.
func NewImportFormatError(format string, args ...any) error {
	return &ImportFormatError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a caller-input error.
// Import format errors count: they describe the uploaded archive.
func IsValidationError(err error) bool {
	var v *ValidationError
	var f *ImportFormatError
	return errors.As(err, &v) || errors.As(err, &f)
}

// IsSecurityError reports whether err is (or wraps) a rejected-input error.
func IsSecurityError(err error) bool {
	var s *SecurityError
	return errors.As(err, &s)
}
