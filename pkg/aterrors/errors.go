// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package aterrors defines the shared error taxonomy for the evaluation,
// audit, and ingestion core. Every user-visible failure carries a stable
// machine-readable Kind.
package aterrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable machine-readable error classification.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindStorage          Kind = "storage_error"
	KindIntegrity        Kind = "integrity_error"
	KindJudge            Kind = "judge_error"
	KindAgent            Kind = "agent_error"
	KindAgentTimeout     Kind = "agent_timeout"
	KindAgentUnreachable Kind = "agent_unreachable"
	KindResourceExceeded Kind = "resource_exceeded"
	KindCircuitOpen      Kind = "circuit_open"
	KindPermission       Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal_error"
)

// Error is the structured error type surfaced by the public APIs.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// RetryAfter, when non-zero, hints how long the caller should back off.
	// Set for quota and rate-limit errors.
	RetryAfter time.Duration

	cause error
}

// New creates an Error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a cause preserved for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on Kind so sentinel comparisons like
// errors.Is(err, &Error{Kind: KindCircuitOpen}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the error kind is safe to retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStorage, KindAgentTimeout, KindAgentUnreachable:
		return true
	default:
		return false
	}
}
