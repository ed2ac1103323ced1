// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind identifies an error category.
type Kind string

const (
	Validation     Kind = "validation"
	NotFound       Kind = "not_found"
	ChainIntegrity Kind = "chain_integrity"
	PipelineStage  Kind = "pipeline_stage"
	Transport      Kind = "transport"
	NoAnchor       Kind = "no_anchor"
)

// Kinded is implemented by errors that report their own category.
// [Error] implements it; so does pipeline.StageError.
type Kinded interface {
	FaultKind() Kind
}

// Error is a categorized error. Use the constructors (Validationf,
// NotFoundf, ...) rather than building one directly.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns the underlying message. The kind travels separately.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// FaultKind returns the category.
func (e *Error) FaultKind() Kind { return e.Kind }

// New wraps err with the given kind. Returns nil for a nil err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Validationf reports malformed input.
func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// NotFoundf reports a missing label or file.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: NotFound, Err: fmt.Errorf(format, args...)}
}

// ChainIntegrityf reports a broken restore chain.
func ChainIntegrityf(format string, args ...any) error {
	return &Error{Kind: ChainIntegrity, Err: fmt.Errorf(format, args...)}
}

// Transportf reports a failed remote transfer.
func Transportf(format string, args ...any) error {
	return &Error{Kind: Transport, Err: fmt.Errorf(format, args...)}
}

// NoAnchorf reports a manifest without any anchor record.
func NoAnchorf(format string, args ...any) error {
	return &Error{Kind: NoAnchor, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost categorized error in err's
// chain, or "" when nothing in the chain is categorized.
func KindOf(err error) Kind {
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.FaultKind()
	}
	return ""
}

// Is reports whether err's chain contains an error of the given kind.
// Unlike [KindOf] it does not stop at the outermost categorized error,
// and it descends into errors.Join trees.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if kinded, ok := err.(Kinded); ok && kinded.FaultKind() == kind {
		return true
	}
	switch unwrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range unwrapped.Unwrap() {
			if Is(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return Is(unwrapped.Unwrap(), kind)
	}
	return false
}

// ExitCode maps a kind to the process exit code used by the CLI.
func ExitCode(kind Kind) int {
	switch kind {
	case Validation:
		return 2
	case NotFound:
		return 3
	case ChainIntegrity:
		return 4
	case PipelineStage:
		return 5
	case Transport:
		return 6
	case NoAnchor:
		return 7
	default:
		return 1
	}
}
