// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// exitCoder is implemented by errors that carry their own exit code and
// have already reported themselves.
type exitCoder interface {
	ExitCode() int
}

// ExitCode returns the process exit code for err: the error's own code
// when it has one, otherwise the code for its fault kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if coder, ok := err.(exitCoder); ok {
		return coder.ExitCode()
	}
	return fault.ExitCode(fault.KindOf(err))
}

// Report writes "error: err" to w unless err already reported itself,
// and returns the exit code.
func Report(w io.Writer, err error) int {
	if _, ok := err.(exitCoder); !ok && err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return ExitCode(err)
}

// Fatal reports err to stderr and exits with its code.
func Fatal(err error) {
	os.Exit(Report(os.Stderr, err))
}
