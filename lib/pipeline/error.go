// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// StageError reports one pipeline stage that failed to start or exited
// unsuccessfully.
type StageError struct {
	Stage   string
	Index   int
	Command string
	// ExitCode is the process exit status, or -1 when the stage was
	// killed by a signal or never started.
	ExitCode int
	// Signal is set when the stage was terminated by a signal.
	Signal syscall.Signal
	// Stderr is the trimmed tail of the stage's stderr.
	Stderr     string
	NotStarted bool
	Err        error
}

func (e *StageError) Error() string {
	var message strings.Builder
	switch {
	case e.NotStarted:
		fmt.Fprintf(&message, "pipeline stage %s (%s) failed to start: %v", e.Stage, e.Command, e.Err)
	case e.Signal != 0:
		fmt.Fprintf(&message, "pipeline stage %s (%s) killed by signal %v", e.Stage, e.Command, e.Signal)
	case e.ExitCode >= 0:
		fmt.Fprintf(&message, "pipeline stage %s (%s) exited with code %d", e.Stage, e.Command, e.ExitCode)
	default:
		fmt.Fprintf(&message, "pipeline stage %s (%s) failed: %v", e.Stage, e.Command, e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&message, " (stderr: %s)", e.Stderr)
	}
	return message.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// FaultKind reports [fault.PipelineStage].
func (e *StageError) FaultKind() fault.Kind { return fault.PipelineStage }

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}
	b.data = append(b.data, p...)
	if excess := len(b.data) - b.limit; excess > 0 {
		b.data = append(b.data[:0], b.data[excess:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.data))
}
