// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// stderrTailSize bounds how much of each stage's stderr is kept for
// error messages.
const stderrTailSize = 4096

// Stage describes one process in a pipeline.
type Stage struct {
	// Name identifies the stage in errors and logs ("export",
	// "compress", "encrypt").
	Name    string
	Program string
	Args    []string
	// Dir is the working directory. Empty inherits the caller's.
	Dir string

	// Stdin feeds the first stage. Ignored on later stages, which read
	// from the previous stage. Nil means /dev/null.
	Stdin io.Reader

	// Stdout receives the last stage's output. Ignored on earlier
	// stages. Nil discards it.
	Stdout io.Writer

	// Stderr, when set, receives a copy of the stage's stderr as it is
	// written. The tail is captured for errors either way.
	Stderr io.Writer
}

// CommandLine returns the program and arguments joined with spaces.
func (s Stage) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Program
	}
	return s.Program + " " + strings.Join(s.Args, " ")
}

type startedStage struct {
	index   int
	stage   Stage
	command *exec.Cmd
	stderr  *tailBuffer
}

// Run executes stages as a single pipeline and waits for all of them.
// It returns nil only when every stage exits zero.
//
// A single failing stage yields exactly one [*StageError]. Independent
// failures in several stages are combined with errors.Join. If a stage
// cannot be started, the stages already running are drained and waited
// on, and the error names the stage that could not start.
func Run(ctx context.Context, stages []Stage) error {
	if err := validate(stages); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	last := len(stages) - 1

	// readers[i] and writers[i] join stages[i] to stages[i+1].
	readers := make([]*os.File, last)
	writers := make([]*os.File, last)
	closeAll := func() {
		for index := range readers {
			closeFile(&readers[index])
			closeFile(&writers[index])
		}
	}
	for index := range readers {
		reader, writer, err := os.Pipe()
		if err != nil {
			closeAll()
			return fmt.Errorf("creating pipe after stage %s: %w", stages[index].Name, err)
		}
		readers[index], writers[index] = reader, writer
	}

	started := make([]startedStage, 0, len(stages))
	for index, stage := range stages {
		command := exec.CommandContext(ctx, stage.Program, stage.Args...)
		command.Dir = stage.Dir
		if index == 0 {
			command.Stdin = stage.Stdin
		} else {
			command.Stdin = readers[index-1]
		}
		if index == last {
			command.Stdout = stage.Stdout
		} else {
			command.Stdout = writers[index]
		}
		tail := newTailBuffer(stderrTailSize)
		if stage.Stderr != nil {
			command.Stderr = io.MultiWriter(tail, stage.Stderr)
		} else {
			command.Stderr = tail
		}

		if err := command.Start(); err != nil {
			closeAll()
			for _, running := range started {
				running.command.Wait()
			}
			return &StageError{
				Stage:      stage.Name,
				Index:      index,
				Command:    stage.CommandLine(),
				ExitCode:   -1,
				NotStarted: true,
				Err:        err,
			}
		}

		// The child holds its own descriptors now. Dropping the
		// parent's copies is what makes EOF and SIGPIPE propagate.
		if index > 0 {
			closeFile(&readers[index-1])
		}
		if index < last {
			closeFile(&writers[index])
		}
		started = append(started, startedStage{index: index, stage: stage, command: command, stderr: tail})
	}

	var failures []*StageError
	for _, running := range started {
		if failure := classify(running, running.command.Wait()); failure != nil {
			failures = append(failures, failure)
		}
	}

	if err := ctx.Err(); err != nil {
		joined := []error{err}
		for _, failure := range failures {
			joined = append(joined, failure)
		}
		return errors.Join(joined...)
	}
	return blame(failures)
}

// blame reduces the failed stages to the ones worth reporting. A stage
// killed by SIGPIPE lost its reader; it is only reported when nothing
// else failed.
func blame(failures []*StageError) error {
	var primary, broken []error
	for _, failure := range failures {
		if failure.Signal == syscall.SIGPIPE {
			broken = append(broken, failure)
		} else {
			primary = append(primary, failure)
		}
	}
	reported := primary
	if len(reported) == 0 {
		reported = broken
	}
	switch len(reported) {
	case 0:
		return nil
	case 1:
		return reported[0]
	default:
		return errors.Join(reported...)
	}
}

func classify(running startedStage, waitErr error) *StageError {
	if waitErr == nil {
		return nil
	}
	failure := &StageError{
		Stage:    running.stage.Name,
		Index:    running.index,
		Command:  running.stage.CommandLine(),
		ExitCode: -1,
		Stderr:   running.stderr.String(),
		Err:      waitErr,
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			failure.Signal = status.Signal()
		}
	}
	return failure
}

func validate(stages []Stage) error {
	if len(stages) == 0 {
		return fault.Validationf("pipeline has no stages")
	}
	for index, stage := range stages {
		if stage.Name == "" {
			return fault.Validationf("pipeline stage %d has no name", index)
		}
		if stage.Program == "" {
			return fault.Validationf("pipeline stage %s has no program", stage.Name)
		}
	}
	return nil
}

func closeFile(file **os.File) {
	if *file != nil {
		(*file).Close()
		*file = nil
	}
}
