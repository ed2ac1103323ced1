// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"io"
	"strconv"
)

// Tools names the external programs the backup pipelines invoke. Each
// field is a program name resolved through PATH or an absolute path.
type Tools struct {
	Btrfs string
	Zstd  string
	Age   string
	SSH   string
	// Self is the dev-backup binary, invoked on the storage host by
	// request pipelines.
	Self string
	// CompressionLevel is passed to zstd as -<level>.
	CompressionLevel int
}

// DefaultTools returns the tool set found on a stock host.
func DefaultTools() Tools {
	return Tools{
		Btrfs:            "btrfs",
		Zstd:             "zstd",
		Age:              "age",
		SSH:              "ssh",
		Self:             "dev-backup",
		CompressionLevel: 3,
	}
}

func (t Tools) sendStage(name, snapshot, parentSnapshot string) Stage {
	args := []string{"send"}
	if parentSnapshot != "" {
		args = append(args, "-p", parentSnapshot)
	}
	return Stage{Name: name, Program: t.Btrfs, Args: append(args, snapshot)}
}

func (t Tools) receiveStage(directory string) Stage {
	return Stage{Name: "receive", Program: t.Btrfs, Args: []string{"receive", directory}}
}

// Export builds "btrfs send [-p parent] snapshot | zstd -N | age -R
// recipients -o output". An empty parentSnapshot sends a full stream.
func Export(tools Tools, snapshot, parentSnapshot, recipientsFile, output string) []Stage {
	level := tools.CompressionLevel
	if level <= 0 {
		level = DefaultTools().CompressionLevel
	}
	return []Stage{
		tools.sendStage("export", snapshot, parentSnapshot),
		{Name: "compress", Program: tools.Zstd, Args: []string{"-q", "-" + strconv.Itoa(level)}},
		{Name: "encrypt", Program: tools.Age, Args: []string{"-R", recipientsFile, "-o", output}},
	}
}

// Import builds "age -d -i identity input | zstd -d | btrfs receive
// directory".
func Import(tools Tools, identityFile, input, receiveDirectory string) []Stage {
	return []Stage{
		{Name: "decrypt", Program: tools.Age, Args: []string{"-d", "-i", identityFile, input}},
		{Name: "decompress", Program: tools.Zstd, Args: []string{"-q", "-d"}},
		tools.receiveStage(receiveDirectory),
	}
}

// RequestTarget says where a request pipeline fetches its stream from.
type RequestTarget struct {
	Host string
	User string
	// ConfigPath is the configuration file the sending side loads.
	ConfigPath string
}

// IsLocal reports whether the target is this host, in which case the
// sending side runs without ssh.
func (t RequestTarget) IsLocal() bool {
	switch t.Host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Request builds a pipeline that runs "dev-backup ls send label
// [parent]" on the storage host, locally or over ssh, and receives the
// stream into receiveDirectory.
func Request(tools Tools, target RequestTarget, label, parent, receiveDirectory string) []Stage {
	remote := []string{}
	if target.ConfigPath != "" {
		remote = append(remote, "--config", target.ConfigPath)
	}
	remote = append(remote, "ls", "send", label)
	if parent != "" {
		remote = append(remote, parent)
	}

	request := Stage{Name: "request", Program: tools.Self, Args: remote}
	if !target.IsLocal() {
		destination := target.Host
		if target.User != "" {
			destination = target.User + "@" + target.Host
		}
		request = Stage{
			Name:    "request",
			Program: tools.SSH,
			Args:    append([]string{destination, "--", tools.Self}, remote...),
		}
	}
	return []Stage{request, tools.receiveStage(receiveDirectory)}
}

// Send builds the single-stage "btrfs send [-p parent] snapshot" writing
// the raw stream to stdout.
func Send(tools Tools, snapshot, parentSnapshot string, stdout io.Writer) []Stage {
	stage := tools.sendStage("send", snapshot, parentSnapshot)
	stage.Stdout = stdout
	return []Stage{stage}
}
