// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// ReadFile loads the file at path into a Buffer with surrounding
// whitespace removed. The intermediate heap copy is zeroed. An empty or
// whitespace-only file is an error.
func ReadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret %s: %w", path, err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret %s is empty", path)
	}
	buffer, err := NewFromBytes(trimmed)
	if err != nil {
		return nil, fmt.Errorf("protecting secret %s: %w", path, err)
	}
	return buffer, nil
}
