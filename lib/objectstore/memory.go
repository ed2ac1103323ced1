// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/bureau-foundation/devbackup/lib/fault"
)

// Memory is an in-process Store for tests. It records every Put so
// tests can assert on upload order.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string

	// FailPut, when set, is consulted before each Put. A non-nil return
	// fails that upload.
	FailPut func(key string) error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put reads path into memory under key.
func (m *Memory) Put(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return fault.Transportf("uploading %s as %s: %w", path, key, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fault.NotFoundf("uploading %s: %w", key, err)
		}
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts = append(m.puts, key)
	return nil
}

// Get writes the object under key to path.
func (m *Memory) Get(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fault.NotFoundf("object %s does not exist", key)
	}
	return writeFile(path, bytes.NewReader(data))
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Object returns the stored bytes for key.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// SetObject stores data under key without going through Put.
func (m *Memory) SetObject(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = slices.Clone(data)
}

// Puts returns the keys uploaded so far, in order.
func (m *Memory) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.puts)
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
