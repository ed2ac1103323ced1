// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/secret"
)

// Keypair is a freshly generated x25519 identity.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a new x25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{PrivateKey: privateKey, PublicKey: identity.Recipient().String()}, nil
}

// EnsureKeypair writes a new keypair to identityPath (mode 0600) and
// recipientPath (mode 0644) unless identityPath already exists. When
// only the identity exists, the recipient file is derived from it.
// created reports whether a new identity was generated.
func EnsureKeypair(identityPath, recipientPath string, now time.Time) (created bool, err error) {
	if _, err := os.Stat(identityPath); err == nil {
		if _, err := os.Stat(recipientPath); err == nil {
			return false, nil
		}
		return false, deriveRecipient(identityPath, recipientPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking identity %s: %w", identityPath, err)
	}

	keypair, err := GenerateKeypair()
	if err != nil {
		return false, err
	}
	defer keypair.Close()

	if err := os.MkdirAll(filepath.Dir(identityPath), 0o700); err != nil {
		return false, fmt.Errorf("creating key directory: %w", err)
	}

	var content bytes.Buffer
	fmt.Fprintf(&content, "# created: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&content, "# public key: %s\n", keypair.PublicKey)
	content.Write(keypair.PrivateKey.Bytes())
	content.WriteByte('\n')
	defer secret.Zero(content.Bytes())

	if err := writeExclusive(identityPath, content.Bytes(), 0o600); err != nil {
		return false, err
	}
	if err := writeExclusive(recipientPath, []byte(keypair.PublicKey+"\n"), 0o644); err != nil {
		return true, err
	}
	return true, nil
}

func deriveRecipient(identityPath, recipientPath string) error {
	identities, err := LoadIdentities(identityPath)
	if err != nil {
		return err
	}
	for _, identity := range identities {
		if x25519, ok := identity.(*age.X25519Identity); ok {
			return writeExclusive(recipientPath, []byte(x25519.Recipient().String()+"\n"), 0o644)
		}
	}
	return fault.Validationf("identity %s holds no x25519 key to derive a recipient from", identityPath)
}

func writeExclusive(path string, data []byte, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return file.Close()
}

// LoadRecipients parses an age recipients file.
func LoadRecipients(path string) ([]age.Recipient, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.NotFoundf("recipients file %s: %w", path, err)
		}
		return nil, fmt.Errorf("opening recipients file %s: %w", path, err)
	}
	defer file.Close()
	recipients, err := age.ParseRecipients(file)
	if err != nil {
		return nil, fault.Validationf("parsing recipients file %s: %w", path, err)
	}
	return recipients, nil
}

// LoadIdentities parses an age identity file. The file is read into
// protected memory and released before returning.
func LoadIdentities(path string) ([]age.Identity, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fault.NotFoundf("identity file %s: %w", path, err)
	}
	buffer, err := secret.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer buffer.Close()

	identities, err := age.ParseIdentities(bytes.NewReader(buffer.Bytes()))
	if err != nil {
		return nil, fault.Validationf("parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// Decrypt returns a reader over the plaintext of an age stream.
func Decrypt(ciphertext io.Reader, identities []age.Identity) (io.Reader, error) {
	reader, err := age.Decrypt(ciphertext, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return reader, nil
}

// Encrypt returns a writer that encrypts to recipients into ciphertext.
// The caller must Close it to flush the final chunk.
func Encrypt(ciphertext io.Writer, recipients []age.Recipient) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, fault.Validationf("at least one recipient is required")
	}
	writer, err := age.Encrypt(ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	return writer, nil
}
