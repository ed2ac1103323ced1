// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed manages the age keypair that protects backup
// artifacts.
//
// Artifacts are encrypted by the external age binary with a recipients
// file and decrypted with an identity file. This package creates those
// files on storage bootstrap ([EnsureKeypair], in the same format
// age-keygen writes), validates them before a pipeline is started
// ([LoadRecipients], [LoadIdentities]), and decrypts artifact streams
// in-process for deep verification ([Decrypt]). Private keys are held
// in [secret.Buffer] memory while in use.
package sealed
