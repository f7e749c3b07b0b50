// Package testutil provides test helpers for smsvault tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - fs_helpers.go: filesystem operations (WriteFile, ReadFile, MustExist)
//   - archive_helpers.go: reading back written archives (ReadArchive)
//
// Synthetic iPhone backups live in the backuptest subpackage.
package testutil
