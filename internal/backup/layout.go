// Package backup understands the on-disk layout of an unencrypted iPhone
// backup: a flat content-addressed store in which every file lives at
// <root>/<id[:2]>/<id>, where id is the SHA-1 of "<domain>-<relative path>".
package backup

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

// Backup domains used by the message store.
const (
	HomeDomain  = "HomeDomain"
	MediaDomain = "MediaDomain"
)

// Relative paths (inside HomeDomain) of the two databases an export reads.
const (
	MessagesDBPath = "Library/SMS/sms.db"
	ContactsDBPath = "Library/AddressBook/AddressBook.sqlitedb"
)

// Metadata files that sit directly in the backup root, outside the store.
const (
	ManifestPlistName = "Manifest.plist"
	InfoPlistName     = "Info.plist"
)

// FileID returns the storage identifier of a file: the hex-encoded SHA-1 of
// "<domain>-<relativePath>" over its UTF-8 bytes.
func FileID(domain, relativePath string) string {
	sum := sha1.Sum([]byte(domain + "-" + relativePath))
	return hex.EncodeToString(sum[:])
}

// StoragePath returns where the store keeps the file with the given id
// under root: <root>/<id[:2]>/<id>.
func StoragePath(root, id string) string {
	return filepath.Join(root, id[:2], id)
}

// Layout resolves well-known files inside a backup root directory.
type Layout struct {
	Root string
}

// NewLayout returns a Layout for the backup rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// Path returns the store path of domain/relativePath. It does not check
// that the file exists.
func (l Layout) Path(domain, relativePath string) string {
	return StoragePath(l.Root, FileID(domain, relativePath))
}

// MessagesDB returns the path of the messages database (sms.db).
func (l Layout) MessagesDB() string {
	return l.Path(HomeDomain, MessagesDBPath)
}

// ContactsDB returns the path of the contacts database (AddressBook.sqlitedb).
func (l Layout) ContactsDB() string {
	return l.Path(HomeDomain, ContactsDBPath)
}

// ManifestPlist returns the path of Manifest.plist.
func (l Layout) ManifestPlist() string {
	return filepath.Join(l.Root, ManifestPlistName)
}

// InfoPlist returns the path of Info.plist.
func (l Layout) InfoPlist() string {
	return filepath.Join(l.Root, InfoPlistName)
}
