package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"howett.net/plist"
)

// Manifest holds the fields of Manifest.plist that matter for an export.
type Manifest struct {
	IsEncrypted bool      `plist:"IsEncrypted"`
	Version     string    `plist:"Version"`
	Date        time.Time `plist:"Date"`
	Lockdown    Lockdown  `plist:"Lockdown"`
}

// Lockdown is the device section of Manifest.plist.
type Lockdown struct {
	DeviceName     string `plist:"DeviceName"`
	ProductType    string `plist:"ProductType"`
	ProductVersion string `plist:"ProductVersion"`
	BuildVersion   string `plist:"BuildVersion"`
	UniqueDeviceID string `plist:"UniqueDeviceID"`
}

// Info holds the fields of Info.plist shown by `smsvault info`.
type Info struct {
	DeviceName     string    `plist:"Device Name"`
	DisplayName    string    `plist:"Display Name"`
	ProductType    string    `plist:"Product Type"`
	ProductVersion string    `plist:"Product Version"`
	PhoneNumber    string    `plist:"Phone Number"`
	LastBackupDate time.Time `plist:"Last Backup Date"`
}

// ErrNoMetadata is returned when the backup root has no plist of the
// requested kind. Older and hand-copied backups often lack them.
var ErrNoMetadata = errors.New("backup metadata not found")

// ReadManifest parses Manifest.plist from the backup root. Both XML and
// binary plists are accepted.
func (l Layout) ReadManifest() (*Manifest, error) {
	var m Manifest
	if err := readPlist(l.ManifestPlist(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadInfo parses Info.plist from the backup root.
func (l Layout) ReadInfo() (*Info, error) {
	var info Info
	if err := readPlist(l.InfoPlist(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// IsEncrypted reports whether Manifest.plist marks the backup as encrypted.
// A missing manifest is not an error: the answer is then false and the
// caller learns about encryption when the databases fail to open.
func (l Layout) IsEncrypted() (bool, error) {
	m, err := l.ReadManifest()
	if errors.Is(err, ErrNoMetadata) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.IsEncrypted, nil
}

func readPlist(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoMetadata, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := plist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
