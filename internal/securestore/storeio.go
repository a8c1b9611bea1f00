package securestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is a snapshot file that is sealed when a secret is set and plain JSON
// otherwise. The file path is bound as associated data so a sealed file
// cannot be swapped for another store's file.
type File struct {
	Path   string
	Secret string
}

func (f File) Encrypted() bool {
	return f.Secret != ""
}

// Read returns the decoded payload, or os.ErrNotExist wrapped when the file
// has not been written yet.
func (f File) Read() ([]byte, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if !f.Encrypted() {
		if IsEncrypted(raw) {
			return nil, fmt.Errorf("%s: %w", f.Path, ErrNoSecret)
		}
		return raw, nil
	}
	plain, err := Decrypt(f.Secret, raw, f.aad())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return plain, nil
}

// Write replaces the file contents via a temp file and rename.
func (f File) Write(payload []byte) error {
	if f.Path == "" {
		return errors.New("securestore: empty path")
	}
	out := payload
	if f.Encrypted() {
		sealed, err := Encrypt(f.Secret, payload, f.aad())
		if err != nil {
			return err
		}
		out = sealed
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.Path)
}

func (f File) aad() []byte {
	return []byte(filepath.Base(f.Path))
}
