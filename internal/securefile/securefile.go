// Package securefile writes files that must be neither world-readable nor
// torn. Identity keys and all durable broker state come through here.
package securefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// MkdirAllOwnerOnly creates dir and any missing parents, then tightens the
// directory to owner-only access. MkdirAll alone leaves an existing
// directory's mode untouched, so the chmod runs unconditionally.
//
// Windows does not honor unix permission bits; there the function only
// ensures the directory exists.
func MkdirAllOwnerOnly(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(dir, 0o700)
}

// WriteFileAtomic replaces filename with data in one step: the bytes land
// in a temp file beside the destination, are synced, and the temp file is
// renamed into place. A crash mid-write leaves the old content intact.
//
// perm is enforced on unix even when the file already exists; os.WriteFile
// only honors perm on create.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	f, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if err := fillTemp(f, data, perm); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	// Rename on Windows refuses to replace an existing destination.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if runtime.GOOS != "windows" {
		// The temp file's mode can drift from perm under umask or on
		// filesystems that ignore Chmod on open handles.
		return os.Chmod(filename, perm)
	}
	return nil
}

func fillTemp(f *os.File, data []byte, perm os.FileMode) error {
	if runtime.GOOS != "windows" {
		if err := f.Chmod(perm); err != nil {
			return err
		}
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// WriteJSONAtomic marshals v with two-space indentation and hands the bytes
// to WriteFileAtomic. All durable broker state (channel records, queue
// files, IP lists, profiles) goes through this path so a crash never leaves
// a half-written document behind.
func WriteJSONAtomic(filename string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return WriteFileAtomic(filename, data, perm)
}
