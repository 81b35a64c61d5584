// Package fileutil contains utilities for writing files.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
)

// WriteAtomic writes data into a new temporary file in the directory of
// fileName and renames it to fileName, so readers never see a partially
// written file.  Concurrent calls for the same fileName don't share the
// temporary file.  The directory is created with dirPerm if needed.
func WriteAtomic(fileName string, data []byte, perm, dirPerm fs.FileMode) (err error) {
	dir := filepath.Dir(fileName)
	err = os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fileName)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, removeMissingOK(tmpName))
		}
	}()

	_, err = tmp.Write(data)
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("writing temporary file: %w", err), tmp.Close())
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing temporary file: %w", err)
	}

	err = os.Chmod(tmpName, perm)
	if err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	err = os.Rename(tmpName, fileName)
	if err != nil {
		return fmt.Errorf("renaming temporary file: %w", err)
	}

	return nil
}

// removeMissingOK removes the file and ignores [fs.ErrNotExist].
func removeMissingOK(name string) (err error) {
	err = os.Remove(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
