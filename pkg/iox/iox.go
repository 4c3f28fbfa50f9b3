package iox

import (
	"io"
	"os"
	"path/filepath"
)

// WriteStreamToFile writes src to dstFilename through a temporary file in the
// same directory, which is renamed into place once everything has been written.
// Readers never see a partial file. On failure, dstFilename is left untouched.
func WriteStreamToFile(dstFilename string, src io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dstFilename), filepath.Base(dstFilename)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dstFilename)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
