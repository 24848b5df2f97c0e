// Package bundle packages a task's extracted sub-images into a single
// archive on demand.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/docmark/internal/assemble"
)

// ArchiveName is the file name of the packaged images archive inside a
// task directory.
const ArchiveName = "images.zip"

// PackImages compresses the task's images directory into one archive
// and returns its path. The archive is rebuilt on every call; it is
// written to a fresh temporary path and renamed into place so that a
// concurrent reader of a previous archive keeps a valid file.
func PackImages(taskDir string) (string, error) {
	imagesDir := filepath.Join(taskDir, assemble.ImagesDirName)
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return "", fmt.Errorf("read images dir: %w", err)
	}

	tmp, err := os.CreateTemp(taskDir, ArchiveName+".*")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(zw, filepath.Join(imagesDir, entry.Name()), entry.Name()); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", fmt.Errorf("archive %s: %w", entry.Name(), err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	finalPath := filepath.Join(taskDir, ArchiveName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	tmpPath = ""
	return finalPath, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
