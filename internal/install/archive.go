package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// errUnsafeArchivePath is returned when an archive entry would escape the
// extraction directory.
var errUnsafeArchivePath = errors.New("archive entry escapes destination")

// extractedDirMode is applied to directories created during extraction.
const extractedDirMode os.FileMode = 0o755

// ExtractZip expands the runner archive fully into destDir, creating it if
// needed. Entry modes are preserved so config.cmd and the bundled
// executables stay runnable.
func ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		// The reader flags relative entry names itself; fold that into
		// the same error safeJoin reports.
		if errors.Is(err, zip.ErrInsecurePath) {
			_ = reader.Close()
			return fmt.Errorf("%s: %w", archivePath, errUnsafeArchivePath)
		}

		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	if err := os.MkdirAll(destDir, extractedDirMode); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	targetPath, err := safeJoin(destDir, entry.Name)
	if err != nil {
		return err
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(targetPath, extractedDirMode); err != nil {
			return fmt.Errorf("create %s: %w", targetPath, err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), extractedDirMode); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(targetPath), err)
	}

	contents, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	outputFile, err := os.OpenFile(filepath.Clean(targetPath),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return fmt.Errorf("create %s: %w", targetPath, err)
	}

	_, copyErr := io.Copy(outputFile, contents)
	closeErr := outputFile.Close()

	if copyErr != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", targetPath, closeErr)
	}

	return nil
}

// safeJoin resolves an archive entry name under destDir, rejecting names
// that would climb out of it.
func safeJoin(destDir, entryName string) (string, error) {
	targetPath := filepath.Join(destDir, filepath.FromSlash(entryName))

	cleanDest := filepath.Clean(destDir)
	if targetPath != cleanDest && !strings.HasPrefix(targetPath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", entryName, errUnsafeArchivePath)
	}

	return targetPath, nil
}
