package fetch

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/schollz/progressbar/v3"
)

var (
	// ErrIntegrityCheckFailed indicates the downloaded content does not
	// match the expected digest. The artifact is untrusted and must never
	// be executed; the partial download stays on disk for inspection.
	ErrIntegrityCheckFailed = errors.New("downloaded artifact failed integrity check")

	// errBadHTTPStatus is returned when the download endpoint does not answer 200.
	errBadHTTPStatus = errors.New("unexpected http status")
)

const (
	// partialSuffix marks a download that has not been verified yet.
	partialSuffix = ".download"

	// artifactFileMode is applied to verified artifacts (installers must be executable).
	artifactFileMode os.FileMode = 0o755
)

// Result reports where a verified artifact landed. Verified is true only
// when the content digest matched the expected one; consumers must not
// touch LocalPath otherwise.
type Result struct {
	// LocalPath is the file holding the downloaded content.
	LocalPath string
	// Verified reports whether the content matched the expected digest.
	Verified bool
}

// Fetcher downloads release artifacts and verifies their SHA-256 digests.
// The same implementation serves every download in a run, parameterized by
// source URL and expected hash.
type Fetcher struct {
	client       *http.Client
	showProgress bool
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient substitutes the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithProgress toggles a console progress bar for downloads.
func WithProgress(enabled bool) Option {
	return func(f *Fetcher) {
		f.showProgress = enabled
	}
}

// NewFetcher returns a Fetcher. Downloads deliberately carry no timeout:
// installer binaries are large and the pipeline is strictly sequential,
// so only the metadata call is bounded.
func NewFetcher(options ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
	}

	for _, option := range options {
		option(f)
	}

	return f
}

// Fetch downloads url into destination (overwriting any existing file) and
// verifies the content against expectedHashHex, compared case-insensitively.
//
// The content first lands in a partial file next to the destination while a
// digest is streamed over it. On a match the partial file is promoted to the
// destination atomically, re-checked against the same digest. On a mismatch
// the partial file is left in place and ErrIntegrityCheckFailed is returned.
func (f *Fetcher) Fetch(ctx context.Context, url, destination, expectedHashHex string) (Result, error) {
	partialPath := destination + partialSuffix

	gotHashHex, err := f.downloadWithDigest(ctx, url, partialPath)
	if err != nil {
		return Result{}, err
	}

	if !strings.EqualFold(gotHashHex, expectedHashHex) {
		return Result{LocalPath: partialPath, Verified: false},
			fmt.Errorf("%w: %s: expected %s, got %s",
				ErrIntegrityCheckFailed, filepath.Base(destination),
				strings.ToUpper(expectedHashHex), strings.ToUpper(gotHashHex))
	}

	if err := promote(partialPath, destination, gotHashHex); err != nil {
		return Result{}, err
	}

	return Result{LocalPath: destination, Verified: true}, nil
}

// downloadWithDigest streams url into path and returns the hex SHA-256 of
// everything written.
func (f *Fetcher) downloadWithDigest(ctx context.Context, url, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	response, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	outputFile, err := os.Create(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	hasher := sha256.New()
	sinks := []io.Writer{outputFile, hasher}

	if f.showProgress {
		sinks = append(sinks, progressbar.DefaultBytes(
			response.ContentLength,
			"downloading "+filepath.Base(path),
		))
	}

	_, copyErr := io.Copy(io.MultiWriter(sinks...), response.Body)
	closeErr := outputFile.Close()

	if copyErr != nil {
		return "", fmt.Errorf("write %s: %w", path, copyErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("close %s: %w", path, closeErr)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// promote moves a verified partial file onto its final path. go-update
// re-verifies the digest while applying, so a file corrupted between
// download and promotion is still caught.
func promote(partialPath, destination, hashHex string) error {
	checksum, err := hex.DecodeString(hashHex)
	if err != nil {
		return fmt.Errorf("decode digest: %w", err)
	}

	contents, err := os.Open(filepath.Clean(partialPath))
	if err != nil {
		return fmt.Errorf("open %s: %w", partialPath, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	// go-update replaces an existing target, so make sure one exists.
	if _, err := os.Stat(destination); err != nil && os.IsNotExist(err) {
		placeholder, createErr := os.Create(filepath.Clean(destination))
		if createErr != nil {
			return fmt.Errorf("create %s: %w", destination, createErr)
		}

		_ = placeholder.Close()
	}

	options := goupdate.Options{
		TargetPath: destination,
		TargetMode: artifactFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}
	if err := goupdate.Apply(contents, options); err != nil {
		return fmt.Errorf("promote %s: %w", destination, err)
	}

	// Drop the partial copy and go-update's rollback file.
	_ = os.Remove(partialPath)
	_ = os.Remove(destination + ".old")

	return nil
}
