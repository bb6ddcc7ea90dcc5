package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newDownloadServer serves the given payload on every request.
func newDownloadServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return server
}

// TestFetchVerified downloads, verifies and promotes an artifact.
func TestFetchVerified(t *testing.T) {
	t.Parallel()

	payload := []byte("installer bytes")
	digest := sha256.Sum256(payload)
	// Lowercase on purpose: comparison must be case-insensitive.
	expected := hex.EncodeToString(digest[:])

	server := newDownloadServer(t, payload)
	destination := filepath.Join(t.TempDir(), "Git-2.44.0-64-bit.exe")

	result, err := NewFetcher().Fetch(context.Background(), server.URL, destination, expected)
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, destination, result.LocalPath)

	contents, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, contents)

	// The partial file must be gone after promotion.
	_, err = os.Stat(destination + partialSuffix)
	require.True(t, os.IsNotExist(err))
}

// TestFetchUppercaseDigest accepts publisher digests in uppercase.
func TestFetchUppercaseDigest(t *testing.T) {
	t.Parallel()

	payload := []byte("agent archive")
	digest := sha256.Sum256(payload)
	expected := strings.ToUpper(hex.EncodeToString(digest[:]))

	server := newDownloadServer(t, payload)
	destination := filepath.Join(t.TempDir(), "actions-runner.zip")

	result, err := NewFetcher().Fetch(context.Background(), server.URL, destination, expected)
	require.NoError(t, err)
	require.True(t, result.Verified)
}

// TestFetchIntegrityCheckFailed keeps the partial download for inspection
// and never produces the destination file.
func TestFetchIntegrityCheckFailed(t *testing.T) {
	t.Parallel()

	server := newDownloadServer(t, []byte("tampered bytes"))
	destination := filepath.Join(t.TempDir(), "Git-2.44.0-64-bit.exe")

	result, err := NewFetcher().Fetch(context.Background(), server.URL, destination, strings.Repeat("bb", 32))
	require.ErrorIs(t, err, ErrIntegrityCheckFailed)
	require.False(t, result.Verified)

	// Partial download is left in place for forensics.
	require.Equal(t, destination+partialSuffix, result.LocalPath)
	_, statErr := os.Stat(result.LocalPath)
	require.NoError(t, statErr)

	// The trusted destination path was never created.
	_, statErr = os.Stat(destination)
	require.True(t, os.IsNotExist(statErr))
}

// TestFetchOverwritesExisting replaces whatever sits at the destination.
func TestFetchOverwritesExisting(t *testing.T) {
	t.Parallel()

	payload := []byte("fresh download")
	digest := sha256.Sum256(payload)

	server := newDownloadServer(t, payload)
	destination := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(destination, []byte("stale leftover"), 0o600))

	result, err := NewFetcher().Fetch(context.Background(), server.URL, destination, hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	require.True(t, result.Verified)

	contents, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, contents)
}

// TestFetchBadStatus maps non-200 answers to an error without leaving files behind.
func TestFetchBadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	destination := filepath.Join(t.TempDir(), "artifact.bin")

	_, err := NewFetcher().Fetch(context.Background(), server.URL, destination, strings.Repeat("aa", 32))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIntegrityCheckFailed)
}
