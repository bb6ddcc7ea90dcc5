package release

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// hashHexPattern matches a SHA-256 digest in hexadecimal form.
var hashHexPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// errBadHash is returned when a candidate digest is not 64 hex characters.
var errBadHash = errors.New("integrity hash must be a 64-character hex digest")

// Asset is a downloadable release artifact together with the integrity
// hash its publisher declared for it. Immutable after construction.
type Asset struct {
	// Name is the exact file name of the asset.
	Name string
	// DownloadURL is the browser-facing download location.
	DownloadURL string
	// ExpectedHashHex is the publisher-declared SHA-256 digest,
	// normalized to uppercase hexadecimal.
	ExpectedHashHex string
}

// NewAsset validates the digest format and returns a normalized Asset.
func NewAsset(name, downloadURL, hashHex string) (Asset, error) {
	if !hashHexPattern.MatchString(hashHex) {
		return Asset{}, fmt.Errorf("%s: %w", name, errBadHash)
	}

	return Asset{
		Name:            name,
		DownloadURL:     downloadURL,
		ExpectedHashHex: strings.ToUpper(hashHex),
	}, nil
}
