package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/google/go-github/v72/github"
)

var (
	// ErrResolutionFailed indicates the release metadata endpoint could not
	// be reached or answered with an error. Nothing has been downloaded yet.
	ErrResolutionFailed = errors.New("release metadata request failed")
	// ErrAssetNotFound indicates no published asset matched the name pattern.
	ErrAssetNotFound = errors.New("no release asset matches the pattern")
	// ErrHashNotFound indicates the release notes carry no integrity hash
	// for the matched asset.
	ErrHashNotFound = errors.New("no integrity hash found in release notes")
)

// Resolver queries a GitHub release endpoint and turns its metadata into a
// verified-download work order. The go-github client supplies the
// Accept: application/vnd.github.v3+json and X-GitHub-Api-Version headers.
type Resolver struct {
	client *github.Client
}

// NewResolver returns a Resolver whose metadata calls are bounded by the
// given timeout. There are no retries: a timeout aborts the whole pipeline.
func NewResolver(timeout time.Duration) *Resolver {
	return &Resolver{
		client: github.NewClient(&http.Client{Timeout: timeout}),
	}
}

// WithBaseURL points the resolver at a different API root. Used by tests
// to substitute a local fixture server.
func (r *Resolver) WithBaseURL(raw string) (*Resolver, error) {
	client, err := r.client.WithEnterpriseURLs(raw, raw)
	if err != nil {
		return nil, fmt.Errorf("set base URL: %w", err)
	}

	return &Resolver{client: client}, nil
}

// ResolveLatest fetches the latest release of owner/repo, picks the first
// asset whose name matches pattern (in the order the API lists them) and
// extracts its SHA-256 from the release notes body.
func (r *Resolver) ResolveLatest(ctx context.Context, owner, repo, pattern string) (Asset, error) {
	nameMatcher, err := regexp.Compile(pattern)
	if err != nil {
		return Asset{}, fmt.Errorf("compile asset pattern: %w", err)
	}

	rel, _, err := r.client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %s/%s: %v", ErrResolutionFailed, owner, repo, err)
	}

	var matched *github.ReleaseAsset

	for _, candidate := range rel.Assets {
		if nameMatcher.MatchString(candidate.GetName()) {
			matched = candidate
			break
		}
	}

	if matched == nil {
		return Asset{}, fmt.Errorf("%w: %q in %s/%s", ErrAssetNotFound, pattern, owner, repo)
	}

	hashHex, ok := ExtractHash(rel.GetBody(), matched.GetName())
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrHashNotFound, matched.GetName())
	}

	return NewAsset(matched.GetName(), matched.GetBrowserDownloadURL(), hashHex)
}
