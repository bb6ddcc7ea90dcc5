package release

import (
	"regexp"
	"strings"
)

// hexTokenPattern finds a standalone 64-character hexadecimal token.
// The guards around the capture group stop it from matching a 64-character
// slice out of a longer digest (e.g. a SHA-512 printed in the same line).
var hexTokenPattern = regexp.MustCompile(`(?:^|[^0-9a-fA-F])([0-9a-fA-F]{64})(?:[^0-9a-fA-F]|$)`)

// ExtractHash scans free-form release notes for a line that mentions the
// exact asset name and, later on the same line, a 64-character hex token.
// The first such token wins, matching the order the notes list files in.
// The returned hash keeps its original case; callers normalize it.
func ExtractHash(body, assetName string) (string, bool) {
	if assetName == "" {
		return "", false
	}

	for _, line := range strings.Split(body, "\n") {
		idx := strings.Index(line, assetName)
		if idx < 0 {
			continue
		}

		rest := line[idx+len(assetName):]

		match := hexTokenPattern.FindStringSubmatch(rest)
		if match == nil {
			continue
		}

		return match[1], true
	}

	return "", false
}
