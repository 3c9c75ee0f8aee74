package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxSignificantLines bounds how much of a trace contributes to the
// fingerprint. The top of the stack identifies the defect; deeper
// frames only add churn across releases.
const maxSignificantLines = 5

// frameMarker prefixes a stack frame line (after leading indentation).
const frameMarker = "at "

// Compute derives the stable fingerprint of a stack trace: the
// lowercase hex encoding of the first 16 bytes of a SHA-256 digest over
// the significant lines. Frame lines are hashed verbatim since they
// pinpoint a code location; exception and error lines are normalized
// first because free-text messages carry volatile runtime values.
//
// Compute never fails: an empty or unparseable trace still produces a
// deterministic value from an empty significant-line set.
func Compute(trace string) string {
	kept := make([]string, 0, maxSignificantLines)
	for _, line := range strings.Split(trace, "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), frameMarker):
			kept = append(kept, line)
		case strings.Contains(line, "Exception") || strings.Contains(line, "Error"):
			kept = append(kept, Normalize(line))
		default:
			continue
		}
		if len(kept) == maxSignificantLines {
			break
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(kept, "\n")))
	return hex.EncodeToString(sum[:16])
}
