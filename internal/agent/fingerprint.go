package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/HendryAvila/stagehand/internal/workspace"
)

// fingerprint hashes the versions of refs so a token can detect that an
// entity it was confirmed against has changed since.
func fingerprint(refs []workspace.Ref, versions map[workspace.Ref]string) string {
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, ref.String()+"="+versions[ref])
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
