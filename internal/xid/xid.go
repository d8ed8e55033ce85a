package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed opaque identifier, e.g. "phn-1f8a...". The prefix
// makes IDs self-describing in logs and audit trails.
func New(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, raw[:20])
}
