package runs

import (
	"strings"

	"github.com/google/uuid"
)

// Run ID prefixes.
const (
	PrefixBatch        = "scrape-and-process"
	PrefixProcessOrder = "process-order"
	PrefixProcessCall  = "process-call"
	PrefixConvert      = "convert"
	PrefixUpload       = "upload"
)

// NewID joins parts with dashes and appends a short random suffix, for
// example process-order-R1-1f3a9c2e.
func NewID(parts ...string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.Join(parts, "-") + "-" + suffix
}
