// internal/fingerprint/fingerprint.go
package fingerprint

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// hasherPool keeps a stash of FNV hasher instances ready to go. Matching
// rehashes every addressable node per attempt, so avoiding per-hash
// allocations matters.
var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

// stableAttrs are the attributes folded into the structural hash. The class
// attribute is deliberately excluded: utility class names regenerate between
// deploys, and the hash must survive that churn.
var stableAttrs = []string{
	"aria-label",
	"data-testid",
	"href",
	"name",
	"placeholder",
	"role",
	"title",
	"type",
}

// Describe builds the canonical structural description of a node, e.g.
// `input#email[name="email"][type="text"]`. The same description feeds the
// hash at capture time and at match time.
func Describe(n *schemas.NodeHandle) string {
	if n == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(n.Tag))

	if id := n.Attr("id"); id != "" {
		sb.WriteString("#" + id)
	}

	// stableAttrs is kept sorted so the description order never drifts.
	for _, attr := range stableAttrs {
		if val := n.Attr(attr); val != "" {
			sb.WriteString(fmt.Sprintf(`[%s=%q]`, attr, val))
		}
	}

	return sb.String()
}

// Hash computes the structural stable hash of a node. Zero means the node
// carries nothing hashable.
func Hash(n *schemas.NodeHandle) uint64 {
	description := Describe(n)
	if description == "" {
		return 0
	}

	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	_, _ = hasher.Write([]byte(description))
	return hasher.Sum64()
}

// Capture builds the durable fingerprint of a live node. Every signal is
// best-effort: whatever the handle carries is recorded, nothing is invented.
func Capture(n *schemas.NodeHandle) *schemas.ElementFingerprint {
	if n == nil {
		return nil
	}

	fp := &schemas.ElementFingerprint{
		CSSSelector:   n.CSS,
		XPath:         n.XPath,
		StableHash:    Hash(n),
		BackendNodeID: int64(n.BackendID),

		ID:          n.Attr("id"),
		DataTestID:  n.Attr("data-testid"),
		AriaLabel:   n.Attr("aria-label"),
		Name:        n.Attr("name"),
		Placeholder: n.Attr("placeholder"),
		Href:        n.Attr("href"),
		Role:        n.Attr("role"),

		TagName:     strings.ToLower(n.Tag),
		TextContent: n.AccessibleName(),
	}

	if classes := n.Classes(); len(classes) > 0 {
		sorted := make([]string, len(classes))
		copy(sorted, classes)
		sort.Strings(sorted)
		fp.Classes = sorted
	}

	if n.Box != nil {
		x, y, w, h := n.Box.X, n.Box.Y, n.Box.Width, n.Box.Height
		fp.X, fp.Y, fp.Width, fp.Height = &x, &y, &w, &h
	}

	if n.Index > 0 {
		idx := n.Index
		fp.RecordedIndex = &idx
	}

	return fp
}
