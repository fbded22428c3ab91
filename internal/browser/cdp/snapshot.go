// internal/browser/cdp/snapshot.go
package cdp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/fingerprint"
)

// interactiveTags are element kinds indexed as addressable without further
// evidence of interactivity.
var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// RefreshDOM discards the cached snapshot and rebuilds the addressable-node
// index from a full, pierced document walk.
func (s *Session) RefreshDOM(ctx context.Context) error {
	var root *cdpproto.Node
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		root, err = dom.GetDocument().WithDepth(-1).WithPierce(true).Do(ctx)
		return err
	}))
	if err != nil {
		return s.wrapErr("refresh dom", err)
	}

	nodes := make(map[int]*schemas.NodeHandle)
	index := 0

	var walk func(n *cdpproto.Node, cssPrefix, xpathPrefix string)
	walk = func(n *cdpproto.Node, cssPrefix, xpathPrefix string) {
		// Track same-tag positions so path segments stay unique.
		tagSeen := make(map[string]int)

		for _, child := range n.Children {
			if child.NodeType != cdpproto.NodeTypeElement {
				continue
			}

			tag := strings.ToLower(child.NodeName)
			tagSeen[tag]++
			attrs := attributeMap(child)

			css, xpath := childPaths(cssPrefix, xpathPrefix, tag, attrs["id"], tagSeen[tag])

			if isInteractive(tag, attrs) {
				index++
				nodes[index] = &schemas.NodeHandle{
					Index:     index,
					BackendID: schemas.BackendID(child.BackendNodeID),
					Tag:       tag,
					Attrs:     attrs,
					Text:      nodeText(child),
					CSS:       css,
					XPath:     xpath,
				}
			}

			walk(child, css, xpath)
		}
	}
	walk(root, "", "")

	s.mu.Lock()
	s.nodes = nodes
	s.mu.Unlock()

	s.logger.Debug("DOM snapshot rebuilt.")
	return nil
}

// childPaths extends the parent's selector paths with one element segment.
// An id anchors both paths and discards everything above it.
func childPaths(cssPrefix, xpathPrefix, tag, id string, nth int) (css, xpath string) {
	if id != "" {
		return fmt.Sprintf("#%s", id), fmt.Sprintf(`//*[@id='%s']`, id)
	}

	cssSeg := fmt.Sprintf("%s:nth-of-type(%d)", tag, nth)
	if cssPrefix == "" {
		css = cssSeg
	} else {
		css = cssPrefix + " > " + cssSeg
	}

	xpath = fmt.Sprintf("%s/%s[%d]", xpathPrefix, tag, nth)
	return css, xpath
}

func isInteractive(tag string, attrs map[string]string) bool {
	if _, disabled := attrs["disabled"]; disabled {
		return false
	}
	if interactiveTags[tag] {
		return true
	}
	if attrs["role"] != "" || attrs["onclick"] != "" {
		return true
	}
	_, hasTabIndex := attrs["tabindex"]
	return hasTabIndex
}

// attributeMap flattens a cdp.Node's [name, value, ...] attribute list.
func attributeMap(n *cdpproto.Node) map[string]string {
	if len(n.Attributes) < 2 {
		return nil
	}
	attrs := make(map[string]string, len(n.Attributes)/2)
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		attrs[strings.ToLower(n.Attributes[i])] = n.Attributes[i+1]
	}
	return attrs
}

// nodeText collapses the node's direct and nested text children.
func nodeText(n *cdpproto.Node) string {
	const maxLen = 160

	var sb strings.Builder
	var walk func(n *cdpproto.Node)
	walk = func(n *cdpproto.Node) {
		if n.NodeType == cdpproto.NodeTypeText {
			sb.WriteString(n.NodeValue)
			sb.WriteByte(' ')
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(n)

	return truncateRunes(strings.Join(strings.Fields(sb.String()), " "), maxLen)
}

// truncateRunes caps text at maxLen bytes, backing off to the previous rune
// boundary so the cut never emits invalid UTF-8.
func truncateRunes(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// AddressableNodes serves the cached snapshot; call RefreshDOM first for a
// fresh read.
func (s *Session) AddressableNodes(ctx context.Context) (map[int]*schemas.NodeHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snapshot := s.nodes
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		if err := s.RefreshDOM(ctx); err != nil {
			return nil, err
		}
		s.mu.RLock()
		snapshot = s.nodes
		s.mu.RUnlock()
	}
	return snapshot, nil
}

// NodeByID returns the addressable node whose id attribute equals id.
func (s *Session) NodeByID(ctx context.Context, id string) (*schemas.NodeHandle, error) {
	if id == "" {
		return nil, nil
	}
	nodes, err := s.AddressableNodes(ctx)
	if err != nil {
		return nil, err
	}
	// Scan in document order so a duplicated id always resolves to the same
	// (first) element.
	indices := make([]int, 0, len(nodes))
	for index := range nodes {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	for _, index := range indices {
		if handle := nodes[index]; handle.Attr("id") == id {
			return handle, nil
		}
	}
	return nil, nil
}

// NodeAtPoint asks the engine which element renders at the given viewport
// coordinate and maps it back onto the snapshot when possible.
func (s *Session) NodeAtPoint(ctx context.Context, x, y float64) (*schemas.NodeHandle, error) {
	var backendID cdpproto.BackendNodeID
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		backendID, _, _, err = dom.GetNodeForLocation(int64(x), int64(y)).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, s.wrapErr("node at point", err)
	}
	if backendID == 0 {
		return nil, nil
	}

	s.mu.RLock()
	for _, handle := range s.nodes {
		if handle.BackendID == schemas.BackendID(backendID) {
			s.mu.RUnlock()
			return handle, nil
		}
	}
	s.mu.RUnlock()

	// Not in the addressable index; describe it so the caller can at least
	// check the tag.
	var described *cdpproto.Node
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		described, err = dom.DescribeNode().WithBackendNodeID(backendID).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, s.wrapErr("describe node at point", err)
	}

	return &schemas.NodeHandle{
		BackendID: schemas.BackendID(backendID),
		Tag:       strings.ToLower(described.NodeName),
		Attrs:     attributeMap(described),
	}, nil
}

// StableHash computes the structural hash with the shared capture algorithm.
func (s *Session) StableHash(node *schemas.NodeHandle) uint64 {
	return fingerprint.Hash(node)
}
