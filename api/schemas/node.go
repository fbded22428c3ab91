package schemas

import (
	"sort"
	"strings"
)

// NodeID is a protocol-level node identifier, valid only within the DOM
// snapshot that produced it.
type NodeID int64

// BackendID is the engine-internal backend node identifier. It survives
// re-queries within one page load but never across loads.
type BackendID int64

// SearchHandle refers to an open remote search (e.g. an XPath query) whose
// results are paged out of the engine and must be discarded after use.
type SearchHandle struct {
	ID    string
	Count int
}

// BoundingBox is an absolute viewport rectangle.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// NodeHandle is the one concrete representation of a live DOM element shared
// by every component. Engines populate it from their own internals; matching
// and extraction code never branches on where a handle came from.
type NodeHandle struct {
	// Index is the element's key in the session's addressable-node map.
	Index int `json:"index"`
	// BackendID is the engine's backend node identifier, zero if unknown.
	BackendID BackendID `json:"backend_node_id,omitempty"`
	// Tag is the lower-cased element tag name.
	Tag string `json:"tag"`
	// Attrs holds the element's attributes as a flat map.
	Attrs map[string]string `json:"attributes,omitempty"`
	// Text is the element's collapsed visible text, best-effort.
	Text string `json:"text,omitempty"`
	// Box is the element's absolute bounding box, nil when not measured.
	Box *BoundingBox `json:"box,omitempty"`
	// CSS is an engine-generated selector path for the element, best-effort.
	CSS string `json:"css,omitempty"`
	// XPath is an engine-generated absolute XPath, best-effort.
	XPath string `json:"xpath,omitempty"`
}

// Attr returns the named attribute, or "" when absent.
func (n *NodeHandle) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present, even if empty.
func (n *NodeHandle) HasAttr(name string) bool {
	if n == nil || n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// Classes splits the class attribute into its individual names.
func (n *NodeHandle) Classes() []string {
	raw := n.Attr("class")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// AccessibleName approximates the element's accessible name: an explicit
// aria-label wins, then the collapsed text content.
func (n *NodeHandle) AccessibleName() string {
	if n == nil {
		return ""
	}
	if label := n.Attr("aria-label"); label != "" {
		return label
	}
	return n.Text
}

// SortedAttrNames returns the attribute names in deterministic order, for
// stable hashing and stable log output.
func (n *NodeHandle) SortedAttrNames() []string {
	if n == nil || len(n.Attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.Attrs))
	for name := range n.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
