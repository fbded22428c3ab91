// internal/browser/static/paths.go
package static

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// cssPath generates a selector path for a node. An ancestor with an id
// anchors the path and stops the traversal, keeping selectors short and
// resilient to changes above the anchor.
func cssPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var parts []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}

		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" {
			parts = append(parts, fmt.Sprintf("#%s", id))
			break
		}

		// nth-of-type keeps the segment unique among same-tag siblings.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, index))
	}

	if len(parts) == 0 {
		return ""
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// xpathFor generates a robust XPath expression for a given node. It
// prioritizes IDs as anchors for stability and brevity.
func xpathFor(node *html.Node) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}

		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}

		// XPath indices are 1-based.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(path) == 0 {
		return "/"
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// collapsedText returns the node's descendant text with whitespace collapsed,
// truncated to a length that stays useful for substring matching.
func collapsedText(node *html.Node) string {
	const maxLen = 160

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	text := strings.Join(strings.Fields(sb.String()), " ")
	if len(text) > maxLen {
		// Back off to the previous rune boundary so the cut never emits
		// invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// attributeMap flattens a node's attribute list.
func attributeMap(node *html.Node) map[string]string {
	if len(node.Attr) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}
	return attrs
}
