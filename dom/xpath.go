package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns the absolute element path of n, e.g. /html/body/div[2]/p.
// A positional predicate is added only when the parent has more than one
// element child with the same tag. The page-side observer script computes
// the same format, which is how records and live probes address nodes.
func XPath(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		parts = append(parts, step(cur))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func step(n *html.Node) string {
	if n.Parent == nil {
		return n.Data
	}
	idx, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || s.Data != n.Data {
			continue
		}
		total++
		if s == n {
			idx = total
		}
	}
	if total > 1 {
		return n.Data + "[" + strconv.Itoa(idx) + "]"
	}
	return n.Data
}

// Locate follows an absolute path produced by XPath from doc. It returns nil
// when any step is missing, which callers treat as a detached node.
func Locate(doc *html.Node, xpath string) *html.Node {
	if doc == nil || !strings.HasPrefix(xpath, "/") {
		return nil
	}
	cur := doc
	for _, s := range strings.Split(xpath[1:], "/") {
		if s == "" {
			continue
		}
		tag, pos := parseStep(s)
		if tag == "" {
			return nil
		}
		cur = nthChild(cur, tag, pos)
		if cur == nil {
			return nil
		}
	}
	if cur == doc {
		return nil
	}
	return cur
}

// parseStep parses "div" or "div[2]". Positions are 1-based; 1 is assumed
// when absent.
func parseStep(s string) (string, int) {
	idx := strings.IndexByte(s, '[')
	if idx < 0 {
		return s, 1
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s[idx+1:], "]"))
	if err != nil || n < 1 {
		return "", 0
	}
	return s[:idx], n
}

func nthChild(parent *html.Node, tag string, pos int) *html.Node {
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			seen++
			if seen == pos {
				return c
			}
		}
	}
	return nil
}
