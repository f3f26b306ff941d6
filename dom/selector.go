// Package dom provides the small DOM toolkit the message core runs on:
// a CSS selector engine over golang.org/x/net/html trees, ancestor walks,
// DOM-compatible text content and XPath addressing shared with the live page.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled selector group ("a, b").
//
// Supported syntax:
//   - tag, *, #id, .class (repeatable: .group.w-full)
//   - [attr], [attr=v], [attr^=v], [attr*=v], [attr$=v], [attr~=v]
//   - :has(selector): true when a descendant matches
//   - descendant (whitespace) and child (>) combinators
type Selector struct {
	raw   string
	group []complexSel
}

type combinator byte

const (
	descendant combinator = ' '
	child      combinator = '>'
)

// complexSel is a chain of compounds. comb[i] joins parts[i] to parts[i+1].
type complexSel struct {
	parts []compound
	comb  []combinator
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSel
	has     []*Selector
}

type attrSel struct {
	key string
	op  string // "", "=", "^=", "*=", "$=", "~="
	val string
}

// Compile parses a selector group.
func Compile(sel string) (*Selector, error) {
	p := &parser{src: sel}
	group, err := p.parseGroup(0)
	if err != nil {
		return nil, fmt.Errorf("dom: compile %q: %w", sel, err)
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("dom: compile %q: unexpected %q at %d", sel, p.src[p.pos], p.pos)
	}
	return &Selector{raw: sel, group: group}, nil
}

// MustCompile is Compile that panics on error. For package-level defaults.
func MustCompile(sel string) *Selector {
	s, err := Compile(sel)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source text.
func (s *Selector) String() string { return s.raw }

// Match reports whether n is an element matching the selector.
func (s *Selector) Match(n *html.Node) bool {
	if s == nil || n == nil || n.Type != html.ElementNode {
		return false
	}
	for i := range s.group {
		if s.group[i].match(n, len(s.group[i].parts)-1) {
			return true
		}
	}
	return false
}

// QueryAll returns every element under root (root included) matching sel,
// in document order.
func QueryAll(root *html.Node, sel *Selector) []*html.Node {
	var results []*html.Node
	Walk(root, func(n *html.Node) {
		if sel.Match(n) {
			results = append(results, n)
		}
	})
	return results
}

// QueryFirst returns the first descendant of root (root excluded) matching
// sel, or nil.
func QueryFirst(root *html.Node, sel *Selector) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if sel.Match(c) {
			return c
		}
		if found := QueryFirst(c, sel); found != nil {
			return found
		}
	}
	return nil
}

// Closest walks from n up through its ancestors and returns the first
// element matching sel, or nil.
func Closest(n *html.Node, sel *Selector) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if sel.Match(cur) {
			return cur
		}
	}
	return nil
}

// Walk visits root and all of its descendants depth-first.
func Walk(root *html.Node, fn func(*html.Node)) {
	if root == nil {
		return
	}
	fn(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

func (cs *complexSel) match(n *html.Node, i int) bool {
	if !cs.parts[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch cs.comb[i-1] {
	case child:
		p := parentElement(n)
		return p != nil && cs.match(p, i-1)
	default:
		for p := parentElement(n); p != nil; p = parentElement(p) {
			if cs.match(p, i-1) {
				return true
			}
		}
		return false
	}
}

func parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func (c *compound) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && Attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(Attr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if !a.match(n) {
			return false
		}
	}
	for _, h := range c.has {
		if QueryFirst(n, h) == nil {
			return false
		}
	}
	return true
}

func (a attrSel) match(n *html.Node) bool {
	val, ok := LookupAttr(n, a.key)
	if !ok {
		return false
	}
	switch a.op {
	case "":
		return true
	case "=":
		return val == a.val
	case "^=":
		return a.val != "" && strings.HasPrefix(val, a.val)
	case "*=":
		return a.val != "" && strings.Contains(val, a.val)
	case "$=":
		return a.val != "" && strings.HasSuffix(val, a.val)
	case "~=":
		return contains(strings.Fields(val), a.val)
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// parser is a hand-written recursive descent parser over the selector text.
type parser struct {
	src string
	pos int
}

func (p *parser) parseGroup(depth int) ([]complexSel, error) {
	var group []complexSel
	for {
		p.skipSpace()
		cs, err := p.parseComplex(depth)
		if err != nil {
			return nil, err
		}
		group = append(group, cs)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		return group, nil
	}
}

func (p *parser) parseComplex(depth int) (complexSel, error) {
	var cs complexSel
	for {
		c, err := p.parseCompound(depth)
		if err != nil {
			return cs, err
		}
		cs.parts = append(cs.parts, c)

		sawSpace := p.skipSpace()
		if p.pos >= len(p.src) {
			return cs, nil
		}
		switch ch := p.src[p.pos]; {
		case ch == ',' || (ch == ')' && depth > 0):
			return cs, nil
		case ch == '>':
			p.pos++
			p.skipSpace()
			cs.comb = append(cs.comb, child)
		case sawSpace:
			cs.comb = append(cs.comb, descendant)
		default:
			return cs, fmt.Errorf("unexpected %q at %d", ch, p.pos)
		}
	}
}

func (p *parser) parseCompound(depth int) (compound, error) {
	var c compound
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '*' {
		c.tag = "*"
		p.pos++
	} else {
		c.tag = strings.ToLower(p.ident())
	}

	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '#':
			p.pos++
			c.id = p.ident()
		case '.':
			p.pos++
			cls := p.ident()
			if cls == "" {
				return c, fmt.Errorf("empty class at %d", p.pos)
			}
			c.classes = append(c.classes, cls)
		case '[':
			a, err := p.parseAttr()
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, a)
		case ':':
			if !strings.HasPrefix(p.src[p.pos:], ":has(") {
				return c, fmt.Errorf("unsupported pseudo-class at %d", p.pos)
			}
			p.pos += len(":has(")
			inner, err := p.parseGroup(depth + 1)
			if err != nil {
				return c, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return c, fmt.Errorf("unterminated :has at %d", p.pos)
			}
			p.pos++
			c.has = append(c.has, &Selector{group: inner})
		default:
			if p.pos == start {
				return c, fmt.Errorf("empty selector at %d", p.pos)
			}
			return c, nil
		}
	}
	if p.pos == start {
		return c, fmt.Errorf("empty selector at %d", p.pos)
	}
	return c, nil
}

func (p *parser) parseAttr() (attrSel, error) {
	var a attrSel
	p.pos++ // [
	p.skipSpace()
	a.key = strings.ToLower(p.ident())
	if a.key == "" {
		return a, fmt.Errorf("empty attribute name at %d", p.pos)
	}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return a, fmt.Errorf("unterminated attribute selector")
	}
	if p.src[p.pos] == ']' {
		p.pos++
		return a, nil
	}
	for _, op := range []string{"^=", "*=", "$=", "~=", "="} {
		if strings.HasPrefix(p.src[p.pos:], op) {
			a.op = op
			p.pos += len(op)
			break
		}
	}
	if a.op == "" {
		return a, fmt.Errorf("bad attribute operator at %d", p.pos)
	}
	p.skipSpace()
	val, err := p.value()
	if err != nil {
		return a, err
	}
	a.val = val
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ']' {
		return a, fmt.Errorf("unterminated attribute selector at %d", p.pos)
	}
	p.pos++
	return a, nil
}

func (p *parser) value() (string, error) {
	if p.pos < len(p.src) && (p.src[p.pos] == '"' || p.src[p.pos] == '\'') {
		quote := p.src[p.pos]
		end := strings.IndexByte(p.src[p.pos+1:], quote)
		if end < 0 {
			return "", fmt.Errorf("unterminated string at %d", p.pos)
		}
		v := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return v, nil
	}
	return p.ident(), nil
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '-' || ch == '_' || ch == '$' ||
			(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) skipSpace() bool {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
	return p.pos > start
}
