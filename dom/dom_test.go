package dom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

var testHTML = []byte(`<!DOCTYPE html>
<html>
<head><title>Chat</title></head>
<body>
<main>
<div class="group w-full text-token-text-primary" data-testid="conversation-turn-2">
  <div class="agent-turn">
    <div data-message-author-role="user" data-message-id="m1"><p>Hello <b>there</b></p></div>
  </div>
  <time datetime="2024-01-05T13:30:05.000Z">yesterday</time>
</div>
<div class="group w-full" data-testid="conversation-turn-3">
  <div data-message-author-role="assistant" data-message-id="m2"><p>Hi!</p></div>
</div>
</main>
</body>
</html>`)

func parseTest(t *testing.T) *html.Node {
	t.Helper()
	doc, err := Parse(testHTML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestSelector_Compound(t *testing.T) {
	doc := parseTest(t)

	cases := []struct {
		sel  string
		want int
	}{
		{`div`, 5},
		{`[data-message-author-role="user"]`, 1},
		{`[data-message-id]`, 2},
		{`div[data-message-id]`, 2},
		{`.group.w-full`, 2},
		{`.group.w-full.text-token-text-primary[data-testid*="conversation-turn"]`, 1},
		{`[data-testid^="conversation-turn"]`, 2},
		{`[data-testid$="-3"]`, 1},
		{`div[class*="agent-turn"]:has(div[data-message-author-role="user"])`, 1},
		{`main > div`, 2},
		{`main p b`, 1},
		{`time[datetime]`, 1},
		{`p, time`, 3},
		{`*[data-message-id=m2]`, 1},
		{`div[class~="w-full"]`, 2},
	}
	for _, c := range cases {
		sel, err := Compile(c.sel)
		if err != nil {
			t.Fatalf("Compile(%q): %v", c.sel, err)
		}
		got := len(QueryAll(doc, sel))
		if got != c.want {
			t.Errorf("QueryAll(%q): got %d, want %d", c.sel, got, c.want)
		}
	}
}

func TestSelector_CompileErrors(t *testing.T) {
	for _, bad := range []string{``, `div[`, `div[data-x="y`, `div:hover`, `div:has(p`, `.`, `div ~ p`} {
		if _, err := Compile(bad); err == nil {
			t.Errorf("Compile(%q): expected error", bad)
		}
	}
}

func TestClosest(t *testing.T) {
	doc := parseTest(t)
	b := QueryAll(doc, MustCompile("b"))[0]

	user := Closest(b, MustCompile(`[data-message-author-role="user"]`))
	if user == nil || Attr(user, "data-message-id") != "m1" {
		t.Fatalf("Closest user: got %v", user)
	}

	turn := Closest(b, MustCompile(`[data-testid^="conversation-turn"]`))
	if turn == nil || Attr(turn, "data-testid") != "conversation-turn-2" {
		t.Errorf("Closest turn: got %v", turn)
	}

	if Closest(b, MustCompile("nav")) != nil {
		t.Error("Closest nav: expected nil")
	}
}

func TestTextContent(t *testing.T) {
	doc := parseTest(t)
	user := QueryAll(doc, MustCompile(`[data-message-author-role="user"]`))[0]
	if got := TextContent(user); got != "Hello there" {
		t.Errorf("TextContent: got %q, want %q", got, "Hello there")
	}

	turn := QueryAll(doc, MustCompile(`[data-testid="conversation-turn-2"]`))[0]
	got := TextContent(turn)
	if !strings.Contains(got, "Hello there") || !strings.Contains(got, "yesterday") {
		t.Errorf("TextContent turn: got %q", got)
	}
	if strings.TrimSpace(got) == got {
		t.Error("TextContent should keep whitespace verbatim")
	}
}

func TestXPathLocateRoundtrip(t *testing.T) {
	doc := parseTest(t)
	for _, n := range QueryAll(doc, MustCompile("div, p, b, time")) {
		xp := XPath(n)
		if got := Locate(doc, xp); got != n {
			t.Errorf("Locate(%q): got %v, want original node", xp, got)
		}
	}
}

func TestXPath_Format(t *testing.T) {
	doc := parseTest(t)
	second := QueryAll(doc, MustCompile(`[data-testid="conversation-turn-3"]`))[0]
	if got, want := XPath(second), "/html/body/main/div[2]"; got != want {
		t.Errorf("XPath: got %q, want %q", got, want)
	}
	b := QueryAll(doc, MustCompile("b"))[0]
	if got, want := XPath(b), "/html/body/main/div[1]/div/div/p/b"; got != want {
		t.Errorf("XPath: got %q, want %q", got, want)
	}
}

func TestLocate_Missing(t *testing.T) {
	doc := parseTest(t)
	for _, xp := range []string{"", "html", "/html/body/main/div[9]", "/html/body/nav", "/html/body/main/div[x]"} {
		if got := Locate(doc, xp); got != nil {
			t.Errorf("Locate(%q): expected nil, got %v", xp, got)
		}
	}
}

func TestAttached(t *testing.T) {
	doc := parseTest(t)
	p := QueryAll(doc, MustCompile("p"))[0]
	if !Attached(p) {
		t.Fatal("expected attached")
	}
	parent := p.Parent
	parent.RemoveChild(p)
	if Attached(p) {
		t.Error("expected detached after RemoveChild")
	}
	if TextContent(p) != "Hello there" {
		t.Error("detached node should keep its text")
	}
}
