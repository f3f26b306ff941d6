// Package classify decides which nodes of a chat page are user messages and
// normalises any node inside a message to the message's canonical container.
package classify

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/dom"
)

// Default selectors for the chat page markup.
const (
	DefaultUserMarker       = `[data-message-author-role="user"]`
	DefaultGroupMarker      = `.group.w-full`
	DefaultMessageID        = `div[data-message-id]`
	DefaultConversationTurn = `[data-testid^="conversation-turn"]`
)

// DefaultFallbacks is the ordered list of selectors scanned for messages
// when the framework message id is not enough.
var DefaultFallbacks = []string{
	`[data-message-author-role="user"]`,
	`[data-message-id]`,
	`.group.w-full.text-token-text-primary[data-testid*="conversation-turn"]`,
	`div[class*="agent-turn"]:has(div[data-message-author-role="user"])`,
}

// Selectors holds the selector sources. Empty fields take the defaults.
type Selectors struct {
	UserMarker       string   `yaml:"user_marker" json:"user_marker"`
	GroupMarker      string   `yaml:"group_marker" json:"group_marker"`
	MessageID        string   `yaml:"message_id" json:"message_id"`
	ConversationTurn string   `yaml:"conversation_turn" json:"conversation_turn"`
	Fallbacks        []string `yaml:"fallbacks" json:"fallbacks"`
}

// Classifier holds compiled selectors. It is immutable and safe to share.
type Classifier struct {
	user      *dom.Selector
	group     *dom.Selector
	messageID *dom.Selector
	turn      *dom.Selector
	fallbacks []*dom.Selector
}

// New compiles the selectors.
func New(s Selectors) (*Classifier, error) {
	if s.UserMarker == "" {
		s.UserMarker = DefaultUserMarker
	}
	if s.GroupMarker == "" {
		s.GroupMarker = DefaultGroupMarker
	}
	if s.MessageID == "" {
		s.MessageID = DefaultMessageID
	}
	if s.ConversationTurn == "" {
		s.ConversationTurn = DefaultConversationTurn
	}
	if len(s.Fallbacks) == 0 {
		s.Fallbacks = DefaultFallbacks
	}

	c := &Classifier{}
	var err error
	for _, f := range []struct {
		dst **dom.Selector
		src string
	}{
		{&c.user, s.UserMarker},
		{&c.group, s.GroupMarker},
		{&c.messageID, s.MessageID},
		{&c.turn, s.ConversationTurn},
	} {
		if *f.dst, err = dom.Compile(f.src); err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
	}
	for _, src := range s.Fallbacks {
		sel, err := dom.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("classify: fallback: %w", err)
		}
		c.fallbacks = append(c.fallbacks, sel)
	}
	return c, nil
}

// Default returns a classifier over the default selectors.
func Default() *Classifier {
	c, err := New(Selectors{})
	if err != nil {
		panic(err)
	}
	return c
}

// IsUserMessage reports whether n or one of its ancestors carries the
// user-authored marker.
func (c *Classifier) IsUserMessage(n *html.Node) bool {
	return dom.Closest(n, c.user) != nil
}

// FindMessageContainer walks up from n to the canonical message container:
// the closest user-authored element, else the closest message group, else n.
func (c *Classifier) FindMessageContainer(n *html.Node) *html.Node {
	if m := dom.Closest(n, c.user); m != nil {
		return m
	}
	if g := dom.Closest(n, c.group); g != nil {
		return g
	}
	return n
}

// IsFrameworkMessage reports whether n carries a framework-assigned message id.
func (c *Classifier) IsFrameworkMessage(n *html.Node) bool {
	return c.messageID.Match(n)
}

// FrameworkMessages returns every element under root with a framework
// message id, in document order.
func (c *Classifier) FrameworkMessages(root *html.Node) []*html.Node {
	return dom.QueryAll(root, c.messageID)
}

// Candidates returns the descendants of root matched by the fallback
// selectors, in selector order and then document order. root itself is not
// included. An element matched by several selectors appears once per match;
// callers deduplicate through fingerprints.
func (c *Classifier) Candidates(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	for _, sel := range c.fallbacks {
		for ch := root.FirstChild; ch != nil; ch = ch.NextSibling {
			out = append(out, dom.QueryAll(ch, sel)...)
		}
	}
	return out
}

// ConversationTurn returns the closest conversation turn around n, or nil.
func (c *Classifier) ConversationTurn(n *html.Node) *html.Node {
	return dom.Closest(n, c.turn)
}
