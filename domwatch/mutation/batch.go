// Package mutation defines the structural-change events the page observer
// emits. Consumers (the coordinator, debug sinks) import this package to
// receive them.
package mutation

import (
	"time"

	"github.com/google/uuid"
)

// Op is the type of DOM change observed.
type Op string

const (
	OpInsert   Op = "insert"    // element added under the observed root
	OpRemove   Op = "remove"    // element removed
	OpDocReset Op = "doc_reset" // document replaced: a new document lifetime
	OpNavigate Op = "navigate"  // SPA route change inside the same document
)

// Element is the DOM nodeType of an element.
const Element = 1

// Record is a single change. XPath addresses the node in the document at
// the time of the change, in the format produced by dom.XPath.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	NodeType int    `json:"node_type,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Value    string `json:"value,omitempty"` // new URL for navigate
}

// Batch is every change collected during one debounce window.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	PageURL   string   `json:"page_url"`
	PageID    string   `json:"page_id"`
	Seq       uint64   `json:"seq"` // per page, for gap detection
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at flush
}

// Inserts returns the element insert records of b.
func (b *Batch) Inserts() []Record {
	var out []Record
	for _, r := range b.Records {
		if r.Op == OpInsert && (r.NodeType == 0 || r.NodeType == Element) {
			out = append(out, r)
		}
	}
	return out
}

// HasReset reports whether b contains a document reset.
func (b *Batch) HasReset() bool {
	for _, r := range b.Records {
		if r.Op == OpDocReset {
			return true
		}
	}
	return false
}

// NewID returns a time-sortable UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now returns the current time in epoch milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
