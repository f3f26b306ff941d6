package mutation

// Snapshot is a complete serialised DOM, emitted when observation starts,
// after a navigation and after a document reset.
type Snapshot struct {
	ID        string `json:"id"` // UUIDv7
	PageURL   string `json:"page_url"`
	PageID    string `json:"page_id"`
	Reason    string `json:"reason"` // start, navigate, reset
	HTML      []byte `json:"html"`
	HTMLHash  string `json:"html_hash"` // SHA-256 hex
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}
