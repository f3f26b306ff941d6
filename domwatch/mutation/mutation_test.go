package mutation

import (
	"strings"
	"testing"
)

func TestBatch_Inserts(t *testing.T) {
	b := &Batch{Records: []Record{
		{Op: OpInsert, XPath: "/html/body/main/div[3]", NodeType: Element, Tag: "div"},
		{Op: OpInsert, XPath: "/html/body/main/div[3]/p", NodeType: 3},
		{Op: OpRemove, XPath: "/html/body/main/div[1]"},
		{Op: OpInsert, XPath: "/html/body/main/section"},
	}}
	got := b.Inserts()
	if len(got) != 2 {
		t.Fatalf("Inserts: got %d, want 2", len(got))
	}
	if got[1].XPath != "/html/body/main/section" {
		t.Errorf("Inserts[1]: got %q", got[1].XPath)
	}
	if b.HasReset() {
		t.Error("HasReset: got true")
	}
	b.Records = append(b.Records, Record{Op: OpDocReset})
	if !b.HasReset() {
		t.Error("HasReset: got false")
	}
}

func TestUnmarshalRecords_ObserverPayload(t *testing.T) {
	payload := `[{"op":"insert","xpath":"/html/body/main/div[2]","node_type":1,"tag":"div"},{"op":"navigate","xpath":"","value":"https://chatgpt.com/c/abc"}]`
	recs, err := UnmarshalRecords([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Op != OpInsert || recs[1].Value != "https://chatgpt.com/c/abc" {
		t.Errorf("UnmarshalRecords: got %+v", recs)
	}
	if _, err := UnmarshalRecords([]byte(`{`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 36 || strings.Count(a, "-") != 4 {
		t.Errorf("NewID: malformed %q", a)
	}
	if a == b {
		t.Error("NewID: duplicate")
	}
	if a[14] != '7' {
		t.Errorf("NewID: version nibble %q, want 7", a[14])
	}
}

func TestHashHTML(t *testing.T) {
	if got := HashHTML([]byte("")); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashHTML: got %s", got)
	}
}
