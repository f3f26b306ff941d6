package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/display"
	"github.com/hazyhaar/hovertime/dom"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
	"github.com/hazyhaar/hovertime/fingerprint"
	"github.com/hazyhaar/hovertime/resolve"
	"github.com/hazyhaar/hovertime/store"
)

const page = `<html><body><main>
<div class="group w-full text-token-text-primary" data-testid="conversation-turn-1">
  <div data-message-author-role="user" data-message-id="u1"><p>First question</p></div>
  <time datetime="2024-01-05T13:30:05.000Z"></time>
</div>
<div class="group w-full" data-testid="conversation-turn-2">
  <div data-message-author-role="assistant" data-message-id="a1"><p>An answer</p></div>
</div>
<div class="group w-full" data-testid="conversation-turn-3">
  <div data-message-author-role="user" data-message-id="u2"><p>Second question</p></div>
</div>
</main></body></html>`

var (
	fpFirst  = fingerprint.Of("First question")
	fpSecond = fingerprint.Of("Second question")
	fpAnswer = fingerprint.Of("An answer")
)

type fakeAttacher struct {
	mu       sync.Mutex
	attached []string
	labels   map[string]string
	detaches int
	panicOn  string
}

func (f *fakeAttacher) Attach(_ context.Context, container *html.Node, fp, label string) error {
	if fp == f.panicOn {
		panic("attacher exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, fp)
	if f.labels == nil {
		f.labels = make(map[string]string)
	}
	f.labels[fp] = label
	return nil
}

func (f *fakeAttacher) DetachAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detaches++
	f.attached = nil
	return nil
}

func (f *fakeAttacher) count(fp string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attached {
		if a == fp {
			n++
		}
	}
	return n
}

func (f *fakeAttacher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

// messageIDProbe answers create_time by data-message-id.
type messageIDProbe map[string]float64

func (p messageIDProbe) CreateTime(_ context.Context, n *html.Node) (float64, bool) {
	v, ok := p[dom.Attr(n, "data-message-id")]
	return v, ok
}

type harness struct {
	c   *Coordinator
	att *fakeAttacher
	doc *html.Node
	ts  *store.Timestamps
	kv  *store.MemoryKV
	ctx context.Context
}

type option func(*Config)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	doc, err := dom.Parse([]byte(page))
	if err != nil {
		t.Fatal(err)
	}
	kv := store.NewMemoryKV()
	h := &harness{att: &fakeAttacher{}, doc: doc, kv: kv}
	h.ts = store.NewTimestamps(kv, "", nil)

	cfg := Config{
		Document:         StaticDocument(doc),
		Attacher:         h.att,
		Timestamps:       h.ts,
		Settings:         store.NewSettings(kv, "", display.Defaults(), nil),
		Location:         time.UTC,
		StateAttachDelay: 5 * time.Millisecond,
		RetryDelay:       20 * time.Millisecond,
		RescanDelay:      40 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.c, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.ctx = ctx
	go h.c.Run(ctx)
	h.barrier(t)
	return h
}

// barrier waits until every event queued so far, including the initial
// scan, has run.
func (h *harness) barrier(t *testing.T) {
	t.Helper()
	if err := h.c.call(h.ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

// onLoop runs fn on the event loop so document edits never race with it.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	if err := h.c.call(h.ctx, func(context.Context) error { fn(); return nil }); err != nil {
		t.Fatalf("onLoop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func byMessageID(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	n := dom.QueryFirst(doc, dom.MustCompile(`[data-message-id="`+id+`"]`))
	if n == nil {
		t.Fatalf("no message %s", id)
	}
	return n
}

func TestInitialScan_MarkupPath(t *testing.T) {
	h := newHarness(t)

	if got, _ := h.ts.Get(fpFirst); got != "2024-01-05T13:30:05.000Z" {
		t.Errorf("stored: got %q", got)
	}
	if h.att.count(fpFirst) != 1 {
		t.Errorf("attach first: got %d, want 1", h.att.count(fpFirst))
	}
	if h.att.count(fpSecond) != 0 {
		t.Error("unresolved message must not be attached")
	}
	if h.att.count(fpAnswer) != 0 {
		t.Error("assistant message without state must not be attached")
	}
	if label := h.att.labels[fpFirst]; !strings.Contains(label, "Jan 5, 2024 - 1:30:05 PM") {
		t.Errorf("label: got %q", label)
	}

	raw, err := h.kv.Get(context.Background(), store.DefaultTimestampsKey)
	if err != nil || !strings.Contains(raw, fpFirst) {
		t.Errorf("persisted blob: got %q %v", raw, err)
	}
}

func TestScan_Idempotent(t *testing.T) {
	h := newHarness(t)
	before := h.ts.Len()
	for range 2 {
		if err := h.c.Scan(h.ctx); err != nil {
			t.Fatal(err)
		}
	}
	if h.ts.Len() != before {
		t.Errorf("stored: got %d, want %d", h.ts.Len(), before)
	}
	if h.att.total() != 1 {
		t.Errorf("attachments: got %d, want 1", h.att.total())
	}
}

func TestRefresh_ReattachesOncePerFingerprint(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Refresh(h.ctx); err != nil {
		t.Fatal(err)
	}
	if h.att.detaches != 1 {
		t.Errorf("detaches: got %d, want 1", h.att.detaches)
	}
	if h.att.count(fpFirst) != 1 {
		t.Errorf("attach after refresh: got %d, want 1", h.att.count(fpFirst))
	}
	if err := h.c.Scan(h.ctx); err != nil {
		t.Fatal(err)
	}
	if h.att.total() != 1 {
		t.Errorf("attachments after rescan: got %d, want 1", h.att.total())
	}
}

func TestRefresh_UsesNewSettings(t *testing.T) {
	h := newHarness(t)
	fmt24 := "24h"
	if _, _, err := h.c.cfg.Settings.Update(h.ctx, display.Patch{TimeFormat: &fmt24}); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Refresh(h.ctx); err != nil {
		t.Fatal(err)
	}
	if label := h.att.labels[fpFirst]; !strings.Contains(label, "Jan 5, 2024 - 13:30:05") {
		t.Errorf("label after refresh: got %q", label)
	}
}

func TestWriteOnceWins(t *testing.T) {
	doc, _ := dom.Parse([]byte(page))
	kv := store.NewMemoryKV()
	ts := store.NewTimestamps(kv, "", nil)
	ts.PutIfAbsent(fpFirst, "2020-01-01T00:00:00.000Z")
	ts.Save(context.Background())

	att := &fakeAttacher{}
	c, err := New(Config{
		Document:   StaticDocument(doc),
		Attacher:   att,
		Timestamps: store.NewTimestamps(kv, "", nil),
		Settings:   store.NewSettings(kv, "", display.Defaults(), nil),
		Location:   time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.cfg.Timestamps.Get(fpFirst); got != "2020-01-01T00:00:00.000Z" {
		t.Errorf("stored value overwritten: got %q", got)
	}
	if att.count(fpFirst) != 1 {
		t.Errorf("attach: got %d, want 1", att.count(fpFirst))
	}
}

func TestPathA_FrameworkState(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Probe = messageIDProbe{"a1": 1704461405, "u1": 1700000000}
	})

	if got, _ := h.ts.Get(fpAnswer); got != "2024-01-05T13:30:05.000Z" {
		t.Errorf("assistant via state: got %q", got)
	}
	// State beats markup for u1, and path B must not attach it a second time.
	if got, _ := h.ts.Get(fpFirst); got != "2023-11-14T22:13:20.000Z" {
		t.Errorf("user via state: got %q", got)
	}
	if h.att.count(fpFirst) != 1 || h.att.count(fpAnswer) != 1 {
		t.Errorf("attach counts: first=%d answer=%d", h.att.count(fpFirst), h.att.count(fpAnswer))
	}
}

func TestRetry_LateMarkup(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RetryDelay = 150 * time.Millisecond })
	turn := dom.Closest(byMessageID(t, h.doc, "u2"), dom.MustCompile(`[data-testid^="conversation-turn"]`))
	h.onLoop(t, func() {
		turn.AppendChild(&html.Node{Type: html.ElementNode, Data: "time",
			Attr: []html.Attribute{{Key: "datetime", Val: "2024-03-07T09:05:00.000Z"}}})
	})

	waitFor(t, "retry to resolve second message", func() bool {
		_, ok := h.ts.Get(fpSecond)
		return ok
	})
	waitFor(t, "retry to attach", func() bool { return h.att.count(fpSecond) == 1 })
	if s := h.c.Stats(); s.Retries != 1 {
		t.Errorf("retries: got %d, want 1", s.Retries)
	}
}

func TestRetry_MissIsTerminal(t *testing.T) {
	h := newHarness(t)
	waitFor(t, "retry miss", func() bool { return h.c.Stats().Misses == 1 })

	// Markup arriving after the retry is not picked up by later scans.
	turn := dom.Closest(byMessageID(t, h.doc, "u2"), dom.MustCompile(`[data-testid^="conversation-turn"]`))
	h.onLoop(t, func() {
		turn.AppendChild(&html.Node{Type: html.ElementNode, Data: "time",
			Attr: []html.Attribute{{Key: "datetime", Val: "2024-03-07T09:05:00.000Z"}}})
	})
	if err := h.c.Scan(h.ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.ts.Get(fpSecond); ok {
		t.Error("processed message must stay unresolved until refresh")
	}

	if err := h.c.Refresh(h.ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.ts.Get(fpSecond); got != "2024-03-07T09:05:00.000Z" {
		t.Errorf("after refresh: got %q", got)
	}
}

func TestRetry_RemovedNodeIsNoop(t *testing.T) {
	h := newHarness(t)
	u2 := byMessageID(t, h.doc, "u2")
	turn := u2.Parent
	h.onLoop(t, func() { turn.Parent.RemoveChild(turn) })

	waitFor(t, "retry miss", func() bool { return h.c.Stats().Misses == 1 })
	if h.att.count(fpSecond) != 0 {
		t.Error("removed message attached")
	}
}

func TestBatch_InsertedMessage(t *testing.T) {
	h := newHarness(t)
	main := dom.QueryFirst(h.doc, dom.MustCompile("main"))

	frag, err := html.ParseFragment(strings.NewReader(
		`<div class="group w-full" data-testid="conversation-turn-4"><div data-message-author-role="user"><p>Third question</p></div><time datetime="2024-12-25T18:01:02Z"></time></div>`),
		main)
	if err != nil {
		t.Fatal(err)
	}
	var xpath string
	h.onLoop(t, func() {
		for _, n := range frag {
			main.AppendChild(n)
		}
		xpath = dom.XPath(frag[0])
	})

	err = h.c.Send(h.ctx, mutation.Batch{Seq: 1, Records: []mutation.Record{
		{Op: mutation.OpInsert, XPath: xpath, NodeType: mutation.Element, Tag: "div"},
		{Op: mutation.OpInsert, XPath: "/html/body/main/div[99]", NodeType: mutation.Element, Tag: "div"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	h.barrier(t)

	fp := fingerprint.Of("Third question")
	if got, _ := h.ts.Get(fp); got != "2024-12-25T18:01:02Z" {
		t.Errorf("inserted message: got %q", got)
	}
	if h.att.count(fp) != 1 {
		t.Errorf("attach inserted: got %d, want 1", h.att.count(fp))
	}
}

func TestBatch_FrameworkInsertWaitsForState(t *testing.T) {
	probe := messageIDProbe{}
	var mu sync.Mutex
	h := newHarness(t, func(c *Config) {
		c.Probe = resolve.StateProbeFunc(func(ctx context.Context, n *html.Node) (float64, bool) {
			mu.Lock()
			defer mu.Unlock()
			return probe.CreateTime(ctx, n)
		})
	})

	a1 := byMessageID(t, h.doc, "a1")
	mu.Lock()
	probe["a1"] = 1704461405
	mu.Unlock()

	if err := h.c.Send(h.ctx, mutation.Batch{Records: []mutation.Record{
		{Op: mutation.OpInsert, XPath: dom.XPath(a1), NodeType: mutation.Element},
	}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "path A attach", func() bool { return h.att.count(fpAnswer) == 1 })
}

func TestBatch_DebouncedRescan(t *testing.T) {
	h := newHarness(t)
	start := h.c.Stats().Scans
	for i := range 3 {
		if err := h.c.Send(h.ctx, mutation.Batch{Seq: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "rescan", func() bool { return h.c.Stats().Scans == start+1 })
	time.Sleep(100 * time.Millisecond)
	if got := h.c.Stats().Scans; got != start+1 {
		t.Errorf("scans: got %d, want %d", got, start+1)
	}
}

func TestBatch_DocResetRefreshes(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Send(h.ctx, mutation.Batch{Records: []mutation.Record{{Op: mutation.OpDocReset}}}); err != nil {
		t.Fatal(err)
	}
	h.barrier(t)
	if h.c.Stats().Refreshes != 1 || h.att.detaches != 1 {
		t.Errorf("refreshes=%d detaches=%d, want 1/1", h.c.Stats().Refreshes, h.att.detaches)
	}
}

func TestSnapshot_ScansIdempotently(t *testing.T) {
	h := newHarness(t)
	if err := h.c.SendSnapshot(h.ctx, mutation.Snapshot{Reason: "navigate"}); err != nil {
		t.Fatal(err)
	}
	h.barrier(t)
	if h.att.total() != 1 || h.c.Stats().Refreshes != 0 {
		t.Errorf("attachments=%d refreshes=%d", h.att.total(), h.c.Stats().Refreshes)
	}
}

func TestAttachments(t *testing.T) {
	h := newHarness(t)
	got, err := h.c.Attachments(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Fingerprint != fpFirst || !strings.Contains(got[0].HTML, "First question") {
		t.Errorf("Attachments: got %+v", got)
	}
}

func TestPanicInAttacherIsContained(t *testing.T) {
	doc, _ := dom.Parse([]byte(page))
	kv := store.NewMemoryKV()
	att := &fakeAttacher{panicOn: fpFirst}
	c, err := New(Config{
		Document:   StaticDocument(doc),
		Attacher:   att,
		Timestamps: store.NewTimestamps(kv, "", nil),
		Settings:   store.NewSettings(kv, "", display.Defaults(), nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	if err := c.Scan(ctx); err != nil {
		t.Fatalf("loop died: %v", err)
	}
}

func TestStopped(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.c.Scan(ctx); err == nil {
		t.Error("Scan with cancelled ctx: expected error")
	}

	kv := store.NewMemoryKV()
	c, _ := New(Config{
		Document:   StaticDocument(h.doc),
		Attacher:   &fakeAttacher{},
		Timestamps: store.NewTimestamps(kv, "", nil),
		Settings:   store.NewSettings(kv, "", display.Defaults(), nil),
	})
	if err := c.Send(context.Background(), mutation.Batch{}); err != ErrStopped {
		t.Errorf("Send before Run: got %v, want ErrStopped", err)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(empty): expected error")
	}
}
