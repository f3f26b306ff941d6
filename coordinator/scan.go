package coordinator

import (
	"context"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/display"
	"github.com/hazyhaar/hovertime/dom"
	"github.com/hazyhaar/hovertime/domwatch/mutation"
	"github.com/hazyhaar/hovertime/fingerprint"
)

// scan walks the whole document. Path A reads framework state on every
// element with a framework message id. Path B runs the classifier and the
// resolver on every user message the fallback selectors find.
func (c *Coordinator) scan(ctx context.Context) {
	c.scans.Add(1)
	doc, err := c.cfg.Document.Document(ctx)
	if err != nil {
		c.logger.Warn("coordinator: scan: document unavailable", "error", err)
		return
	}
	for _, n := range c.cfg.Classifier.FrameworkMessages(doc) {
		c.processFramework(ctx, n)
	}
	for _, n := range c.cfg.Classifier.Candidates(doc) {
		if c.cfg.Classifier.IsUserMessage(n) {
			c.processMessage(ctx, n)
		}
	}
	c.logger.Debug("coordinator: scan done",
		"processed", len(c.sess.processed), "attached", len(c.sess.attached))
}

// refresh detaches every overlay and rescans from a clean session.
func (c *Coordinator) refresh(ctx context.Context, reason string) {
	c.refreshes.Add(1)
	if err := c.cfg.Attacher.DetachAll(ctx); err != nil {
		c.logger.Warn("coordinator: refresh: detach failed", "error", err)
	}
	c.sess.reset(c.cfg.Settings.Current())
	c.attachedGauge.Store(0)
	c.logger.Info("coordinator: refresh", "reason", reason)
	c.scan(ctx)
}

// handleBatch processes the inserted elements of one observer batch and
// re-arms the safety-net rescan.
func (c *Coordinator) handleBatch(ctx context.Context, b mutation.Batch) {
	c.batches.Add(1)
	if b.HasReset() {
		c.refresh(ctx, "doc_reset")
		return
	}
	defer c.armRescan()

	inserts := b.Inserts()
	if len(inserts) == 0 {
		return
	}
	doc, err := c.cfg.Document.Document(ctx)
	if err != nil {
		c.logger.Warn("coordinator: batch: document unavailable", "seq", b.Seq, "error", err)
		return
	}

	cls := c.cfg.Classifier
	for _, r := range inserts {
		n := dom.Locate(doc, r.XPath)
		if n == nil {
			// Removed again before we looked.
			continue
		}
		if cls.IsFrameworkMessage(n) {
			xpath := r.XPath
			c.after(c.cfg.StateAttachDelay, func(lctx context.Context) {
				c.processFrameworkAt(lctx, xpath)
			})
		}
		if cls.IsUserMessage(n) {
			c.processMessage(ctx, n)
		}
		for _, m := range cls.Candidates(n) {
			if cls.IsUserMessage(m) {
				c.processMessage(ctx, m)
			}
		}
	}
}

// armRescan replaces the pending rescan, if any, with a new one.
func (c *Coordinator) armRescan() {
	if c.sess.rescan != nil {
		c.sess.rescan.Stop()
	}
	c.sess.rescan = c.after(c.cfg.RescanDelay, c.scan)
}

// processFrameworkAt runs path A on the element at xpath in a fresh document.
func (c *Coordinator) processFrameworkAt(ctx context.Context, xpath string) {
	doc, err := c.cfg.Document.Document(ctx)
	if err != nil {
		return
	}
	n := dom.Locate(doc, xpath)
	if n == nil || !c.cfg.Classifier.IsFrameworkMessage(n) {
		return
	}
	c.processFramework(ctx, n)
}

// processFramework is path A: framework state only, no classifier and no
// retry. Elements without usable state are left to path B and to later
// scans.
func (c *Coordinator) processFramework(ctx context.Context, n *html.Node) {
	if !dom.Attached(n) {
		return
	}
	iso, ok := c.resolver.FromState(ctx, n)
	if !ok {
		return
	}
	fp := fingerprint.Node(n)
	c.record(ctx, fp, iso)
	c.attach(ctx, fp, n)
}

// processMessage is path B for one candidate node.
func (c *Coordinator) processMessage(ctx context.Context, node *html.Node) {
	container := c.cfg.Classifier.FindMessageContainer(node)
	if !dom.Attached(container) {
		return
	}
	fp := fingerprint.Node(container)
	if !c.sess.markProcessed(fp) {
		return
	}
	c.processed.Add(1)

	if _, ok := c.cfg.Timestamps.Get(fp); !ok {
		iso, ok := c.resolver.Resolve(ctx, container)
		if !ok {
			c.retry(ctx, fp, dom.XPath(container))
			return
		}
		c.record(ctx, fp, iso)
	}
	c.attach(ctx, fp, container)
}

// retry schedules the single delayed resolution for fp. The container is
// looked up again by path and must still carry the same fingerprint.
func (c *Coordinator) retry(ctx context.Context, fp, xpath string) {
	c.retries.Add(1)
	var found *html.Node
	locate := func(lctx context.Context) *html.Node {
		doc, err := c.cfg.Document.Document(lctx)
		if err != nil {
			return nil
		}
		n := dom.Locate(doc, xpath)
		if n == nil || fingerprint.Node(n) != fp {
			return nil
		}
		found = n
		return n
	}
	c.resolver.ResolveLater(ctx, locate, func(iso string, ok bool) {
		if !ok {
			c.misses.Add(1)
			c.logger.Debug("coordinator: unresolved", "fingerprint", fp)
			return
		}
		c.record(ctx, fp, iso)
		c.attach(ctx, fp, found)
	})
}

// record stores iso for fp unless a value is already there, and persists
// the full mapping when it changed.
func (c *Coordinator) record(ctx context.Context, fp, iso string) {
	if !c.cfg.Timestamps.PutIfAbsent(fp, iso) {
		return
	}
	c.resolved.Add(1)
	c.cfg.Timestamps.Save(ctx)
	c.logger.Debug("coordinator: resolved", "fingerprint", fp, "timestamp", iso)
}

// attach shows the stored timestamp of fp on container, at most once per
// refresh epoch.
func (c *Coordinator) attach(ctx context.Context, fp string, container *html.Node) {
	if container == nil {
		return
	}
	if _, ok := c.sess.attached[fp]; ok {
		return
	}
	iso, ok := c.cfg.Timestamps.Get(fp)
	if !ok {
		return
	}
	s := c.sess.settings
	label := display.Label(display.FormatISO(iso, s, c.cfg.Location), s)
	if err := c.cfg.Attacher.Attach(ctx, container, fp, label); err != nil {
		c.logger.Debug("coordinator: attach failed", "fingerprint", fp, "error", err)
		return
	}
	c.sess.attached[fp] = Attachment{
		Fingerprint: fp,
		Timestamp:   iso,
		XPath:       dom.XPath(container),
		HTML:        dom.InnerHTML(container),
		AttachedAt:  time.Now(),
	}
	c.attachedGauge.Store(int64(len(c.sess.attached)))
}
