package domwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ysmood/gson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/display"
	"github.com/hazyhaar/hovertime/dom"
)

// DefaultStatePrefix is the property prefix under which the chat client's
// UI framework keeps its per-element state.
const DefaultStatePrefix = "__reactFiber$"

// ErrNotFound means a node addressed by path is no longer in the page.
var ErrNotFound = errors.New("domwatch: node not found in page")

// evalFunc runs a JavaScript function expression in the live page.
type evalFunc func(ctx context.Context, js string, args ...any) (gson.JSON, error)

const locateJS = `document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`

// probeJS reads messages[0].create_time from the props of the parent of
// the element's state node. Anything missing yields null.
const probeJS = `(xpath, prefix) => {
  const el = ` + locateJS + `;
  if (!el) return null;
  const key = Object.keys(el).find((k) => k.startsWith(prefix));
  if (!key) return null;
  try {
    const t = el[key].return.memoizedProps.messages[0].create_time;
    return typeof t === 'number' ? t : null;
  } catch (e) {
    return null;
  }
}`

// StateProbe reads message creation times from framework state in the
// live page. It implements resolve.StateProbe.
type StateProbe struct {
	eval   evalFunc
	prefix string
}

// CreateTime looks n up in the page by path and returns its create time
// in epoch seconds. Missing or malformed state reports false.
func (p *StateProbe) CreateTime(ctx context.Context, n *html.Node) (float64, bool) {
	xp := dom.XPath(n)
	if xp == "" {
		return 0, false
	}
	v, err := p.eval(ctx, probeJS, xp, p.prefix)
	if err != nil || v.Nil() {
		return 0, false
	}
	f, ok := v.Val().(float64)
	return f, ok
}

const labelCSS = `.` + display.LabelClass + ` {
  position: fixed;
  z-index: 10000;
  padding: 2px 6px;
  font-size: 12px;
  line-height: 14px;
  white-space: nowrap;
  pointer-events: none;
  opacity: 0;
  transition: opacity 0.15s ease-in-out;
}
.` + display.LabelClass + `.visible {
  opacity: 1;
}`

// attachJS installs hover handlers on one element. The label is created on
// mouseenter above the element's top-right corner and removed 200ms after
// mouseleave.
const attachJS = `(xpath, fp, label, css) => {
  const el = ` + locateJS + `;
  if (!el) return false;
  if (!document.getElementById('hovertime-style')) {
    const st = document.createElement('style');
    st.id = 'hovertime-style';
    st.textContent = css;
    document.head.appendChild(st);
  }
  const reg = window.__hovertimeAttached || (window.__hovertimeAttached = []);
  if (reg.some((h) => h.el === el && h.fp === fp)) return true;

  let node = null;
  let timer = null;
  const enter = () => {
    clearTimeout(timer);
    if (!node) {
      const tpl = document.createElement('template');
      tpl.innerHTML = label;
      node = tpl.content.firstElementChild;
      if (!node) return;
      document.body.appendChild(node);
    }
    const r = el.getBoundingClientRect();
    node.style.top = (r.top - 18) + 'px';
    node.style.right = (window.innerWidth - r.right) + 'px';
    requestAnimationFrame(() => node && node.classList.add('visible'));
  };
  const leave = () => {
    if (!node) return;
    node.classList.remove('visible');
    const gone = node;
    timer = setTimeout(() => {
      gone.remove();
      if (node === gone) node = null;
    }, 200);
  };
  el.addEventListener('mouseenter', enter);
  el.addEventListener('mouseleave', leave);
  reg.push({ el, fp, enter, leave, drop: () => { clearTimeout(timer); if (node) node.remove(); node = null; } });
  return true;
}`

const detachJS = `() => {
  const reg = window.__hovertimeAttached || [];
  for (const h of reg) {
    h.el.removeEventListener('mouseenter', h.enter);
    h.el.removeEventListener('mouseleave', h.leave);
    h.drop();
  }
  window.__hovertimeAttached = [];
  return reg.length;
}`

// Attacher shows hover labels in the live page. It implements
// coordinator.Attacher.
type Attacher struct {
	eval evalFunc
}

// Attach installs hover handlers on the page element at container's path.
func (a *Attacher) Attach(ctx context.Context, container *html.Node, fp, label string) error {
	xp := dom.XPath(container)
	if xp == "" {
		return fmt.Errorf("domwatch: attach %s: %w", fp, ErrNotFound)
	}
	v, err := a.eval(ctx, attachJS, xp, fp, label, labelCSS)
	if err != nil {
		return fmt.Errorf("domwatch: attach %s: %w", fp, err)
	}
	if !v.Bool() {
		return fmt.Errorf("domwatch: attach %s at %s: %w", fp, xp, ErrNotFound)
	}
	return nil
}

// DetachAll removes every hover handler and visible label.
func (a *Attacher) DetachAll(ctx context.Context) error {
	if _, err := a.eval(ctx, detachJS); err != nil {
		return fmt.Errorf("domwatch: detach: %w", err)
	}
	return nil
}
