package domwatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ysmood/gson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/hovertime/dom"
)

const livePage = `<html><body><main>
<div data-message-id="a"><p>first</p></div>
<div data-message-id="b"><p>second</p></div>
</main></body></html>`

type evalCall struct {
	js   string
	args []any
}

func fakeEval(calls *[]evalCall, result gson.JSON, err error) evalFunc {
	return func(_ context.Context, js string, args ...any) (gson.JSON, error) {
		*calls = append(*calls, evalCall{js: js, args: args})
		return result, err
	}
}

func secondMessage(t *testing.T) *html.Node {
	t.Helper()
	doc, err := dom.Parse([]byte(livePage))
	if err != nil {
		t.Fatal(err)
	}
	return dom.QueryFirst(doc, dom.MustCompile(`[data-message-id="b"]`))
}

func TestStateProbe_CreateTime(t *testing.T) {
	n := secondMessage(t)
	var calls []evalCall
	p := &StateProbe{eval: fakeEval(&calls, gson.New(1704461405.5), nil), prefix: DefaultStatePrefix}

	got, ok := p.CreateTime(context.Background(), n)
	if !ok || got != 1704461405.5 {
		t.Fatalf("CreateTime: got %v %v", got, ok)
	}
	if len(calls) != 1 {
		t.Fatalf("eval calls: got %d, want 1", len(calls))
	}
	if calls[0].args[0] != "/html/body/main/div[2]" || calls[0].args[1] != DefaultStatePrefix {
		t.Errorf("eval args: got %v", calls[0].args)
	}
}

func TestStateProbe_Missing(t *testing.T) {
	n := secondMessage(t)
	var calls []evalCall

	cases := []struct {
		name   string
		result gson.JSON
		err    error
	}{
		{"null", gson.New(nil), nil},
		{"string", gson.New("soon"), nil},
		{"eval error", gson.JSON{}, ErrNoPage},
	}
	for _, c := range cases {
		p := &StateProbe{eval: fakeEval(&calls, c.result, c.err), prefix: DefaultStatePrefix}
		if _, ok := p.CreateTime(context.Background(), n); ok {
			t.Errorf("%s: expected miss", c.name)
		}
	}

	p := &StateProbe{eval: fakeEval(&calls, gson.New(1.0), nil)}
	if _, ok := p.CreateTime(context.Background(), nil); ok {
		t.Error("nil node: expected miss")
	}
}

func TestAttacher(t *testing.T) {
	n := secondMessage(t)
	var calls []evalCall

	a := &Attacher{eval: fakeEval(&calls, gson.New(true), nil)}
	if err := a.Attach(context.Background(), n, "msg_abc", `<div class="hovertime-label"></div>`); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	args := calls[0].args
	if args[0] != "/html/body/main/div[2]" || args[1] != "msg_abc" {
		t.Errorf("Attach args: got %v", args[:2])
	}
	if css, _ := args[3].(string); !strings.Contains(css, ".hovertime-label.visible") {
		t.Errorf("Attach css: got %q", css)
	}

	gone := &Attacher{eval: fakeEval(&calls, gson.New(false), nil)}
	if err := gone.Attach(context.Background(), n, "msg_abc", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Attach to missing node: got %v, want ErrNotFound", err)
	}

	if err := a.DetachAll(context.Background()); err != nil {
		t.Errorf("DetachAll: %v", err)
	}
	broken := &Attacher{eval: fakeEval(&calls, gson.JSON{}, ErrNoPage)}
	if err := broken.DetachAll(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Errorf("DetachAll without page: got %v, want ErrNoPage", err)
	}
}

func TestWatcher_NoPage(t *testing.T) {
	w := New(Config{}, nil)
	if _, err := w.Document(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Errorf("Document before Start: got %v, want ErrNoPage", err)
	}
	if _, ok := w.Probe().CreateTime(context.Background(), nil); ok {
		t.Error("Probe before Start: expected miss")
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Start without url: expected error")
	}
}

func TestBuildSinks(t *testing.T) {
	sinks, err := BuildSinks([]SinkConfig{{Type: "stdout"}, {Type: "webhook", URL: "http://127.0.0.1:1/hook"}}, nil, nil)
	if err != nil || len(sinks) != 2 {
		t.Fatalf("BuildSinks: got %d sinks, err %v", len(sinks), err)
	}
	if _, err := BuildSinks([]SinkConfig{{Type: "webhook"}}, nil, nil); err == nil {
		t.Error("webhook without url: expected error")
	}
	if _, err := BuildSinks([]SinkConfig{{Type: "nats"}}, nil, nil); err == nil {
		t.Error("unknown type: expected error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Page.Root != "main" || c.Page.StatePrefix != DefaultStatePrefix || c.Debounce.MaxBuffer != 1000 {
		t.Errorf("defaults: got %+v", c)
	}
}
