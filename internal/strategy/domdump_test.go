package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// stubBrowser implements browser.Browser plus DOMReader/Evaluator for
// strategy tests.
type stubBrowser struct {
	dom     string
	domErr  error
	evalFn  func(expr string) (json.RawMessage, error)
	sink    traffic.Sink
	noSink  bool
	noExtra bool
}

func (b *stubBrowser) SetDebuggingID(id string) {}

func (b *stubBrowser) Navigate(ctx context.Context, url string) error { return nil }

func (b *stubBrowser) WaitForLoad(ctx context.Context) (bool, error) { return true, nil }

func (b *stubBrowser) Stop(ctx context.Context) error { return nil }

func (b *stubBrowser) NavigateBlank(ctx context.Context) error { return nil }

func (b *stubBrowser) Sink() traffic.Sink {
	if b.noSink {
		return nil
	}
	return b.sink
}

func (b *stubBrowser) DOM(ctx context.Context) (string, error) { return b.dom, b.domErr }

func (b *stubBrowser) Eval(ctx context.Context, expr string) (json.RawMessage, error) {
	if b.evalFn == nil {
		return json.RawMessage("null"), nil
	}
	return b.evalFn(expr)
}

// bareBrowser implements only the base Browser interface.
type bareBrowser struct{}

func (bareBrowser) SetDebuggingID(id string)                       {}
func (bareBrowser) Navigate(ctx context.Context, url string) error { return nil }
func (bareBrowser) WaitForLoad(ctx context.Context) (bool, error)  { return true, nil }
func (bareBrowser) Stop(ctx context.Context) error                 { return nil }
func (bareBrowser) NavigateBlank(ctx context.Context) error        { return nil }
func (bareBrowser) Sink() traffic.Sink                             { return nil }

type recordSink struct {
	mu      sync.Mutex
	records []traffic.Record
}

func (s *recordSink) Push(rec traffic.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordSink) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.records {
		if rec.Request != nil && rec.Response == nil {
			out = append(out, rec.Request.URL)
		}
	}
	return out
}

func TestExtractLinks(t *testing.T) {
	dom := `<html><body>
		<a href="/about">About</a>
		<a href="https://other.com/page">Other</a>
		<a href="/about">Duplicate</a>
		<a href="#top">Anchor</a>
		<a href="mailto:x@y.z">Mail</a>
		<area href="/map">
		<iframe src="/embedded"></iframe>
		<form action="/search" method="get"><input name="q"></form>
		<form action="/login" method="post"><input name="u"></form>
	</body></html>`

	links, err := extractLinks(dom, "https://example.com/index")
	if err != nil {
		t.Fatalf("extractLinks failed: %v", err)
	}

	want := map[string]bool{
		"https://example.com/about":    true,
		"https://other.com/page":       true,
		"https://example.com/map":      true,
		"https://example.com/embedded": true,
		"https://example.com/search":   true,
	}
	if len(links) != len(want) {
		t.Fatalf("expected %d links, got %d: %v", len(want), len(links), links)
	}
	for _, link := range links {
		if !want[link] {
			t.Fatalf("unexpected link %q in %v", link, links)
		}
	}
}

func TestDOMDumpEmitsSnapshotAndLinks(t *testing.T) {
	sink := &recordSink{}
	b := &stubBrowser{
		dom:  `<html><body><a href="/next">next</a></body></html>`,
		sink: sink,
	}

	strat := NewDOMDump(NewState(), "did12345")
	if err := strat.Run(context.Background(), b, "https://example.com/"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	sink.mu.Lock()
	records := append([]traffic.Record(nil), sink.records...)
	sink.mu.Unlock()

	var snapshot bool
	for _, rec := range records {
		if rec.Response != nil && rec.Response.Body != "" {
			snapshot = true
			if rec.Response.ContentType != "text/html" {
				t.Fatalf("snapshot has wrong content type: %q", rec.Response.ContentType)
			}
			if rec.DebuggingID != "did12345" {
				t.Fatalf("snapshot lost its debugging id: %q", rec.DebuggingID)
			}
		}
	}
	if !snapshot {
		t.Fatal("expected a DOM snapshot record")
	}

	urls := sink.urls()
	if len(urls) != 1 || urls[0] != "https://example.com/next" {
		t.Fatalf("unexpected discovered links: %v", urls)
	}
}

func TestDOMDumpEmptyDOMIsSoft(t *testing.T) {
	b := &stubBrowser{dom: "   ", sink: &recordSink{}}

	err := NewDOMDump(NewState(), "d").Run(context.Background(), b, "https://example.com/")
	if !IsSoft(err) {
		t.Fatalf("expected a soft extraction error, got %v", err)
	}
}

func TestDOMDumpUnsupportedBrowserIsSoft(t *testing.T) {
	err := NewDOMDump(NewState(), "d").Run(context.Background(), bareBrowser{}, "https://example.com/")
	if !IsSoft(err) {
		t.Fatalf("expected a soft extraction error, got %v", err)
	}
	if !errors.Is(err, browser.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported in the chain, got %v", err)
	}
}

func TestDOMDumpPropagatesBrowserErrors(t *testing.T) {
	soft := &browser.TimeoutError{Op: "dom", Err: errors.New("deadline")}
	b := &stubBrowser{domErr: soft, sink: &recordSink{}}

	err := NewDOMDump(NewState(), "d").Run(context.Background(), b, "https://example.com/")
	if !errors.Is(err, soft) {
		t.Fatalf("expected the browser error back, got %v", err)
	}
}
