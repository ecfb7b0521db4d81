package cli

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rendercrawl/rendercrawl/internal/traffic"
	"github.com/rendercrawl/rendercrawl/pkg/models"
)

// fakeHandle drives the crawl loop without browsers or network.
type fakeHandle struct {
	mu         sync.Mutex
	fetched    []string
	dispatched []string
	fetchErr   error
	rejectAll  bool
}

func (f *fakeHandle) Fetch(ctx context.Context, rawURL string, hdrs map[string]string) (*traffic.Request, *traffic.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, nil, f.fetchErr
	}
	f.fetched = append(f.fetched, rawURL)
	return &traffic.Request{Method: "GET", URL: rawURL},
		&traffic.Response{StatusCode: 200, URL: rawURL, ContentType: "text/html"},
		nil
}

func (f *fakeHandle) Dispatch(req *traffic.Request, resp *traffic.Response, sink traffic.Sink, debuggingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return false, nil
	}
	f.dispatched = append(f.dispatched, resp.URL)
	return true, nil
}

func (f *fakeHandle) HasPendingWork() bool { return false }

func newTestRun(h appHandle) *crawlRun {
	return &crawlRun{
		appCtx:   h,
		queue:    traffic.NewQueue(16),
		report:   &models.CrawlReport{Seed: "https://example.com/", StartedAt: time.Now()},
		headers:  map[string]string{},
		seedHost: "example.com",
		maxPages: 5,
	}
}

func TestCrawlSeedFlow(t *testing.T) {
	h := &fakeHandle{}
	run := newTestRun(h)

	if err := run.crawl(context.Background(), "https://example.com/"); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fetched) != 1 || h.fetched[0] != "https://example.com/" {
		t.Fatalf("unexpected fetches: %v", h.fetched)
	}
	if len(h.dispatched) != 1 {
		t.Fatalf("unexpected dispatches: %v", h.dispatched)
	}
	if run.pages != 1 {
		t.Fatalf("expected 1 page, got %d", run.pages)
	}
}

func TestCrawlRejectsUncrawlableSeed(t *testing.T) {
	h := &fakeHandle{rejectAll: true}
	run := newTestRun(h)

	if err := run.crawl(context.Background(), "https://example.com/"); err == nil {
		t.Fatal("expected an error for an uncrawlable seed")
	}
}

func TestHandleRecordError(t *testing.T) {
	run := newTestRun(&fakeHandle{})

	run.handleRecord(context.Background(), traffic.Record{
		Request:     &traffic.Request{Method: "GET", URL: "https://example.com/broken"},
		Err:         errors.New("renderer crashed"),
		DebuggingID: "did1",
	})

	if len(run.report.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(run.report.Errors))
	}
	e := run.report.Errors[0]
	if e.URL != "https://example.com/broken" || e.DebuggingID != "did1" {
		t.Fatalf("unexpected error entry: %+v", e)
	}
}

func TestHandleRecordSnapshot(t *testing.T) {
	h := &fakeHandle{}
	run := newTestRun(h)
	run.pages = 1

	run.handleRecord(context.Background(), traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: "https://example.com/page"},
		Response: &traffic.Response{
			StatusCode:  200,
			URL:         "https://example.com/page",
			ContentType: "text/html",
			Body:        "<html><body>hi</body></html>",
		},
		DebuggingID: "did2",
		ObservedAt:  time.Now(),
	})

	if len(run.report.Requests) != 1 {
		t.Fatalf("expected 1 request summary, got %d", len(run.report.Requests))
	}
	if len(run.report.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(run.report.Snapshots))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.dispatched) != 1 {
		t.Fatal("captured HTML responses must be fed back into the crawler")
	}
	if run.pages != 2 {
		t.Fatalf("expected page count 2, got %d", run.pages)
	}
}

func TestFollowLinkStaysOnSeedHost(t *testing.T) {
	h := &fakeHandle{}
	run := newTestRun(h)

	run.handleRecord(context.Background(), traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: "https://offsite.com/page"},
	})
	run.handleRecord(context.Background(), traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: "https://example.com/local"},
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fetched) != 1 || h.fetched[0] != "https://example.com/local" {
		t.Fatalf("expected only the same-host link to be fetched, got %v", h.fetched)
	}
}

func TestFollowLinkAnyHost(t *testing.T) {
	h := &fakeHandle{}
	run := newTestRun(h)
	run.anyHost = true

	run.handleRecord(context.Background(), traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: "https://offsite.com/page"},
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fetched) != 1 {
		t.Fatalf("expected the offsite link to be fetched, got %v", h.fetched)
	}
}

func TestFollowLinkHonorsPageBudget(t *testing.T) {
	h := &fakeHandle{}
	run := newTestRun(h)
	run.pages = run.maxPages

	run.handleRecord(context.Background(), traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: "https://example.com/over-budget"},
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fetched) != 0 {
		t.Fatalf("expected no fetch over budget, got %v", h.fetched)
	}
}

func TestSnapshotFilename(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a/b?q=1": "example.com_a_b_q_1.md",
		"http://example.com":          "example.com.md",
		"":                            "page.md",
	}
	for in, want := range cases {
		if got := snapshotFilename(in); got != want {
			t.Fatalf("snapshotFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
