package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/seen"
	"github.com/rendercrawl/rendercrawl/internal/strategy"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// fakeBrowser implements browser.Browser plus the debug interfaces.
type fakeBrowser struct {
	navigateErr error
	waitErr     error
	stopErr     error
	blankErr    error
	notLoaded   bool

	sink     traffic.Sink
	console  []string
	jsErrors []string
}

func (b *fakeBrowser) SetDebuggingID(id string) {}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error { return b.navigateErr }

func (b *fakeBrowser) WaitForLoad(ctx context.Context) (bool, error) {
	if b.waitErr != nil {
		return false, b.waitErr
	}
	return !b.notLoaded, nil
}

func (b *fakeBrowser) Stop(ctx context.Context) error { return b.stopErr }

func (b *fakeBrowser) NavigateBlank(ctx context.Context) error { return b.blankErr }

func (b *fakeBrowser) Sink() traffic.Sink { return b.sink }

func (b *fakeBrowser) ConsoleMessages() []string { return b.console }

func (b *fakeBrowser) JSErrors() []string { return b.jsErrors }

// fakePool hands out fakeBrowser instances and records the release calls.
type fakePool struct {
	mu         sync.Mutex
	browser    *fakeBrowser
	acquireErr error

	acquired  int
	freed     int
	evicted   int
	reasons   []string
	shutdowns int

	idle []browser.Browser
}

func (p *fakePool) Acquire(ctx context.Context, sink traffic.Sink, debuggingID string) (browser.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	b := p.browser
	if b == nil {
		b = &fakeBrowser{}
	}
	b.sink = sink
	return b, nil
}

func (p *fakePool) Free(b browser.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freed++
}

func (p *fakePool) Evict(b browser.Browser, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted++
	p.reasons = append(p.reasons, reason)
}

func (p *fakePool) IdleInstances() []browser.Browser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

func (p *fakePool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

func (p *fakePool) counts() (acquired, freed, evicted int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.freed, p.evicted
}

// fakeStrategy runs a canned result and counts invocations.
type fakeStrategy struct {
	did    string
	runErr error
	runs   *atomic.Int32
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) DebuggingID() string { return s.did }

func (s *fakeStrategy) Run(ctx context.Context, b browser.Browser, pageURL string) error {
	if s.runs != nil {
		s.runs.Add(1)
	}
	return s.runErr
}

func fakeFactory(runErr error, runs *atomic.Int32) strategy.Factory {
	return func(shared *strategy.State, debuggingID string) strategy.Strategy {
		return &fakeStrategy{did: debuggingID, runErr: runErr, runs: runs}
	}
}

// collectSink gathers records for assertions.
type collectSink struct {
	mu      sync.Mutex
	records []traffic.Record
}

func (c *collectSink) Push(rec traffic.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collectSink) all() []traffic.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]traffic.Record, len(c.records))
	copy(out, c.records)
	return out
}

func htmlPair(url string) (*traffic.Request, *traffic.Response) {
	return &traffic.Request{Method: "GET", URL: url},
		&traffic.Response{StatusCode: 200, URL: url, ContentType: "text/html"}
}

func newTestCrawler(t *testing.T, pool *fakePool, factories ...strategy.Factory) *Crawler {
	t.Helper()
	c := New(pool, seen.NewMemoryTracker(), 2, Options{
		JoinTimeout: 2 * time.Second,
		Factories:   factories,
	})
	t.Cleanup(c.Terminate)
	return c
}

func TestCrawlGate(t *testing.T) {
	var runs atomic.Int32
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(nil, &runs))
	sink := &collectSink{}

	// POST results are not rendered
	req, resp := htmlPair("https://example.com/post")
	req.Method = "POST"
	if crawled, err := c.Crawl(req, resp, sink, "", false); err != nil || crawled {
		t.Fatalf("expected POST to be rejected, got crawled=%v err=%v", crawled, err)
	}

	// Non-HTML responses are not rendered
	req, resp = htmlPair("https://example.com/api")
	resp.ContentType = "application/json"
	if crawled, err := c.Crawl(req, resp, sink, "", false); err != nil || crawled {
		t.Fatalf("expected JSON to be rejected, got crawled=%v err=%v", crawled, err)
	}

	// HTML over GET is crawled
	req, resp = htmlPair("https://example.com/page")
	if crawled, err := c.Crawl(req, resp, sink, "", false); err != nil || !crawled {
		t.Fatalf("expected HTML page to be crawled, got crawled=%v err=%v", crawled, err)
	}

	// The same URI is never crawled twice
	req, resp = htmlPair("https://example.com/page")
	if crawled, err := c.Crawl(req, resp, sink, "", false); err != nil || crawled {
		t.Fatalf("expected duplicate to be rejected, got crawled=%v err=%v", crawled, err)
	}

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly 1 strategy run, got %d", got)
	}
}

func TestCrawlContentTypeFromHeaders(t *testing.T) {
	var runs atomic.Int32
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(nil, &runs))

	req, resp := htmlPair("https://example.com/hdr")
	resp.ContentType = ""
	resp.Headers = map[string]string{"content-type": "Text/HTML; charset=utf-8"}

	if crawled, err := c.Crawl(req, resp, &collectSink{}, "", false); err != nil || !crawled {
		t.Fatalf("expected header content type to be honored, got crawled=%v err=%v", crawled, err)
	}
}

func TestCrawlAtMostOnceConcurrent(t *testing.T) {
	var runs atomic.Int32
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(nil, &runs))

	var crawledCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, resp := htmlPair("https://example.com/racy")
			crawled, err := c.Crawl(req, resp, &collectSink{}, "", false)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if crawled {
				crawledCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := crawledCount.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly 1 strategy run, got %d", got)
	}
}

func TestSoftNavigateErrorSkipsStrategy(t *testing.T) {
	var runs atomic.Int32
	soft := &browser.TimeoutError{Op: "navigate", Err: errors.New("deadline")}
	pool := &fakePool{browser: &fakeBrowser{navigateErr: soft}}
	c := newTestCrawler(t, pool, fakeFactory(nil, &runs))

	req, resp := htmlPair("https://example.com/slow")
	crawled, err := c.Crawl(req, resp, &collectSink{}, "", false)
	if err != nil {
		t.Fatalf("soft errors must not surface, got %v", err)
	}
	if !crawled {
		t.Fatal("expected the crawl to be dispatched")
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("strategy must not run after a failed load, got %d runs", got)
	}

	_, freed, evicted := pool.counts()
	if evicted != 1 || freed != 0 {
		t.Fatalf("expected 1 eviction and 0 frees, got evicted=%d freed=%d", evicted, freed)
	}
}

func TestSoftStrategyErrorKeepsBrowser(t *testing.T) {
	softErr := &strategy.ExtractionError{Strategy: "fake", Err: errors.New("empty DOM")}
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(softErr, nil))

	req, resp := htmlPair("https://example.com/soft")
	if _, err := c.Crawl(req, resp, &collectSink{}, "", false); err != nil {
		t.Fatalf("soft strategy errors must not surface, got %v", err)
	}

	_, freed, evicted := pool.counts()
	if freed != 1 || evicted != 0 {
		t.Fatalf("soft strategy error must keep the browser, got freed=%d evicted=%d", freed, evicted)
	}
}

func TestHardStrategyErrorSurfacesAndEvicts(t *testing.T) {
	hardErr := errors.New("renderer crashed")
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(hardErr, nil))

	req, resp := htmlPair("https://example.com/hard")
	crawled, err := c.Crawl(req, resp, &collectSink{}, "", false)
	if !crawled {
		t.Fatal("expected the crawl to be dispatched")
	}
	if !errors.Is(err, hardErr) {
		t.Fatalf("expected the hard error back, got %v", err)
	}

	_, freed, evicted := pool.counts()
	if evicted != 1 || freed != 0 {
		t.Fatalf("hard error must evict, got freed=%d evicted=%d", freed, evicted)
	}
}

func TestLoadTimeoutStillRunsStrategy(t *testing.T) {
	var runs atomic.Int32
	pool := &fakePool{browser: &fakeBrowser{notLoaded: true}}
	c := newTestCrawler(t, pool, fakeFactory(nil, &runs))

	req, resp := htmlPair("https://example.com/sluggish")
	crawled, err := c.Crawl(req, resp, &collectSink{}, "", false)
	if err != nil || !crawled {
		t.Fatalf("a page that never settles must still be crawled, got crawled=%v err=%v", crawled, err)
	}

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected the strategy to run against the partial DOM, got %d runs", got)
	}
	_, freed, evicted := pool.counts()
	if freed != 1 || evicted != 0 {
		t.Fatalf("an unfinished load is not a browser fault, got freed=%d evicted=%d", freed, evicted)
	}
}

func TestWorkerPoolSurvivesConsecutiveHardFailures(t *testing.T) {
	hardErr := errors.New("renderer crashed")
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(hardErr, nil))
	sink := &collectSink{}

	// Enough failures to push every worker past its recycling threshold.
	total := maxTasksPerWorker + 2
	for i := 0; i < total; i++ {
		req, resp := htmlPair(fmt.Sprintf("https://example.com/fail/%d", i))
		crawled, err := c.Crawl(req, resp, sink, "", true)
		if err != nil || !crawled {
			t.Fatalf("dispatch %d rejected: crawled=%v err=%v", i, crawled, err)
		}
	}

	drain := func() {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for c.HasPendingWork() {
			if time.Now().After(deadline) {
				t.Fatal("pending work never drained")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	drain()

	errRecords := 0
	for _, rec := range sink.all() {
		if rec.IsError() && errors.Is(rec.Err, hardErr) {
			errRecords++
		}
	}
	if errRecords != total {
		t.Fatalf("expected %d error records, got %d", total, errRecords)
	}

	// The pool must still be alive after recycling through the failures.
	req, resp := htmlPair("https://example.com/fail/after")
	crawled, err := c.Crawl(req, resp, sink, "", true)
	if err != nil || !crawled {
		t.Fatalf("dispatch after recycling rejected: crawled=%v err=%v", crawled, err)
	}
	drain()

	errRecords = 0
	for _, rec := range sink.all() {
		if rec.IsError() && errors.Is(rec.Err, hardErr) {
			errRecords++
		}
	}
	if errRecords != total+1 {
		t.Fatalf("expected %d error records after the extra dispatch, got %d", total+1, errRecords)
	}
}

func TestHardErrorAsyncEmitsErrorRecord(t *testing.T) {
	hardErr := errors.New("renderer crashed")
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(hardErr, nil))
	sink := &collectSink{}

	req, resp := htmlPair("https://example.com/async")
	crawled, err := c.Crawl(req, resp, sink, "did12345", true)
	if err != nil || !crawled {
		t.Fatalf("async dispatch must not return the error, got crawled=%v err=%v", crawled, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.HasPendingWork() {
		if time.Now().After(deadline) {
			t.Fatal("pending work never drained")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var found bool
	for _, rec := range sink.all() {
		if rec.IsError() && errors.Is(rec.Err, hardErr) {
			if rec.DebuggingID != "did12345" {
				t.Fatalf("error record lost its debugging id: %q", rec.DebuggingID)
			}
			if rec.Request == nil || rec.Request.URL != "https://example.com/async" {
				t.Fatalf("error record lost its request: %+v", rec.Request)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected an error record on the sink")
	}
}

func TestDroppedSubmitEmitsErrorRecord(t *testing.T) {
	pool := &fakePool{browser: &fakeBrowser{}}
	c := newTestCrawler(t, pool, fakeFactory(nil, nil))
	sink := &collectSink{}

	// Close the worker pool underneath the crawler so the submit loses the
	// race with termination.
	c.mu.Lock()
	c.workers.close()
	c.mu.Unlock()

	req, resp := htmlPair("https://example.com/dropped")
	crawled, err := c.Crawl(req, resp, sink, "did12345", true)
	if err != nil || !crawled {
		t.Fatalf("async dispatch must not return the error, got crawled=%v err=%v", crawled, err)
	}

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("expected one error record for the lost task, got %d", len(recs))
	}
	if !recs[0].IsError() || !errors.Is(recs[0].Err, ErrTerminated) {
		t.Fatalf("expected a terminated error record, got %+v", recs[0])
	}
	if recs[0].DebuggingID != "did12345" {
		t.Fatalf("error record lost its debugging id: %q", recs[0].DebuggingID)
	}
	if recs[0].Request == nil || recs[0].Request.URL != "https://example.com/dropped" {
		t.Fatalf("error record lost its request: %+v", recs[0].Request)
	}
}

func TestPoolUnavailableIsHard(t *testing.T) {
	pool := &fakePool{acquireErr: browser.ErrNoInstance}
	c := newTestCrawler(t, pool, fakeFactory(nil, nil))

	req, resp := htmlPair("https://example.com/full")
	_, err := c.Crawl(req, resp, &collectSink{}, "", false)

	var pe *PoolUnavailableError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PoolUnavailableError, got %v", err)
	}
	if !errors.Is(err, browser.ErrNoInstance) {
		t.Fatalf("expected the cause to be preserved, got %v", err)
	}
}

func TestCleanupSoftErrorEvicts(t *testing.T) {
	soft := &browser.InterfaceError{Op: "navigate_blank", Err: errors.New("gone")}
	pool := &fakePool{browser: &fakeBrowser{blankErr: soft}}
	c := newTestCrawler(t, pool, fakeFactory(nil, nil))

	req, resp := htmlPair("https://example.com/cleanup")
	if _, err := c.Crawl(req, resp, &collectSink{}, "", false); err != nil {
		t.Fatalf("soft cleanup errors must not surface, got %v", err)
	}

	_, freed, evicted := pool.counts()
	if evicted != 1 || freed != 0 {
		t.Fatalf("cleanup failure must evict, got freed=%d evicted=%d", freed, evicted)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	pool := &fakePool{browser: &fakeBrowser{}}
	c := New(pool, seen.NewMemoryTracker(), 2, Options{JoinTimeout: time.Second})

	c.Terminate()
	c.Terminate()

	pool.mu.Lock()
	shutdowns := pool.shutdowns
	pool.mu.Unlock()
	if shutdowns != 1 {
		t.Fatalf("expected a single pool shutdown, got %d", shutdowns)
	}

	req, resp := htmlPair("https://example.com/late")
	crawled, err := c.Crawl(req, resp, &collectSink{}, "", false)
	if crawled || err != nil {
		t.Fatalf("crawl after terminate must be a no-op, got crawled=%v err=%v", crawled, err)
	}
	if c.HasPendingWork() {
		t.Fatal("terminated crawler cannot have pending work")
	}
}

func TestConsoleMessagesRequireSingleIdleInstance(t *testing.T) {
	one := &fakeBrowser{console: []string{"hello"}, jsErrors: []string{"TypeError: boom"}}
	pool := &fakePool{idle: []browser.Browser{one}}
	c := newTestCrawler(t, pool, fakeFactory(nil, nil))

	msgs, err := c.ConsoleMessages()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != "hello" {
		t.Fatalf("unexpected console messages: %v", msgs)
	}

	jsErrs, err := c.JSErrors()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jsErrs) != 1 {
		t.Fatalf("unexpected js errors: %v", jsErrs)
	}

	pool.mu.Lock()
	pool.idle = []browser.Browser{one, &fakeBrowser{}}
	pool.mu.Unlock()
	if _, err := c.ConsoleMessages(); err == nil {
		t.Fatal("expected an error with two idle instances")
	}
}

func TestRandAlnum(t *testing.T) {
	id := randAlnum(8)
	if len(id) != 8 {
		t.Fatalf("expected 8 characters, got %q", id)
	}
	for _, r := range id {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Fatalf("unexpected character %q in %q", r, id)
		}
	}
}
