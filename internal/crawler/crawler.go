// Package crawler drives browser-based crawling: given a starting HTTP
// request/response pair it fans out one crawl session per extraction
// strategy, bounded by a worker pool, and forwards everything the browser
// does to the caller's traffic sink.
package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/ratelimit"
	"github.com/rendercrawl/rendercrawl/internal/seen"
	"github.com/rendercrawl/rendercrawl/internal/strategy"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// DefaultJoinTimeout bounds the graceful part of Terminate. When in-flight
// sessions have not finished by then, shutdown falls back to discarding
// queued work.
const DefaultJoinTimeout = 30 * time.Second

// Options configures a Crawler.
type Options struct {
	// JoinTimeout overrides DefaultJoinTimeout when positive.
	JoinTimeout time.Duration

	// Limiter, when set, throttles initial page loads per target domain.
	Limiter ratelimit.Limiter

	// Factories overrides the default strategy list. Mostly for tests.
	Factories []strategy.Factory
}

// Crawler is the orchestrator: it owns the worker pool, the browser pool,
// the seen-URL tracker and the cross-session strategy state, and decides
// whether an incoming request is worth crawling at all.
type Crawler struct {
	pool      browser.Pool
	tracker   seen.Tracker
	shared    *strategy.State
	limiter   ratelimit.Limiter
	factories []strategy.Factory

	joinTimeout time.Duration

	mu sync.Mutex
	// workers is nil once Terminate ran; that is the terminated marker.
	workers *workerPool
}

// New creates a Crawler on top of a browser pool with the given capacity.
// The worker count is derived from capacity so that workers can never
// deadlock waiting for browsers (see workerPool).
func New(pool browser.Pool, tracker seen.Tracker, capacity int, opts Options) *Crawler {
	joinTimeout := opts.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	factories := opts.Factories
	if len(factories) == 0 {
		factories = strategy.DefaultFactories
	}

	return &Crawler{
		pool:        pool,
		tracker:     tracker,
		shared:      strategy.NewState(),
		limiter:     opts.Limiter,
		factories:   factories,
		joinTimeout: joinTimeout,
		workers:     newWorkerPool(capacity),
	}
}

// Crawl is the main entry point. It gates the request, and when eligible
// dispatches one crawl session per strategy: inline when async is false,
// through the worker pool otherwise.
//
// The returned bool reports whether a crawl was dispatched; it does not mean
// extraction succeeded. Synchronous dispatch returns hard session failures
// directly. Asynchronous dispatch always returns a nil error: hard failures
// surface later as error records on the sink.
func (c *Crawler) Crawl(req *traffic.Request, resp *traffic.Response, sink traffic.Sink, debuggingID string, async bool) (bool, error) {
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()
	if workers == nil {
		log.Debug().Msg("Crawler is terminated, ignoring call to Crawl")
		return false, nil
	}

	if !c.shouldCrawl(req, resp) {
		return false, nil
	}

	if debuggingID == "" {
		debuggingID = randAlnum(8)
	}

	strategies := make([]strategy.Strategy, 0, len(c.factories))
	for _, factory := range c.factories {
		strategies = append(strategies, factory(c.shared, debuggingID))
	}

	if async {
		c.crawlAsync(workers, strategies, req, resp.URL, sink)
		return true, nil
	}
	return true, c.crawlSync(strategies, resp.URL, sink)
}

// shouldCrawl rejects everything a browser would not render, and marks the
// URI seen before any dispatch. Marking on the calling goroutine is what
// makes the crawl at-most-once even with concurrent callers racing on the
// same URI.
func (c *Crawler) shouldCrawl(req *traffic.Request, resp *traffic.Response) bool {
	if req == nil || resp == nil {
		return false
	}

	// TODO: crawl POST results too once strategies can replay form bodies
	if req.Method != "GET" {
		return false
	}

	if !strings.Contains(strings.ToLower(contentType(resp)), "html") {
		return false
	}

	first, err := c.tracker.MarkIfNew(resp.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", resp.URL).Msg("Seen-URL tracker failed, refusing to crawl")
		return false
	}
	return first
}

func (c *Crawler) crawlSync(strategies []strategy.Strategy, url string, sink traffic.Sink) error {
	for _, strat := range strategies {
		sess := c.newSession(strat, url, sink)
		if err := sess.run(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crawler) crawlAsync(workers *workerPool, strategies []strategy.Strategy, req *traffic.Request, url string, sink traffic.Sink) {
	for _, strat := range strategies {
		strat := strat
		err := workers.submit(func() {
			sess := c.newSession(strat, url, sink)
			if err := sess.run(context.Background()); err != nil {
				// Hard failures must not kill the worker; they travel to
				// the consumer on the same channel as regular traffic.
				sink.Push(traffic.Record{
					Request:     req,
					Err:         err,
					DebuggingID: strat.DebuggingID(),
					ObservedAt:  time.Now(),
				})
			}
		})
		if err != nil {
			log.Debug().
				Err(err).
				Str("url", url).
				Str("strategy", strat.Name()).
				Msg("Could not queue crawl task")
			// The URI was already marked seen by shouldCrawl, so a task lost
			// here will never be retried. Surface the loss as an error record
			// instead of dropping it silently.
			sink.Push(traffic.Record{
				Request:     req,
				Err:         err,
				DebuggingID: strat.DebuggingID(),
				ObservedAt:  time.Now(),
			})
		}
	}
}

func (c *Crawler) newSession(strat strategy.Strategy, url string, sink traffic.Sink) *session {
	return &session{
		strat:   strat,
		url:     url,
		sink:    traffic.NewCountingSink(sink),
		pool:    c.pool,
		limiter: c.limiter,
	}
}

// HasPendingWork reports whether any accepted crawl task has not finished.
func (c *Crawler) HasPendingWork() bool {
	return c.PendingTaskCount() > 0
}

// PendingTaskCount counts tasks accepted by the worker pool that have not
// yet completed. Callers use it for backpressure decisions.
func (c *Crawler) PendingTaskCount() int {
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()
	if workers == nil {
		return 0
	}
	return workers.pendingTasks()
}

// Terminate shuts the crawler down: no new work, wait for in-flight
// sessions, discard the queue if the graceful join runs out of time, then
// release the browser pool. Idempotent, and never fails: every shutdown
// error is logged and shutdown proceeds to the next step.
func (c *Crawler) Terminate() {
	log.Debug().Msg("Crawler terminate")

	c.mu.Lock()
	workers := c.workers
	// Clearing the field first keeps a second Terminate (or a racing Crawl)
	// from touching the pool while it shuts down.
	c.workers = nil
	c.mu.Unlock()
	if workers == nil {
		log.Debug().Msg("Crawler worker pool is already gone, no shutdown required")
		return
	}

	workers.close()
	if err := workers.join(c.joinTimeout); err != nil {
		log.Warn().Err(err).Msg("Graceful worker pool join failed, forcing termination")
		workers.terminate()
		if err := workers.join(c.joinTimeout); err != nil {
			log.Warn().Err(err).Msg("Worker pool did not stop after forced termination")
		}
	}
	log.Debug().Msg("Crawler worker pool has been joined")

	if err := c.pool.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Browser pool shutdown failed")
	}
}

// ConsoleMessages returns the console output captured by the single idle
// browser instance. Debug/test helper: it refuses to run unless the pool
// has exactly one idle instance, since it cannot tell which instance served
// a given page otherwise.
func (c *Crawler) ConsoleMessages() ([]string, error) {
	inst, err := c.singleIdleInstance()
	if err != nil {
		return nil, err
	}
	return inst.ConsoleMessages(), nil
}

// JSErrors returns the page JavaScript errors captured by the single idle
// browser instance. Same single-instance restriction as ConsoleMessages.
func (c *Crawler) JSErrors() ([]string, error) {
	inst, err := c.singleIdleInstance()
	if err != nil {
		return nil, err
	}
	return inst.JSErrors(), nil
}

func (c *Crawler) singleIdleInstance() (browser.DebugInfo, error) {
	idle := c.pool.IdleInstances()
	if len(idle) != 1 {
		return nil, fmt.Errorf("browser pool has %d idle instances, exactly one is required", len(idle))
	}
	inst, ok := idle[0].(browser.DebugInfo)
	if !ok {
		return nil, browser.ErrNotSupported
	}
	return inst, nil
}

func contentType(resp *traffic.Response) string {
	if resp.ContentType != "" {
		return resp.ContentType
	}
	for k, v := range resp.Headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return ""
}

const alnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// randAlnum generates the debugging identifier used to correlate all log
// lines and error records of one crawl invocation.
func randAlnum(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnum[rand.IntN(len(alnum))]
	}
	return string(b)
}
