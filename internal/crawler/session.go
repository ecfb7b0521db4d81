// internal/crawler/session.go
package crawler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/ratelimit"
	"github.com/rendercrawl/rendercrawl/internal/strategy"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// outcome classifies how a session phase ended. Soft errors skip the rest of
// the session without surfacing; everything else is a hard failure the
// session's caller must see.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSkipped
	outcomeFailed
)

// phaseResult carries a phase's outcome plus whether the browser instance
// was already evicted while handling it. A browser is released exactly once
// per session: Free when still healthy, Evict otherwise.
type phaseResult struct {
	outcome outcome
	evicted bool
	err     error
}

var (
	completed = phaseResult{outcome: outcomeCompleted}
)

func skipped(evicted bool) phaseResult {
	return phaseResult{outcome: outcomeSkipped, evicted: evicted}
}

func failed(err error, evicted bool) phaseResult {
	return phaseResult{outcome: outcomeFailed, evicted: evicted, err: err}
}

// session is one (strategy × URL) crawl: acquire a browser, load the page,
// run the strategy, clean up, release the browser.
type session struct {
	strat   strategy.Strategy
	url     string
	sink    *traffic.CountingSink
	pool    browser.Pool
	limiter ratelimit.Limiter
}

// run executes the whole session. It returns an error only for hard
// failures; soft failures are logged and swallowed here.
func (s *session) run(ctx context.Context) error {
	did := s.strat.DebuggingID()

	log.Debug().
		Str("url", s.url).
		Str("strategy", s.strat.Name()).
		Str("did", did).
		Msg("Getting browser instance from pool")

	b, err := s.pool.Acquire(ctx, s.sink, did)
	if err != nil {
		log.Debug().
			Err(err).
			Str("did", did).
			Msg("Failed to get a browser instance")
		return &PoolUnavailableError{Err: err}
	}

	res := s.runPhases(ctx, b)

	switch res.outcome {
	case outcomeFailed:
		// Belt and suspenders: any hard failure leaves the instance in an
		// untrusted state, even when the failing phase did not evict.
		if !res.evicted {
			s.pool.Evict(b, "unhandled session error")
		}
		return res.err
	default:
		if !res.evicted {
			s.pool.Free(b)
		}
		return nil
	}
}

func (s *session) runPhases(ctx context.Context, b browser.Browser) phaseResult {
	if res := s.initialLoad(ctx, b); res.outcome != outcomeCompleted {
		return res
	}
	if res := s.runStrategy(ctx, b); res.outcome != outcomeCompleted {
		return res
	}
	return s.cleanup(ctx, b)
}

// initialLoad navigates to the target, waits for the page, then stops any
// further loading so the DOM stays frozen for the strategy. Soft errors in
// any sub-step evict the instance (its health is suspect) and skip the
// session.
func (s *session) initialLoad(ctx context.Context, b browser.Browser) phaseResult {
	did := s.strat.DebuggingID()
	start := time.Now()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, s.url); err != nil {
			s.pool.Evict(b, "cancelled while rate limited")
			return failed(err, true)
		}
	}

	b.SetDebuggingID(did)

	if err := b.Navigate(ctx, s.url); err != nil {
		if browser.IsSoft(err) {
			log.Debug().
				Err(err).
				Str("url", s.url).
				Str("strategy", s.strat.Name()).
				Str("did", did).
				Msg("Failed to load URL, skipping crawl strategy")
			s.pool.Evict(b, "failed to load URL")
			return skipped(true)
		}
		log.Debug().
			Err(err).
			Str("url", s.url).
			Str("did", did).
			Msg("Unhandled error during initial page load")
		s.pool.Evict(b, "unexpected error during page load")
		return failed(err, true)
	}

	loaded, err := b.WaitForLoad(ctx)
	if err != nil {
		if browser.IsSoft(err) {
			// Traffic generated before the failure has already been
			// forwarded to the sink; only the rest of this session is lost.
			log.Debug().
				Err(err).
				Str("url", s.url).
				Str("did", did).
				Msg("Error while waiting for page load, skipping crawl strategy")
			s.pool.Evict(b, "error while waiting for page load")
			return skipped(true)
		}
		s.pool.Evict(b, "unexpected error while waiting for page load")
		return failed(err, true)
	}
	if !loaded {
		log.Debug().
			Str("url", s.url).
			Dur("spent", time.Since(start)).
			Str("did", did).
			Msg("Page did not finish loading, using the DOM state as is")
	}

	if err := b.Stop(ctx); err != nil {
		if browser.IsSoft(err) {
			log.Debug().
				Err(err).
				Str("url", s.url).
				Str("did", did).
				Msg("Failed to stop page loading, skipping crawl strategy")
			s.pool.Evict(b, "failed to stop page loading")
			return skipped(true)
		}
		s.pool.Evict(b, "unexpected error while stopping page load")
		return failed(err, true)
	}

	log.Debug().
		Str("url", s.url).
		Dur("spent", time.Since(start)).
		Str("did", did).
		Msg("Initial page load finished")
	return completed
}

// runStrategy executes the extraction. Soft errors here do not evict: the
// browser itself is healthy, the page just did not cooperate.
func (s *session) runStrategy(ctx context.Context, b browser.Browser) phaseResult {
	did := s.strat.DebuggingID()
	start := time.Now()

	if err := s.strat.Run(ctx, b, s.url); err != nil {
		if strategy.IsSoft(err) {
			log.Debug().
				Err(err).
				Str("url", s.url).
				Str("strategy", s.strat.Name()).
				Str("did", did).
				Msg("Crawl strategy failed, skipping it")
			return skipped(false)
		}
		log.Debug().
			Err(err).
			Str("url", s.url).
			Str("strategy", s.strat.Name()).
			Str("did", did).
			Msg("Unhandled error in crawl strategy")
		s.pool.Evict(b, "failed to crawl")
		return failed(err, true)
	}

	log.Debug().
		Str("url", s.url).
		Str("strategy", s.strat.Name()).
		Dur("spent", time.Since(start)).
		Int64("records", s.sink.Count()).
		Str("did", did).
		Msg("Crawl strategy finished")
	return completed
}

// cleanup loads about:blank so the instance returns to the pool without the
// page's DOM still in memory. Extracted traffic already reached the sink, so
// a failure here only costs us the instance.
func (s *session) cleanup(ctx context.Context, b browser.Browser) phaseResult {
	did := s.strat.DebuggingID()

	if err := b.NavigateBlank(ctx); err != nil {
		if browser.IsSoft(err) {
			log.Debug().
				Err(err).
				Str("did", did).
				Msg("Failed to load about:blank during cleanup, skipping it")
			s.pool.Evict(b, "failed to load about:blank")
			return skipped(true)
		}
		s.pool.Evict(b, "unexpected error during cleanup")
		return failed(err, true)
	}

	return completed
}
