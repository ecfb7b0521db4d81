// internal/browser/instance.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// maxCapturedMessages bounds the console/JS-error buffers so a noisy page
// cannot grow an instance without limit.
const maxCapturedMessages = 500

// Instance is one instrumented Chrome target. It forwards every HTTP
// request/response pair the page generates to the sink it is currently
// bound to, independent of what the owning crawl session is doing.
type Instance struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc

	loadTimeout time.Duration
	opTimeout   time.Duration

	mu          sync.Mutex
	sink        traffic.Sink
	debuggingID string
	pending     map[network.RequestID]*traffic.Request
	console     []string
	jsErrors    []string
}

func newInstance(allocCtx context.Context, id int, loadTimeout, opTimeout time.Duration) (*Instance, error) {
	ctx, cancel := chromedp.NewContext(allocCtx)

	inst := &Instance{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		loadTimeout: loadTimeout,
		opTimeout:   opTimeout,
		pending:     make(map[network.RequestID]*traffic.Request),
	}

	// The listener lives for the whole instance; which sink it feeds is
	// swapped on every lease.
	chromedp.ListenTarget(ctx, inst.handleEvent)

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to enable network capture on instance %d: %w", id, err)
	}

	return inst, nil
}

// bind attaches the instance to a sink for the duration of one lease.
func (i *Instance) bind(sink traffic.Sink, debuggingID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sink = sink
	i.debuggingID = debuggingID
	i.pending = make(map[network.RequestID]*traffic.Request)
}

// unbind detaches the sink once the lease ends.
func (i *Instance) unbind() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sink = nil
	i.pending = make(map[network.RequestID]*traffic.Request)
}

// handleEvent receives CDP events and turns network activity into traffic
// records on the bound sink.
func (i *Instance) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		i.mu.Lock()
		i.pending[ev.RequestID] = &traffic.Request{
			Method:  ev.Request.Method,
			URL:     ev.Request.URL,
			Headers: flattenHeaders(ev.Request.Headers),
		}
		i.mu.Unlock()

	case *network.EventResponseReceived:
		i.mu.Lock()
		req := i.pending[ev.RequestID]
		delete(i.pending, ev.RequestID)
		sink := i.sink
		did := i.debuggingID
		i.mu.Unlock()

		if sink == nil || req == nil {
			return
		}
		sink.Push(traffic.Record{
			Request: req,
			Response: &traffic.Response{
				StatusCode:  int(ev.Response.Status),
				URL:         ev.Response.URL,
				ContentType: ev.Response.MimeType,
				Headers:     flattenHeaders(ev.Response.Headers),
			},
			DebuggingID: did,
			ObservedAt:  time.Now(),
		})

	case *runtime.EventConsoleAPICalled:
		msg := string(ev.Type)
		for _, arg := range ev.Args {
			if arg.Value != nil {
				msg += " " + string(arg.Value)
			}
		}
		i.mu.Lock()
		if len(i.console) < maxCapturedMessages {
			i.console = append(i.console, msg)
		}
		i.mu.Unlock()

	case *runtime.EventExceptionThrown:
		text := ev.ExceptionDetails.Text
		if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
			text = ev.ExceptionDetails.Exception.Description
		}
		i.mu.Lock()
		if len(i.jsErrors) < maxCapturedMessages {
			i.jsErrors = append(i.jsErrors, text)
		}
		i.mu.Unlock()
	}
}

// SetDebuggingID tags the instance's log output with the crawl invocation id.
func (i *Instance) SetDebuggingID(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.debuggingID = id
}

// Sink returns the currently bound sink.
func (i *Instance) Sink() traffic.Sink {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sink
}

// Navigate commits a navigation to url without waiting for the page to load.
func (i *Instance) Navigate(ctx context.Context, url string) error {
	log.Debug().
		Int("instance", i.id).
		Str("url", url).
		Str("did", i.did()).
		Msg("Navigating browser instance")

	err := i.run(ctx, i.opTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigation failed: %s", errText)
		}
		return nil
	}))
	return classify("navigate", err)
}

// WaitForLoad polls document.readyState until the page is fully loaded or
// the load timeout elapses. A timeout is not an error: the caller proceeds
// with whatever DOM exists.
func (i *Instance) WaitForLoad(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(i.loadTimeout)

	for {
		var state string
		err := i.run(ctx, i.opTimeout, chromedp.Evaluate("document.readyState", &state))
		if err != nil {
			return false, classify("wait for load", err)
		}
		if state == "complete" {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return false, classify("wait for load", ctx.Err())
		}
	}
}

// Stop halts loading and navigation so the DOM stops changing underneath
// the extraction strategies.
func (i *Instance) Stop(ctx context.Context) error {
	err := i.run(ctx, i.opTimeout, page.StopLoading())
	return classify("stop", err)
}

// NavigateBlank loads about:blank to drop the page and its memory.
func (i *Instance) NavigateBlank(ctx context.Context) error {
	err := i.run(ctx, i.opTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, err := page.Navigate("about:blank").Do(ctx)
		return err
	}))
	return classify("navigate to about:blank", err)
}

// DOM returns the serialized outer HTML of the current document.
func (i *Instance) DOM(ctx context.Context) (string, error) {
	var dom string
	err := i.run(ctx, i.opTimeout, chromedp.Evaluate("document.documentElement.outerHTML", &dom))
	if err != nil {
		return "", classify("dump DOM", err)
	}
	return dom, nil
}

// Eval evaluates a JavaScript expression in the page and returns the
// JSON-encoded result.
func (i *Instance) Eval(ctx context.Context, expr string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := i.run(ctx, i.opTimeout, chromedp.Evaluate(expr, &raw))
	if err != nil {
		return nil, classify("evaluate", err)
	}
	return raw, nil
}

// ConsoleMessages returns the console output captured so far.
func (i *Instance) ConsoleMessages() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.console))
	copy(out, i.console)
	return out
}

// JSErrors returns the page JS errors captured so far.
func (i *Instance) JSErrors() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.jsErrors))
	copy(out, i.jsErrors)
	return out
}

// run executes actions on the instance's browser context with an operation
// timeout, while still honoring cancellation of the caller's context.
func (i *Instance) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(i.ctx, timeout)
	defer cancel()

	if ctx != nil {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}

	return chromedp.Run(tctx, actions...)
}

// close tears the browser target down. Called by the pool on evict/shutdown.
func (i *Instance) close() {
	i.cancel()
}

func (i *Instance) did() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.debuggingID
}

// classify maps raw chromedp errors onto the soft taxonomy. Deadline errors
// become TimeoutError, everything else coming out of the devtools transport
// becomes InterfaceError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &InterfaceError{Op: op, Err: err}
}

func isTimeout(err error) bool {
	t, ok := err.(interface{ Timeout() bool })
	return ok && t.Timeout()
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}
