// internal/strategy/jslinks.go
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
	urlutil "github.com/rendercrawl/rendercrawl/internal/utils/url"
)

const (
	// maxDispatchedEvents bounds how many handlers one session clicks.
	// Pages with thousands of identical onclick cells would otherwise keep
	// a browser instance busy for minutes.
	maxDispatchedEvents = 50

	// handlerExecTimeout interrupts sandboxed handler analysis. Handler
	// snippets are expected to be tiny; anything long-running is hostile.
	handlerExecTimeout = 100 * time.Millisecond
)

// collectHandlersJS gathers inline event handlers from the frozen DOM:
// onclick attributes and javascript: pseudo-links.
const collectHandlersJS = `
(function() {
    var out = [];
    var els = document.querySelectorAll('[onclick]');
    for (var i = 0; i < els.length && out.length < 500; i++) {
        out.push({index: i, tag: els[i].tagName.toLowerCase(), source: els[i].getAttribute('onclick') || ''});
    }
    var anchors = document.querySelectorAll('a[href]');
    for (var j = 0; j < anchors.length && out.length < 500; j++) {
        var href = anchors[j].getAttribute('href') || '';
        if (href.toLowerCase().indexOf('javascript:') === 0) {
            out.push({index: -1, tag: 'a', source: href.substring(11)});
        }
    }
    return out;
})()`

// handlerInfo mirrors the objects collectHandlersJS returns.
type handlerInfo struct {
	Index  int    `json:"index"`
	Tag    string `json:"tag"`
	Source string `json:"source"`
}

// quotedLiteralRe matches string literals inside handler source.
var quotedLiteralRe = regexp.MustCompile(`'([^'\\]*)'|"([^"\\]*)"`)

// JSLinks drives the page's own JavaScript to discover requests that only
// exist behind event handlers. It analyzes inline handler source in a
// sandboxed VM to pull out navigation targets, then dispatches real clicks
// so the browser's network capture sees the traffic the handlers generate.
// Handlers already exercised in earlier sessions are skipped via the shared
// state.
type JSLinks struct {
	shared      *State
	debuggingID string
}

// NewJSLinks builds a JSLinks instance for one crawl invocation.
func NewJSLinks(shared *State, debuggingID string) Strategy {
	return &JSLinks{shared: shared, debuggingID: debuggingID}
}

// Name identifies the strategy in logs.
func (j *JSLinks) Name() string {
	return "js_links"
}

// DebuggingID returns the crawl invocation's correlation token.
func (j *JSLinks) DebuggingID() string {
	return j.debuggingID
}

// Run collects inline handlers, analyzes the new ones and clicks them.
func (j *JSLinks) Run(ctx context.Context, b browser.Browser, pageURL string) error {
	ev, ok := b.(browser.Evaluator)
	if !ok {
		return &ExtractionError{Strategy: j.Name(), Err: browser.ErrNotSupported}
	}

	sink := b.Sink()
	if sink == nil {
		return &ExtractionError{Strategy: j.Name(), Err: errors.New("browser has no bound traffic sink")}
	}

	raw, err := ev.Eval(ctx, collectHandlersJS)
	if err != nil {
		return err
	}

	var handlers []handlerInfo
	if err := json.Unmarshal(raw, &handlers); err != nil {
		return &ExtractionError{Strategy: j.Name(), Err: fmt.Errorf("unexpected handler listing: %w", err)}
	}

	dispatched := 0
	analyzed := 0
	for _, h := range handlers {
		if !j.shared.MarkListenerSeen(fingerprint(h.Tag, h.Source)) {
			continue
		}
		analyzed++

		for _, target := range analyzeHandler(h.Source, pageURL) {
			sink.Push(traffic.Record{
				Request:     &traffic.Request{Method: "GET", URL: target},
				DebuggingID: j.debuggingID,
				ObservedAt:  time.Now(),
			})
		}

		// javascript: hrefs (index -1) are covered by the sandbox analysis
		// alone; clicking them would navigate away from the frozen page.
		if h.Index < 0 || dispatched >= maxDispatchedEvents {
			continue
		}
		dispatched++

		click := fmt.Sprintf(
			`(function(els) { if (els[%d]) { els[%d].click(); } return true; })(document.querySelectorAll('[onclick]'))`,
			h.Index, h.Index)
		if _, err := ev.Eval(ctx, click); err != nil {
			if browser.IsSoft(err) {
				return err
			}
			log.Debug().
				Err(err).
				Int("handler", h.Index).
				Str("did", j.debuggingID).
				Msg("Click dispatch failed")
		}
	}

	log.Debug().
		Str("url", pageURL).
		Int("handlers", len(handlers)).
		Int("new", analyzed).
		Int("dispatched", dispatched).
		Str("did", j.debuggingID).
		Msg("JS link extraction finished")

	return nil
}

// analyzeHandler extracts navigation targets from one inline handler's
// source without touching the real page: the snippet runs in a sandboxed VM
// with a fake location object, and its string literals are scanned for
// URL-shaped values.
func analyzeHandler(source, pageURL string) []string {
	unique := make(map[string]struct{})
	var targets []string

	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if !looksLikeTarget(candidate) {
			return
		}
		resolved := urlutil.ResolveURL(pageURL, candidate)
		if resolved == pageURL {
			return
		}
		if err := urlutil.ValidateURL(resolved); err != nil {
			return
		}
		if _, ok := unique[resolved]; ok {
			return
		}
		unique[resolved] = struct{}{}
		targets = append(targets, resolved)
	}

	// Sandboxed execution: assignments to location/location.href are the
	// most common inline navigation idiom and survive even heavy
	// minification.
	if dest := executeSandboxed(source, pageURL); dest != "" {
		add(dest)
	}

	// Literal scan catches targets passed to helper functions the sandbox
	// cannot resolve.
	for _, m := range quotedLiteralRe.FindAllStringSubmatch(source, -1) {
		literal := m[1]
		if literal == "" {
			literal = m[2]
		}
		add(literal)
	}

	return targets
}

// executeSandboxed runs the handler in a goja VM with just enough of a
// browser environment mocked to observe navigation. It returns the value of
// location.href after execution, or "" when the handler did not navigate.
func executeSandboxed(source, pageURL string) string {
	vm := goja.New()

	loc := vm.NewObject()
	_ = loc.Set("href", pageURL)
	_ = loc.Set("assign", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			_ = loc.Set("href", call.Arguments[0].String())
		}
		return goja.Undefined()
	})
	_ = loc.Set("replace", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			_ = loc.Set("href", call.Arguments[0].String())
		}
		return goja.Undefined()
	})

	_ = vm.Set("window", vm.GlobalObject())
	_ = vm.Set("self", vm.GlobalObject())
	_ = vm.Set("location", loc)
	doc := vm.NewObject()
	_ = doc.Set("location", loc)
	_ = vm.Set("document", doc)
	_ = vm.Set("open", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			_ = loc.Set("href", call.Arguments[0].String())
		}
		return goja.Undefined()
	})

	timer := time.AfterFunc(handlerExecTimeout, func() {
		vm.Interrupt("handler analysis timeout")
	})
	defer timer.Stop()

	// Errors are expected: most handlers reference DOM APIs the sandbox
	// does not provide. Whatever ran before the error still counts.
	_, _ = vm.RunString(source)

	href := loc.Get("href")
	if href == nil {
		return ""
	}
	if dest := href.String(); dest != pageURL {
		return dest
	}
	return ""
}

// looksLikeTarget filters string literals down to plausible URLs or paths.
func looksLikeTarget(s string) bool {
	if s == "" || len(s) > 2048 {
		return false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	if strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//") {
		return true
	}
	// Relative paths like "page.php?id=1" need at least a hint of structure.
	if strings.ContainsAny(s, "/?") && !strings.ContainsAny(s, " \t\n{}<>") {
		return !strings.HasPrefix(s, "#")
	}
	return false
}
