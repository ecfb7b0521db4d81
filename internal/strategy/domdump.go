// internal/strategy/domdump.go
package strategy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
	urlutil "github.com/rendercrawl/rendercrawl/internal/utils/url"
)

// DOMDump extracts links from the rendered DOM after the page (and its
// scripts) finished mutating it. It pushes a snapshot of the DOM itself plus
// one discovered-request record per crawlable link.
type DOMDump struct {
	shared      *State
	debuggingID string
}

// NewDOMDump builds a DOMDump instance for one crawl invocation.
func NewDOMDump(shared *State, debuggingID string) Strategy {
	return &DOMDump{shared: shared, debuggingID: debuggingID}
}

// Name identifies the strategy in logs.
func (d *DOMDump) Name() string {
	return "dom_dump"
}

// DebuggingID returns the crawl invocation's correlation token.
func (d *DOMDump) DebuggingID() string {
	return d.debuggingID
}

// Run dumps the DOM and emits the traffic it implies.
func (d *DOMDump) Run(ctx context.Context, b browser.Browser, pageURL string) error {
	reader, ok := b.(browser.DOMReader)
	if !ok {
		return &ExtractionError{Strategy: d.Name(), Err: browser.ErrNotSupported}
	}

	dom, err := reader.DOM(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(dom) == "" {
		return &ExtractionError{Strategy: d.Name(), Err: errors.New("browser returned an empty DOM")}
	}

	sink := b.Sink()
	if sink == nil {
		return &ExtractionError{Strategy: d.Name(), Err: errors.New("browser has no bound traffic sink")}
	}

	// The rendered DOM goes downstream as a regular response so consumers
	// can re-parse it with whatever they parse HTML with.
	sink.Push(traffic.Record{
		Request: &traffic.Request{Method: "GET", URL: pageURL},
		Response: &traffic.Response{
			StatusCode:  200,
			URL:         pageURL,
			ContentType: "text/html",
			Body:        dom,
		},
		DebuggingID: d.debuggingID,
		ObservedAt:  time.Now(),
	})

	links, err := extractLinks(dom, pageURL)
	if err != nil {
		return &ExtractionError{Strategy: d.Name(), Err: err}
	}

	for _, link := range links {
		sink.Push(traffic.Record{
			Request:     &traffic.Request{Method: "GET", URL: link},
			DebuggingID: d.debuggingID,
			ObservedAt:  time.Now(),
		})
	}

	log.Debug().
		Str("url", pageURL).
		Int("links", len(links)).
		Str("did", d.debuggingID).
		Msg("DOM dump extracted links")

	return nil
}

// extractLinks pulls crawlable URLs out of a serialized DOM: anchors, form
// actions, frames and area maps.
func extractLinks(dom, base string) ([]string, error) {
	root, err := html.Parse(strings.NewReader(dom))
	if err != nil {
		return nil, err
	}
	doc := goquery.NewDocumentFromNode(root)

	unique := make(map[string]struct{})
	var links []string

	add := func(href string) {
		if !urlutil.IsWebLink(href) {
			return
		}
		resolved := urlutil.ResolveURL(base, href)
		if err := urlutil.ValidateURL(resolved); err != nil {
			return
		}
		if _, ok := unique[resolved]; ok {
			return
		}
		unique[resolved] = struct{}{}
		links = append(links, resolved)
	}

	doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("frame[src], iframe[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
	})
	doc.Find("form[action]").Each(func(_ int, sel *goquery.Selection) {
		method, _ := sel.Attr("method")
		// Only GET forms produce crawlable URLs; submitting POST forms is
		// the auditor's job, not the crawler's.
		if method == "" || strings.EqualFold(method, "get") {
			if action, ok := sel.Attr("action"); ok {
				add(action)
			}
		}
	})

	return links, nil
}
