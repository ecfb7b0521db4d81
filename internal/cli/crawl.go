// internal/cli/crawl.go
package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rendercrawl/rendercrawl/internal/app"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
	"github.com/rendercrawl/rendercrawl/internal/ui"
	"github.com/rendercrawl/rendercrawl/internal/utils/headers"
	"github.com/rendercrawl/rendercrawl/internal/utils/output"
	urlutil "github.com/rendercrawl/rendercrawl/internal/utils/url"
	"github.com/rendercrawl/rendercrawl/pkg/models"
)

var (
	crawlOutput      string
	crawlCSV         string
	crawlMarkdownDir string
	crawlHeaders     []string
	crawlMaxPages    int
	crawlAnyHost     bool
	crawlShowConsole bool
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a site with real browsers and record its traffic",
	Long: `Fetches the seed URL, loads it in a headless browser pool, and lets the
extraction strategies discover new URLs: static links from the rendered DOM
and targets hidden behind JavaScript event handlers.

Discovered pages are fetched and crawled in turn until the page budget runs
out. Every HTTP request observed along the way ends up in the report.`,
	Example: `  # Crawl a site with the default browser pool
  rendercrawl crawl https://example.com

  # Save the full report and a CSV of observed requests
  rendercrawl crawl https://example.com -o report.json --csv requests.csv

  # Keep Markdown snapshots of every rendered page
  rendercrawl crawl https://example.com --markdown-dir pages/

  # Crawl harder with more browsers and a bigger budget
  rendercrawl crawl https://example.com -n 5 --max-pages 100

  # Add custom headers to the seed request
  rendercrawl crawl https://example.com -H "Authorization: Bearer token"`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&crawlOutput, "output", "o", "", "File path to save the JSON report")
	crawlCmd.Flags().StringVar(&crawlCSV, "csv", "", "File path to save observed requests as CSV")
	crawlCmd.Flags().StringVar(&crawlMarkdownDir, "markdown-dir", "", "Directory to save Markdown snapshots of rendered pages")
	crawlCmd.Flags().StringArrayVarP(&crawlHeaders, "header", "H", []string{}, "Custom headers (e.g., -H \"User-Agent: Bot\")")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 25, "Maximum number of pages to crawl")
	crawlCmd.Flags().BoolVar(&crawlAnyHost, "any-host", false, "Follow discovered links to other hosts")
	crawlCmd.Flags().BoolVar(&crawlShowConsole, "show-console", false, "Print browser console output and JS errors (single instance only)")
}

// crawlRun carries the per-invocation state of one crawl command.
type crawlRun struct {
	appCtx  appHandle
	queue   *traffic.Queue
	report  *models.CrawlReport
	headers map[string]string

	seedHost string
	pages    int
	maxPages int
	anyHost  bool
}

// appHandle is the slice of Application the crawl loop needs. Narrowed for
// tests.
type appHandle interface {
	Fetch(ctx context.Context, rawURL string, hdrs map[string]string) (*traffic.Request, *traffic.Response, error)
	Dispatch(req *traffic.Request, resp *traffic.Response, sink traffic.Sink, debuggingID string) (bool, error)
	HasPendingWork() bool
}

// liveApp adapts the real Application to appHandle.
type liveApp struct {
	app *app.Application
}

func (l *liveApp) Fetch(ctx context.Context, rawURL string, hdrs map[string]string) (*traffic.Request, *traffic.Response, error) {
	return l.app.Fetch(ctx, rawURL, hdrs)
}

func (l *liveApp) Dispatch(req *traffic.Request, resp *traffic.Response, sink traffic.Sink, debuggingID string) (bool, error) {
	return l.app.Crawler.Crawl(req, resp, sink, debuggingID, true)
}

func (l *liveApp) HasPendingWork() bool {
	return l.app.Crawler.HasPendingWork()
}

// printBrowserOutput dumps captured console messages and JS errors. Only
// works when the pool holds a single idle instance.
func printBrowserOutput(appCtx *app.Application) {
	msgs, err := appCtx.Crawler.ConsoleMessages()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read console messages")
	} else if len(msgs) > 0 {
		fmt.Printf("\n%s\n", ui.Header("Console"))
		for _, m := range msgs {
			fmt.Printf("  %s\n", m)
		}
	}

	jsErrs, err := appCtx.Crawler.JSErrors()
	if err != nil {
		log.Warn().Err(err).Msg("Could not read JS errors")
	} else if len(jsErrs) > 0 {
		fmt.Printf("\n%s\n", ui.Header("JS Errors"))
		for _, e := range jsErrs {
			fmt.Printf("  %s\n", ui.Error(e))
		}
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	seedURL := args[0]

	if err := urlutil.ValidateURL(seedURL); err != nil {
		return err
	}

	appCtx := GetAppFromCmd(cmd)
	if appCtx == nil {
		return fmt.Errorf("application not initialized")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := appCtx.EnsureCrawler(ctx); err != nil {
		return fmt.Errorf("failed to start browser pool: %w", err)
	}

	parsed, err := url.Parse(seedURL)
	if err != nil {
		return err
	}

	run := &crawlRun{
		appCtx:  &liveApp{appCtx},
		queue:   traffic.NewQueue(appCtx.Config.TrafficQueueSize),
		report:  &models.CrawlReport{Seed: seedURL, StartedAt: time.Now()},
		headers: headers.ParseHeaders(crawlHeaders),

		seedHost: parsed.Hostname(),
		maxPages: crawlMaxPages,
		anyHost:  crawlAnyHost,
	}

	if err := run.crawl(ctx, seedURL); err != nil {
		return err
	}

	run.report.DurationMS = time.Since(run.report.StartedAt).Milliseconds()

	if err := run.writeOutputs(); err != nil {
		return err
	}

	if crawlShowConsole {
		printBrowserOutput(appCtx)
	}

	run.printSummary()
	return nil
}

// crawl fetches the seed, dispatches it, and drains the traffic queue until
// the crawler has no pending work left.
func (r *crawlRun) crawl(ctx context.Context, seedURL string) error {
	req, resp, err := r.appCtx.Fetch(ctx, seedURL, r.headers)
	if err != nil {
		return fmt.Errorf("failed to fetch seed URL: %w", err)
	}

	crawled, err := r.appCtx.Dispatch(req, resp, r.queue, "")
	if err != nil {
		return err
	}
	if !crawled {
		return fmt.Errorf("seed URL is not crawlable (not an HTML page, or already seen)")
	}
	r.pages++

	bar := progressbar.Default(-1, "crawling")
	defer bar.Finish()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case rec := <-r.queue.Records():
			bar.Add(1)
			r.handleRecord(ctx, rec)
		case <-ticker.C:
			if !r.appCtx.HasPendingWork() && r.queue.Len() == 0 {
				return nil
			}
		case <-ctx.Done():
			log.Warn().Msg("Crawl interrupted, writing partial report")
			return nil
		}
	}
}

// handleRecord routes one traffic record: failures go to the error list,
// captured traffic is summarized and fed back into the crawler, and bare
// requests are discovered links that still need fetching.
func (r *crawlRun) handleRecord(ctx context.Context, rec traffic.Record) {
	switch {
	case rec.IsError():
		errURL := ""
		if rec.Request != nil {
			errURL = rec.Request.URL
		}
		r.report.Errors = append(r.report.Errors, models.ErrorSummary{
			URL:         errURL,
			Error:       rec.Err.Error(),
			DebuggingID: rec.DebuggingID,
		})

	case rec.Response != nil:
		summary := models.RequestSummary{
			URL:         rec.Response.URL,
			StatusCode:  rec.Response.StatusCode,
			ContentType: rec.Response.ContentType,
			DebuggingID: rec.DebuggingID,
		}
		if rec.Request != nil {
			summary.Method = rec.Request.Method
		}
		r.report.Requests = append(r.report.Requests, summary)

		if rec.Response.Body != "" && strings.Contains(strings.ToLower(rec.Response.ContentType), "html") {
			r.report.Snapshots = append(r.report.Snapshots, models.PageSnapshot{
				URL:       rec.Response.URL,
				HTML:      rec.Response.Body,
				FetchedAt: rec.ObservedAt,
			})
		}

		// Captured HTML responses are crawl candidates themselves. The
		// crawler's seen-URL gate keeps this from looping.
		r.dispatch(rec.Request, rec.Response, rec.DebuggingID)

	case rec.Request != nil:
		r.followLink(ctx, rec)
	}
}

// followLink fetches a discovered URL and feeds the result back into the
// crawler, within the host and page budget limits.
func (r *crawlRun) followLink(ctx context.Context, rec traffic.Record) {
	link := rec.Request.URL
	if !urlutil.IsWebLink(link) {
		return
	}
	if r.pages >= r.maxPages {
		return
	}
	if !r.anyHost {
		parsed, err := url.Parse(link)
		if err != nil || !strings.EqualFold(parsed.Hostname(), r.seedHost) {
			return
		}
	}

	req, resp, err := r.appCtx.Fetch(ctx, link, r.headers)
	if err != nil {
		log.Debug().Err(err).Str("url", link).Msg("Could not fetch discovered link")
		return
	}

	r.report.Requests = append(r.report.Requests, models.RequestSummary{
		Method:      req.Method,
		URL:         resp.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		DebuggingID: rec.DebuggingID,
	})

	r.dispatch(req, resp, rec.DebuggingID)
}

func (r *crawlRun) dispatch(req *traffic.Request, resp *traffic.Response, debuggingID string) {
	if req == nil || resp == nil || r.pages >= r.maxPages {
		return
	}
	crawled, err := r.appCtx.Dispatch(req, resp, r.queue, debuggingID)
	if err != nil {
		log.Debug().Err(err).Str("url", resp.URL).Msg("Dispatch failed")
		return
	}
	if crawled {
		r.pages++
	}
}

func (r *crawlRun) writeOutputs() error {
	if crawlOutput != "" {
		if err := output.SaveJSON(r.report, crawlOutput); err != nil {
			return fmt.Errorf("failed to write JSON report: %w", err)
		}
		fmt.Printf("%s Report saved to %s\n", ui.Success("✓"), crawlOutput)
	}

	if crawlCSV != "" {
		if err := output.SaveCSV(r.report, crawlCSV); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
		fmt.Printf("%s Requests saved to %s\n", ui.Success("✓"), crawlCSV)
	}

	if crawlMarkdownDir != "" {
		if err := os.MkdirAll(crawlMarkdownDir, 0755); err != nil {
			return fmt.Errorf("failed to create markdown directory: %w", err)
		}
		for i := range r.report.Snapshots {
			snap := &r.report.Snapshots[i]
			name := snapshotFilename(snap.URL)
			if err := output.SaveMarkdown(snap, filepath.Join(crawlMarkdownDir, name)); err != nil {
				log.Warn().Err(err).Str("url", snap.URL).Msg("Could not save Markdown snapshot")
			}
		}
		fmt.Printf("%s %d snapshots saved to %s\n", ui.Success("✓"), len(r.report.Snapshots), crawlMarkdownDir)
	}

	return nil
}

func (r *crawlRun) printSummary() {
	fmt.Printf("\n%s\n", ui.Header("Crawl finished"))
	fmt.Printf("  Pages crawled:     %d\n", r.pages)
	fmt.Printf("  Requests observed: %d\n", len(r.report.Requests))
	if len(r.report.Errors) > 0 {
		fmt.Printf("  Errors:            %s\n", ui.Error(fmt.Sprintf("%d", len(r.report.Errors))))
		for _, e := range r.report.Errors {
			fmt.Printf("    %s %s: %s\n", ui.Muted(e.DebuggingID), e.URL, e.Error)
		}
	}
	fmt.Printf("  Duration:          %dms\n", r.report.DurationMS)
}

// snapshotFilename derives a filesystem-safe name from a page URL.
func snapshotFilename(pageURL string) string {
	name := strings.TrimPrefix(pageURL, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, "._")
	if len(name) > 120 {
		name = name[:120]
	}
	if name == "" {
		name = "page"
	}
	return name + ".md"
}
