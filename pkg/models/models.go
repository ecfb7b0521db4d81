package models

import "time"

// RequestSummary is one HTTP request observed during the crawl, flattened
// for reports.
type RequestSummary struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	DebuggingID string `json:"debugging_id,omitempty"`
}

// ErrorSummary is one crawl task that failed with a hard error.
type ErrorSummary struct {
	URL         string `json:"url"`
	Error       string `json:"error"`
	DebuggingID string `json:"debugging_id,omitempty"`
}

// PageSnapshot is the rendered DOM of one crawled page.
type PageSnapshot struct {
	URL       string    `json:"url"`
	HTML      string    `json:"html,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CrawlReport summarizes one scan for the output writers.
type CrawlReport struct {
	Seed       string           `json:"seed"`
	StartedAt  time.Time        `json:"started_at"`
	DurationMS int64            `json:"duration_ms"`
	Requests   []RequestSummary `json:"requests"`
	Errors     []ErrorSummary   `json:"errors,omitempty"`
	Snapshots  []PageSnapshot   `json:"-"`
}
