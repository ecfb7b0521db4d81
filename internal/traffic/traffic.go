// Package traffic defines the records that flow from renderer instances to
// the downstream consumer: captured HTTP request/response pairs and crawl
// error records, both delivered on the same sink.
package traffic

import "time"

// Request is one HTTP request observed (or synthesized) by a renderer.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response is the response paired with a Request. Body is only populated for
// document responses (e.g. a DOM snapshot); sub-resource bodies are not kept.
type Response struct {
	StatusCode  int               `json:"status_code"`
	URL         string            `json:"url"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
}

// Record is one item on the traffic sink. Either Response is set (captured
// traffic) or Err is set (a crawl task failed with a hard error). Both carry
// the debugging identifier of the crawl invocation that produced them.
type Record struct {
	Request     *Request  `json:"request,omitempty"`
	Response    *Response `json:"response,omitempty"`
	Err         error     `json:"-"`
	DebuggingID string    `json:"debugging_id,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// IsError reports whether the record carries a crawl failure instead of
// captured traffic.
func (r Record) IsError() bool {
	return r.Err != nil
}

// Sink receives records as they are produced. Push may block when the sink
// is backpressure-bounded; implementations must never panic on Push after
// the producing crawl has been dispatched.
type Sink interface {
	Push(rec Record)
}
