package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// maxFetchBytes caps how much of a fetched document is read into memory.
const maxFetchBytes = 2 << 20

// Fetch performs a plain HTTP GET and converts the exchange into the
// request/response pair the crawler gates on. The response URL is the final
// URL after redirects.
func (a *Application) Fetch(ctx context.Context, rawURL string, hdrs map[string]string) (*traffic.Request, *traffic.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("User-Agent", a.Config.UserAgent)
	for k, v := range hdrs {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxFetchBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	reqHeaders := make(map[string]string, len(hdrs)+1)
	reqHeaders["User-Agent"] = a.Config.UserAgent
	for k, v := range hdrs {
		reqHeaders[k] = v
	}

	respHeaders := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		respHeaders[k] = httpResp.Header.Get(k)
	}

	req := &traffic.Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Headers: reqHeaders,
	}
	resp := &traffic.Response{
		StatusCode:  httpResp.StatusCode,
		URL:         httpResp.Request.URL.String(),
		ContentType: httpResp.Header.Get("Content-Type"),
		Headers:     respHeaders,
		Body:        string(body),
	}
	return req, resp, nil
}
