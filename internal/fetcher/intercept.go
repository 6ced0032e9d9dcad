package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxInterceptedBody caps each response replayed into the browser.
const maxInterceptedBody = 16 << 20

// Resource types the renderers drop; only markup and scripts matter.
var heavyResources = map[string]bool{
	"Image": true,
	"Font":  true,
	"Media": true,
}

func blockedResource(resourceType string) bool {
	return heavyResources[resourceType]
}

// interceptedResponse is what a renderer hands back to Chromium in place of
// a network load.
type interceptedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// loadIntercepted performs a paused browser request through client. Only
// GET and HEAD are replayed. The Accept-Encoding header is dropped so the
// transport decodes bodies and Chromium receives them as-is.
func loadIntercepted(ctx context.Context, client *http.Client, method, rawURL string, headers http.Header, maxBody int64) (*interceptedResponse, error) {
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("%s %s: method not replayed", method, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Del("Accept-Encoding")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if maxBody > 0 {
		body = io.LimitReader(resp.Body, maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	return &interceptedResponse{Status: resp.StatusCode, Header: header, Body: data}, nil
}
