package fetcher

import (
	"context"

	"github.com/IshaanNene/medfeed/internal/types"
)

// Fetcher is the interface for all request fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// FetchURL builds a request of the given kind and runs it through f.
func FetchURL(ctx context.Context, f Fetcher, rawURL string, kind types.RequestKind) (*types.Response, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return nil, &types.ValidationError{URL: rawURL, Reason: "malformed", Err: err}
	}
	req.Kind = kind
	return f.Fetch(ctx, req)
}
