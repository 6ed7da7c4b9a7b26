package proxywhirl

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// BatchGet fetches the URLs concurrently through the pool, at most
// dispatch.batch_concurrency in flight at once. Results come back in
// input order; per-URL failures land in the result, they never abort the
// batch. The returned error is only non-nil when ctx ends early.
func (c *Client) BatchGet(ctx context.Context, urls []string) ([]BatchResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	results := make([]BatchResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	limit := c.cfg.Dispatch.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, url := range urls {
		results[i].URL = url
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			resp, err := c.Do(gctx, &Request{Method: http.MethodGet, URL: url})
			results[i].Response = resp
			results[i].Err = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
