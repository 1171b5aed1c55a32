package network

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shellcache/internal/cache"
)

// batchConcurrency 限制批量下载的并发度。
const batchConcurrency = 8

// AddAll 下载全部 URL 并写入 dst，语义为全有或全无：任一请求失败或返回非 2xx
// 时不写入任何条目；写入阶段失败时回滚本批次已写入的条目。返回写入条数。
func AddAll(ctx context.Context, f Fetcher, dst cache.Cache, urls []string, opts FetchOptions) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	responses := make([]*cache.Response, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			resp, err := f.Fetch(gctx, &Request{Method: http.MethodGet, URL: url}, opts)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("%w: GET %s returned %d", ErrNotOK, url, resp.Status)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		BatchTotal.WithLabelValues(resultNetworkError).Inc()
		return 0, err
	}

	written := make([]string, 0, len(urls))
	for i, url := range urls {
		if err := dst.Put(ctx, url, responses[i]); err != nil {
			rollback(context.WithoutCancel(ctx), dst, written)
			BatchTotal.WithLabelValues(resultStoreError).Inc()
			return 0, fmt.Errorf("store %s in %s: %w", url, dst.Name(), err)
		}
		written = append(written, url)
	}
	BatchTotal.WithLabelValues(resultOK).Inc()
	return len(written), nil
}

func rollback(ctx context.Context, dst cache.Cache, urls []string) {
	for _, url := range urls {
		_, _ = dst.Delete(ctx, url)
	}
}
