package cache

import (
	"context"
	"fmt"
)

// CopyAll 将 src 的全部条目写入 dst，同 URL 的已有条目被覆盖，返回复制的条目数。
// 任一读写失败立即返回，调用方负责决定失败后的清理策略。
func CopyAll(ctx context.Context, src, dst Cache) (int, error) {
	urls, err := src.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", src.Name(), err)
	}
	copied := 0
	for _, url := range urls {
		resp, err := src.Match(ctx, url)
		if err != nil {
			return copied, fmt.Errorf("read %s from %s: %w", url, src.Name(), err)
		}
		if err := dst.Put(ctx, url, resp); err != nil {
			return copied, fmt.Errorf("write %s to %s: %w", url, dst.Name(), err)
		}
		copied++
	}
	return copied, nil
}

// KeySet 返回缓存当前条目 URL 的集合，便于做差集计算。
func KeySet(ctx context.Context, c Cache) (map[string]struct{}, error) {
	urls, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		set[url] = struct{}{}
	}
	return set, nil
}
