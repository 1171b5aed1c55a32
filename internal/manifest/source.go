package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxArtifactSize 限制单个构建产物的读取大小。
const maxArtifactSize = 32 << 20

// Source 描述构建产物所在位置：本地路径或 http(s) URL。
// InlineCoreSet 非空时优先于 CoreSet 位置。
type Source struct {
	Manifest      string
	CoreSet       string
	InlineCoreSet []string
}

// Load 读取 Manifest 与 Core Set 并组装成 Bundle。远程产物通过 client 获取。
func Load(ctx context.Context, client *http.Client, src Source) (*Bundle, error) {
	raw, err := readArtifact(ctx, client, src.Manifest)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	var core CoreSet
	if len(src.InlineCoreSet) > 0 {
		core, err = NewCoreSet(src.InlineCoreSet)
	} else {
		raw, err = readArtifact(ctx, client, src.CoreSet)
		if err != nil {
			return nil, fmt.Errorf("read core set: %w", err)
		}
		core, err = ParseCoreSet(raw)
	}
	if err != nil {
		return nil, err
	}
	return NewBundle(m, core)
}

func readArtifact(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("artifact location is empty")
	}
	if !isRemote(location) {
		return os.ReadFile(location)
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", location, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
}

func isRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
