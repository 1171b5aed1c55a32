package control

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/network/networktest"
)

const origin = "https://shell.local"

type fakeRuntime struct {
	active  *lifecycle.Controller
	skipped int
}

func (r *fakeRuntime) SkipWaiting(ctx context.Context) error {
	r.skipped++
	return nil
}

func (r *fakeRuntime) Active() *lifecycle.Controller {
	return r.active
}

// activeController 部署一个包含 n 个资源的代际并返回激活后的 Controller。
func activeController(t *testing.T, n int) (*lifecycle.Controller, *networktest.Fetcher) {
	t.Helper()
	keyer := manifest.NewKeyer(origin, "?v=", true)
	fetcher := networktest.New()
	m := manifest.Manifest{"/": "root"}
	fetcher.Serve(keyer.URL("/"), "index")
	for i := 0; i < n-1; i++ {
		key := fmt.Sprintf("asset-%02d.js", i)
		m[key] = fmt.Sprintf("h%d", i)
		fetcher.Serve(keyer.URL(key), "body "+key)
	}
	bundle, err := manifest.NewBundle(m, manifest.CoreSet{"/"})
	require.NoError(t, err)

	c, err := lifecycle.New(lifecycle.Options{
		Generation: "gen-1",
		Bundle:     bundle,
		Keyer:      keyer,
		Names: lifecycle.Names{
			Content:   "content",
			Temp:      "temp",
			Record:    "record",
			RecordKey: "manifest",
		},
		Store:   cache.NewMemoryStore(),
		Fetcher: fetcher,
	})
	require.NoError(t, err)
	require.NoError(t, c.Install(context.Background()))
	_, err = c.Activate(context.Background())
	require.NoError(t, err)
	fetcher.Reset()
	return c, fetcher
}

func fill(t *testing.T, c *lifecycle.Controller, keys []string) {
	t.Helper()
	content, err := c.Store().Open(context.Background(), c.Names().Content)
	require.NoError(t, err)
	for _, key := range keys {
		err := content.Put(context.Background(), c.Keyer().URL(key), &cache.Response{Status: http.StatusOK, Body: []byte("cached " + key)})
		require.NoError(t, err)
	}
}

func TestPrefetchFetchesOnlyMissingKeys(t *testing.T) {
	c, fetcher := activeController(t, 10)
	keys := c.Bundle().Manifest.Keys()
	// 根文档已在 install 时缓存，再补 8 个，剩余 1 个缺失。
	var cachedKeys []string
	for _, key := range keys {
		if key != "/" && len(cachedKeys) < 8 {
			cachedKeys = append(cachedKeys, key)
		}
	}
	fill(t, c, cachedKeys)

	runtime := &fakeRuntime{active: c}
	outcome, err := New(runtime, nil).Handle(context.Background(), MessagePrefetchAll)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Fetched)
	assert.Equal(t, 1, fetcher.Total(), "only the missing 10% is requested")

	content, err := c.Store().Open(context.Background(), c.Names().Content)
	require.NoError(t, err)
	urls, err := content.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, urls, 10)

	for _, key := range cachedKeys {
		resp, err := content.Match(context.Background(), c.Keyer().URL(key))
		require.NoError(t, err)
		assert.Equal(t, "cached "+key, string(resp.Body), "existing entries are untouched")
	}
}

func TestPrefetchIsAllOrNothing(t *testing.T) {
	c, fetcher := activeController(t, 5)
	keys := c.Bundle().Manifest.Keys()
	fetcher.Fail(c.Keyer().URL(keys[len(keys)-1]))

	_, err := Prefetch(context.Background(), c)
	require.Error(t, err)

	content, err := c.Store().Open(context.Background(), c.Names().Content)
	require.NoError(t, err)
	urls, err := content.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{origin + "/"}, urls, "a failed batch stores nothing")
}

func TestPrefetchWithoutActiveWorker(t *testing.T) {
	_, err := New(&fakeRuntime{}, nil).Handle(context.Background(), MessagePrefetchAll)
	assert.ErrorIs(t, err, ErrNoActiveWorker)
}

func TestActivateNowSkipsWaiting(t *testing.T) {
	runtime := &fakeRuntime{}
	outcome, err := New(runtime, nil).Handle(context.Background(), MessageActivateNow)
	require.NoError(t, err)
	assert.Equal(t, MessageActivateNow, outcome.Message)
	assert.Equal(t, 1, runtime.skipped)
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(" prefetch-all ")
	require.NoError(t, err)
	assert.Equal(t, MessagePrefetchAll, msg)

	_, err = ParseMessage("reboot")
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = New(&fakeRuntime{}, nil).Handle(context.Background(), Message("reboot"))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}
