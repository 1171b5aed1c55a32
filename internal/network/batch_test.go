package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/shellcache/internal/cache"
)

func TestAddAllStoresEveryResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body of " + r.URL.Path))
	}))
	defer srv.Close()

	dst := openTestCache(t, "temp")
	urls := []string{srv.URL + "/a.js", srv.URL + "/b.js", srv.URL + "/"}
	n, err := AddAll(context.Background(), NewHTTPFetcher(srv.Client()), dst, urls, FetchOptions{Reload: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := dst.Match(context.Background(), srv.URL+"/b.js")
	require.NoError(t, err)
	assert.Equal(t, "body of /b.js", string(got.Body))
}

func TestAddAllIsAllOrNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/broken.js" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dst := openTestCache(t, "temp")
	urls := []string{srv.URL + "/a.js", srv.URL + "/broken.js", srv.URL + "/c.js"}
	_, err := AddAll(context.Background(), NewHTTPFetcher(srv.Client()), dst, urls, FetchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOK))

	keys, err := dst.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys, "no entry from a failed batch may be written")
}

func TestAddAllRollsBackOnStoreFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	inner := openTestCache(t, "temp")
	dst := &failingCache{Cache: inner, failOn: srv.URL + "/b.js"}
	urls := []string{srv.URL + "/a.js", srv.URL + "/b.js"}
	_, err := AddAll(context.Background(), NewHTTPFetcher(srv.Client()), dst, urls, FetchOptions{})
	require.Error(t, err)

	keys, err := inner.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAddAllEmpty(t *testing.T) {
	n, err := AddAll(context.Background(), NewHTTPFetcher(nil), openTestCache(t, "temp"), nil, FetchOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingCache struct {
	cache.Cache
	failOn string
}

func (c *failingCache) Put(ctx context.Context, url string, resp *cache.Response) error {
	if url == c.failOn {
		return errors.New("disk full")
	}
	return c.Cache.Put(ctx, url, resp)
}

func openTestCache(t *testing.T, name string) cache.Cache {
	t.Helper()
	c, err := cache.NewMemoryStore().Open(context.Background(), name)
	require.NoError(t, err)
	return c
}
