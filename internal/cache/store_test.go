package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStorePutAndMatch(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := openCache(t, store, "content")

			storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
			header := http.Header{"Content-Type": []string{"application/javascript"}}
			resp := &Response{Status: http.StatusOK, Header: header, Body: []byte("payload"), StoredAt: storedAt}
			if err := c.Put(ctx, "https://shell.local/main.js", resp); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := c.Match(ctx, "https://shell.local/main.js")
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if string(got.Body) != "payload" {
				t.Fatalf("cached payload mismatch: %s", string(got.Body))
			}
			if got.Status != http.StatusOK || got.URL != "https://shell.local/main.js" {
				t.Fatalf("unexpected response: %+v", got)
			}
			if got.Header.Get("Content-Type") != "application/javascript" {
				t.Fatalf("header not preserved: %v", got.Header)
			}
			if !got.StoredAt.Equal(storedAt) {
				t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, got.StoredAt)
			}
		})
	}
}

func TestStoreMatchMissing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			c := openCache(t, store, "content")
			_, err := c.Match(context.Background(), "https://shell.local/missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDeleteEntry(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := openCache(t, store, "content")
			putBody(t, c, "https://shell.local/a.js", "a")

			removed, err := c.Delete(ctx, "https://shell.local/a.js")
			if err != nil || !removed {
				t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
			}
			removed, err = c.Delete(ctx, "https://shell.local/a.js")
			if err != nil || removed {
				t.Fatalf("second delete should be a no-op, got removed=%v err=%v", removed, err)
			}
			if _, err := c.Match(ctx, "https://shell.local/a.js"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found after delete, got %v", err)
			}
		})
	}
}

func TestStoreKeysSortedAndOverwrite(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := openCache(t, store, "content")
			putBody(t, c, "https://shell.local/b.js", "b1")
			putBody(t, c, "https://shell.local/", "root")
			putBody(t, c, "https://shell.local/b.js", "b2")

			keys, err := c.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			if len(keys) != 2 || keys[0] != "https://shell.local/" || keys[1] != "https://shell.local/b.js" {
				t.Fatalf("unexpected keys: %v", keys)
			}
			got, err := c.Match(ctx, "https://shell.local/b.js")
			if err != nil || string(got.Body) != "b2" {
				t.Fatalf("expected last write to win, got %v %v", got, err)
			}
		})
	}
}

func TestStoreDeleteWholeCache(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			content := openCache(t, store, "content")
			temp := openCache(t, store, "temp")
			putBody(t, content, "https://shell.local/a.js", "a")
			putBody(t, temp, "https://shell.local/b.js", "b")

			deleted, err := store.Delete(ctx, "content")
			if err != nil || !deleted {
				t.Fatalf("expected content deletion, got %v %v", deleted, err)
			}
			if ok, _ := store.Has(ctx, "content"); ok {
				t.Fatalf("content should no longer exist")
			}
			names, err := store.Names(ctx)
			if err != nil {
				t.Fatalf("names error: %v", err)
			}
			if len(names) != 1 || names[0] != "temp" {
				t.Fatalf("unexpected names after delete: %v", names)
			}
			deleted, err = store.Delete(ctx, "content")
			if err != nil || deleted {
				t.Fatalf("deleting a missing cache should report false, got %v %v", deleted, err)
			}

			reopened := openCache(t, store, "content")
			keys, err := reopened.Keys(ctx)
			if err != nil || len(keys) != 0 {
				t.Fatalf("reopened cache should be empty, got %v %v", keys, err)
			}
		})
	}
}

func TestStoreRejectsInvalidName(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Open(context.Background(), "../escape"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestDiskStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	c := openCache(t, store, "content")
	putBody(t, c, "https://shell.local/main.js", "main")

	entries, err := os.ReadDir(filepath.Join(dir, "caches", "content"))
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected body + meta files, got %d", len(entries))
	}
}

func TestCopyAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	src := openCache(t, store, "temp")
	dst := openCache(t, store, "content")
	putBody(t, src, "https://shell.local/a.js", "fresh")
	putBody(t, src, "https://shell.local/b.js", "b")
	putBody(t, dst, "https://shell.local/a.js", "stale")

	copied, err := CopyAll(ctx, src, dst)
	if err != nil || copied != 2 {
		t.Fatalf("expected 2 copied entries, got %d %v", copied, err)
	}
	got, err := dst.Match(ctx, "https://shell.local/a.js")
	if err != nil || string(got.Body) != "fresh" {
		t.Fatalf("copy should overwrite existing entry, got %v %v", got, err)
	}
}

func TestResponseCloneIsDeep(t *testing.T) {
	resp := &Response{Status: 200, Header: http.Header{"X": {"1"}}, Body: []byte("abc")}
	cloned := resp.Clone()
	cloned.Body[0] = 'z'
	cloned.Header.Set("X", "2")
	if string(resp.Body) != "abc" || resp.Header.Get("X") != "1" {
		t.Fatalf("clone must not share body/header")
	}
	if !resp.OK() || (&Response{Status: 304}).OK() {
		t.Fatalf("OK should report 2xx only")
	}
}

// testStores returns one memory and one disk store for table-style backend tests.
func TestStoreDropsPerClientHeaders(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := openCache(t, store, "content")
			header := http.Header{}
			header.Set("Content-Type", "text/html")
			header.Add("Set-Cookie", "session=alice")
			resp := &Response{Status: http.StatusOK, Header: header, Body: []byte("<html>")}
			if err := c.Put(ctx, "https://shell.local/", resp); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := c.Match(ctx, "https://shell.local/")
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			if got.Header.Get("Set-Cookie") != "" {
				t.Fatalf("set-cookie must not be shared through the cache: %v", got.Header)
			}
			if got.Header.Get("Content-Type") != "text/html" {
				t.Fatalf("content-type should be kept: %v", got.Header)
			}
			if resp.Header.Get("Set-Cookie") != "session=alice" {
				t.Fatalf("caller's response must not be modified")
			}
		})
	}
}

func TestStoreConcurrentOverwriteKeepsEntryWhole(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := openCache(t, store, "content")
			const url = "https://shell.local/main.js"
			version := func(i int) *Response {
				v := fmt.Sprintf("v%d", i%2)
				return &Response{
					Status: http.StatusOK,
					Header: http.Header{"X-Version": []string{v}},
					Body:   []byte("body-" + v),
				}
			}
			if err := c.Put(ctx, url, version(0)); err != nil {
				t.Fatalf("put error: %v", err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						if err := c.Put(ctx, url, version(i+j)); err != nil {
							errs <- err
							return
						}
					}
				}(i)
				go func() {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						got, err := c.Match(ctx, url)
						if err != nil {
							errs <- err
							return
						}
						if string(got.Body) != "body-"+got.Header.Get("X-Version") {
							errs <- fmt.Errorf("torn entry: header %s with body %s", got.Header.Get("X-Version"), got.Body)
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatal(err)
			}
		})
	}
}

func TestMemoryStoreConcurrentPutsAcrossEntries(t *testing.T) {
	ctx := context.Background()
	c := openCache(t, NewMemoryStore(), "content")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://shell.local/chunk-%d.js", i)
			errs <- c.Put(ctx, url, &Response{Status: http.StatusOK, Body: []byte("x")})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	keys, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 16 {
		t.Fatalf("expected 16 entries, got %d", len(keys))
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	disk, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   disk,
	}
}

func openCache(t *testing.T, store Store, name string) Cache {
	t.Helper()
	c, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	return c
}

func putBody(t *testing.T, c Cache, url, body string) {
	t.Helper()
	if err := c.Put(context.Background(), url, &Response{Status: http.StatusOK, Body: []byte(body)}); err != nil {
		t.Fatalf("put %s: %v", url, err)
	}
}
