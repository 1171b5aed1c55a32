package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
)

const (
	cachesDir  = "caches"
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<StoragePath>/caches/<cache>/<sha1(url)>.body   # 响应正文
//	<StoragePath>/caches/<cache>/<sha1(url)>.meta   # URL/状态码/头部
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newBillyStore(osfs.New(abs), BackendDisk), nil
}

// NewMemoryStore 返回进程内缓存，布局与磁盘一致，进程退出即丢失。
func NewMemoryStore() Store {
	return newBillyStore(&lockedFS{Filesystem: memfs.New()}, BackendMemory)
}

// billyStore 通过每个缓存一把 RWMutex 保证整缓存删除与条目读写互斥；
// 同一缓存内不同条目的读写可以并发，同一条目的 .body/.meta 由条目锁保证成对可见。
type billyStore struct {
	fs      billy.Filesystem
	backend string
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

type billyCache struct {
	store *billyStore
	name  string
}

// entryMeta 是 .meta 文件内容；正文单独存放。
type entryMeta struct {
	URL      string              `json:"url"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header,omitempty"`
	Size     int64               `json:"size"`
	StoredAt time.Time           `json:"stored_at"`
}

func newBillyStore(bfs billy.Filesystem, backend string) *billyStore {
	return &billyStore{
		fs:      bfs,
		backend: backend,
		now:     time.Now,
		locks:   make(map[string]*sync.RWMutex),
	}
}

func (s *billyStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	if err := s.fs.MkdirAll(s.cacheDir(name), 0o755); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &billyCache{store: s, name: name}, nil
}

func (s *billyStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkName(name); err != nil {
		return false, err
	}
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	exists, err := s.dirExists(s.cacheDir(name))
	if err != nil || !exists {
		return false, err
	}
	if err := util.RemoveAll(s.fs, s.cacheDir(name)); err != nil {
		StoreErrors.WithLabelValues(s.backend, "delete_cache").Inc()
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	CachesDeleted.WithLabelValues(name).Inc()
	return true, nil
}

func (s *billyStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkName(name); err != nil {
		return false, err
	}
	return s.dirExists(s.cacheDir(name))
}

func (s *billyStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.fs.ReadDir(cachesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *billyStore) lockFor(name string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock := s.locks[name]
	if lock == nil {
		lock = &sync.RWMutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *billyStore) cacheDir(name string) string {
	return s.fs.Join(cachesDir, name)
}

func (s *billyStore) dirExists(dir string) (bool, error) {
	info, err := s.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (c *billyCache) Name() string {
	return c.name
}

func (c *billyCache) Match(ctx context.Context, url string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := c.store.lockFor(c.name)
	lock.RLock()
	defer lock.RUnlock()

	base := c.entryBase(url)
	entry := c.store.lockFor(base)
	entry.RLock()
	defer entry.RUnlock()

	meta, err := c.readMeta(base + metaSuffix)
	if err != nil {
		return nil, err
	}
	if meta.URL != url {
		// sha1 碰撞概率可忽略，但仍以 URL 为准。
		return nil, ErrNotFound
	}
	body, err := c.readFile(base + bodySuffix)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:      meta.URL,
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (c *billyCache) Put(ctx context.Context, url string, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := c.store.lockFor(c.name)
	lock.RLock()
	defer lock.RUnlock()

	dir := c.store.cacheDir(c.name)
	if err := c.store.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	stored := resp.ForStorage()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.store.now().UTC()
	}
	meta := entryMeta{
		URL:      url,
		Status:   stored.Status,
		Header:   stored.Header,
		Size:     int64(len(stored.Body)),
		StoredAt: stored.StoredAt,
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode entry meta: %w", err)
	}

	// 先写正文再写 meta：Keys 以 meta 为准，只会看到完整条目；
	// 条目写锁保证 Match 不会读到旧 meta 搭配新正文。
	base := c.entryBase(url)
	entry := c.store.lockFor(base)
	entry.Lock()
	defer entry.Unlock()

	if err := c.writeAtomic(base+bodySuffix, stored.Body); err != nil {
		StoreErrors.WithLabelValues(c.store.backend, "put").Inc()
		return err
	}
	if err := c.writeAtomic(base+metaSuffix, encoded); err != nil {
		StoreErrors.WithLabelValues(c.store.backend, "put").Inc()
		return err
	}
	return nil
}

func (c *billyCache) Delete(ctx context.Context, url string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lock := c.store.lockFor(c.name)
	lock.RLock()
	defer lock.RUnlock()

	base := c.entryBase(url)
	entry := c.store.lockFor(base)
	entry.Lock()
	defer entry.Unlock()

	if err := c.store.fs.Remove(base + metaSuffix); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := c.store.fs.Remove(base + bodySuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (c *billyCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := c.store.lockFor(c.name)
	lock.RLock()
	defer lock.RUnlock()

	dir := c.store.cacheDir(c.name)
	infos, err := c.store.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), metaSuffix) {
			continue
		}
		meta, err := c.readMeta(c.store.fs.Join(dir, info.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys = append(keys, meta.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *billyCache) entryBase(url string) string {
	sum := sha1.Sum([]byte(url))
	return c.store.fs.Join(c.store.cacheDir(c.name), hex.EncodeToString(sum[:]))
}

func (c *billyCache) readMeta(name string) (*entryMeta, error) {
	raw, err := c.readFile(name)
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode entry meta %s: %w", name, err)
	}
	return &meta, nil
}

func (c *billyCache) readFile(name string) ([]byte, error) {
	f, err := c.store.fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeAtomic 通过临时文件 + rename 写入，失败时清理临时文件。
func (c *billyCache) writeAtomic(name string, data []byte) error {
	tempName := name + ".tmp-" + uuid.NewString()
	f, err := c.store.fs.Create(tempName)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = c.store.fs.Remove(tempName)
		return err
	}
	if err := c.store.fs.Rename(tempName, name); err != nil {
		_ = c.store.fs.Remove(tempName)
		return err
	}
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
