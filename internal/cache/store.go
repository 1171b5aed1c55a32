package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 管理一组命名缓存。Open 按需创建，Delete 一次性移除整个缓存，
// 对同一 Store 上的其它操作而言删除是原子的。
type Store interface {
	// Open 返回指定名称的缓存句柄，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Delete 删除整个命名缓存，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Has 返回命名缓存当前是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Names 返回所有已存在的缓存名（按字典序）。
	Names(ctx context.Context) ([]string, error)
}

// Cache 是单个命名缓存内 request URL → Response 的映射。
type Cache interface {
	// Name 返回缓存名。
	Name() string

	// Match 返回 URL 对应的响应；不存在时返回 ErrNotFound。
	Match(ctx context.Context, url string) (*Response, error)

	// Put 写入（或覆盖）URL 对应的响应，写入过程对读者原子可见。
	Put(ctx context.Context, url string, resp *Response) error

	// Delete 删除单个条目，返回删除前是否存在。
	Delete(ctx context.Context, url string) (bool, error)

	// Keys 返回当前所有条目的 URL（按字典序）。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是缓存中保存的一份完整响应，同时也是网络层返回的响应形态。
type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 对应 fetch 语义中的 ok 标志：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝响应，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// perClientHeaders 只属于触发回源的那个客户端，写入共享缓存前移除。
var perClientHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// ForStorage 返回可写入共享缓存的副本：深拷贝并去掉 Set-Cookie 等客户端专属头部。
func (r *Response) ForStorage() *Response {
	stored := r.Clone()
	if stored == nil {
		return nil
	}
	for _, key := range perClientHeaders {
		stored.Header.Del(key)
	}
	return stored
}

// ErrNotFound 表示缓存条目不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示缓存名为空或包含路径分隔符。
var ErrInvalidName = errors.New("invalid cache name")
