package manifest

import "strings"

// Keyer 负责请求 URL 与资源 key 之间的换算，所有规则都以去掉末尾斜杠的 Origin 为前缀。
type Keyer struct {
	origin            string
	versionParam      string
	rootFragmentAlias bool
}

// NewKeyer 构造 Keyer；versionParam 为空时使用 "?v="。
func NewKeyer(origin, versionParam string, rootFragmentAlias bool) Keyer {
	if versionParam == "" {
		versionParam = "?v="
	}
	return Keyer{
		origin:            strings.TrimRight(origin, "/"),
		versionParam:      versionParam,
		rootFragmentAlias: rootFragmentAlias,
	}
}

// Origin 返回规范化后的 Origin。
func (k Keyer) Origin() string {
	return k.origin
}

// RequestKey 从请求 URL 推导资源 key：去掉 Origin 前缀与缓存版本参数，
// 等于 Origin、以 "Origin/#" 开头或推导结果为空时视为根 key。
// 不属于 Origin 的 URL 返回 false。
func (k Keyer) RequestKey(rawURL string) (string, bool) {
	if rawURL == k.origin {
		return RootKey, true
	}
	prefix := k.origin + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	if k.rootFragmentAlias && strings.HasPrefix(rawURL, prefix+"#") {
		return RootKey, true
	}
	key := rawURL[len(prefix):]
	if idx := strings.Index(key, k.versionParam); idx != -1 {
		key = key[:idx]
	}
	if key == "" {
		return RootKey, true
	}
	return key, true
}

// EntryKey 从缓存条目的 URL 还原资源 key，空后缀还原为根 key。
func (k Keyer) EntryKey(entryURL string) (string, bool) {
	prefix := k.origin + "/"
	if entryURL == k.origin {
		return RootKey, true
	}
	if !strings.HasPrefix(entryURL, prefix) {
		return "", false
	}
	key := entryURL[len(prefix):]
	if key == "" {
		return RootKey, true
	}
	return key, true
}

// URL 返回 key 在缓存中的规范 URL。
func (k Keyer) URL(key string) string {
	if key == RootKey || key == "" {
		return k.origin + "/"
	}
	return k.origin + "/" + key
}
