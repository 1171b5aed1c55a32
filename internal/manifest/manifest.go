package manifest

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RootKey 是根文档在 Manifest 中的固定 key。
const RootKey = "/"

// Manifest 将资源 key 映射到内容指纹，加载后不可修改。
type Manifest map[string]string

// Parse 解析扁平 JSON 对象形式的 Manifest。
func Parse(data []byte) (Manifest, error) {
	var raw map[string]string
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if raw == nil {
		return nil, errors.New("manifest must be a JSON object")
	}
	m := make(Manifest, len(raw))
	for key, fingerprint := range raw {
		if strings.TrimSpace(key) == "" {
			return nil, errors.New("manifest contains an empty key")
		}
		m[key] = fingerprint
	}
	return m, nil
}

// Encode 输出 key 有序的 JSON，相同内容总是得到相同字节。
func (m Manifest) Encode() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

// Fingerprint 返回 key 对应的指纹。
func (m Manifest) Fingerprint(key string) (string, bool) {
	fp, ok := m[key]
	return fp, ok
}

// Has 表示 key 是否受 Manifest 管理。
func (m Manifest) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys 返回排序后的全部 key。
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stale 判断缓存中的 key 在升级后是否失效：新 Manifest 不再包含它，
// 或新旧指纹不一致。
func Stale(prev, next Manifest, key string) bool {
	nextFP, ok := next[key]
	if !ok {
		return true
	}
	prevFP, ok := prev[key]
	return !ok || prevFP != nextFP
}

// CoreSet 是安装阶段必须强制回源下载的有序 key 列表。
type CoreSet []string

// ParseCoreSet 解析 JSON 字符串数组形式的 Core Set。
func ParseCoreSet(data []byte) (CoreSet, error) {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode core set: %w", err)
	}
	return NewCoreSet(keys)
}

// NewCoreSet 去除空白项与重复项，保持原有顺序。
func NewCoreSet(keys []string) (CoreSet, error) {
	seen := make(map[string]struct{}, len(keys))
	core := make(CoreSet, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		core = append(core, key)
	}
	if len(core) == 0 {
		return nil, errors.New("core set is empty")
	}
	return core, nil
}

// Bundle 是一次部署的全部输入，ID 由 Manifest 与 Core Set 的规范编码计算得出。
type Bundle struct {
	ID       string
	Manifest Manifest
	CoreSet  CoreSet
}

// NewBundle 校验 Core Set ⊆ Manifest 并计算部署 ID。
func NewBundle(m Manifest, core CoreSet) (*Bundle, error) {
	if len(m) == 0 {
		return nil, errors.New("manifest is empty")
	}
	if len(core) == 0 {
		return nil, errors.New("core set is empty")
	}
	var missing []string
	for _, key := range core {
		if !m.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("core set keys not in manifest: %s", strings.Join(missing, ", "))
	}

	encoded, err := m.Encode()
	if err != nil {
		return nil, err
	}
	sum := sha1.New()
	sum.Write(encoded)
	sum.Write([]byte{0})
	sum.Write([]byte(strings.Join(core, "\n")))

	return &Bundle{
		ID:       hex.EncodeToString(sum.Sum(nil)),
		Manifest: m,
		CoreSet:  append(CoreSet(nil), core...),
	}, nil
}

// ShortID 返回日志中使用的短 ID。
func (b *Bundle) ShortID() string {
	if b == nil {
		return ""
	}
	if len(b.ID) > 12 {
		return b.ID[:12]
	}
	return b.ID
}
