package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStoreBackends = map[string]struct{}{
	StoreBackendDisk:   {},
	StoreBackendMemory: {},
	StoreBackendRedis:  {},
}

const supportedStoreBackendList = "disk|memory|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStoreBackends[g.StoreBackend]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedStoreBackendList)
	}
	if g.StoreBackend == StoreBackendDisk && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "disk 后端不能为空")
	}
	if g.StoreBackend == StoreBackendRedis && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 后端不能为空")
	}
	if g.RedisDB < 0 {
		return newFieldError("Global.RedisDB", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}

	return c.Shell.validate()
}

func (s ShellConfig) validate() error {
	if err := validateOrigin(s.Origin); err != nil {
		return fmt.Errorf("%s: %w", shellField("Origin"), err)
	}
	if strings.TrimSpace(s.ManifestSource) == "" {
		return newFieldError(shellField("ManifestSource"), "不能为空")
	}
	if !s.HasInlineCoreSet() && strings.TrimSpace(s.CoreSetSource) == "" {
		return newFieldError(shellField("CoreSet"), "CoreSet 与 CoreSetSource 至少提供一个")
	}
	if s.WatchManifest && !s.ManifestIsLocal() {
		return newFieldError(shellField("WatchManifest"), "仅支持监听本地 ManifestSource")
	}

	names := map[string]string{}
	for field, name := range map[string]string{
		"ContentCache":  s.ContentCache,
		"TempCache":     s.TempCache,
		"ManifestCache": s.ManifestCache,
	} {
		if err := validateCacheName(name); err != nil {
			return fmt.Errorf("%s: %w", shellField(field), err)
		}
		if prior, exists := names[name]; exists {
			return newFieldError(shellField(field), "与 "+prior+" 重名")
		}
		names[name] = field
	}
	if strings.TrimSpace(s.ManifestRecordKey) == "" {
		return newFieldError(shellField("ManifestRecordKey"), "不能为空")
	}
	if strings.TrimSpace(s.VersionParam) == "" {
		return newFieldError(shellField("VersionParam"), "不能为空")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少 Origin")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，Origin: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("Origin 缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("Origin 不应包含查询或片段: %s", raw)
	}
	return nil
}

func validateCacheName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("缓存名不能为空")
	}
	if strings.ContainsAny(name, `/\: `) || name == "." || name == ".." {
		return fmt.Errorf("缓存名包含非法字符: %s", name)
	}
	return nil
}
