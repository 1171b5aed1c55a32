package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存后端。
const (
	StoreBackendDisk   = "disk"
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存后端与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPassword   string   `mapstructure:"RedisPassword"`
	RedisDB         int      `mapstructure:"RedisDB"`
	RedisPrefix     string   `mapstructure:"RedisPrefix"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// ShellConfig 描述被托管的应用外壳：部署源、构建产物位置与离线缓存命名。
type ShellConfig struct {
	Origin               string   `mapstructure:"Origin"`
	ManifestSource       string   `mapstructure:"ManifestSource"`
	CoreSetSource        string   `mapstructure:"CoreSetSource"`
	CoreSet              []string `mapstructure:"CoreSet"`
	ContentCache         string   `mapstructure:"ContentCache"`
	TempCache            string   `mapstructure:"TempCache"`
	ManifestCache        string   `mapstructure:"ManifestCache"`
	ManifestRecordKey    string   `mapstructure:"ManifestRecordKey"`
	VersionParam         string   `mapstructure:"VersionParam"`
	RootFragmentAlias    bool     `mapstructure:"RootFragmentAlias"`
	SkipWaitingOnInstall bool     `mapstructure:"SkipWaitingOnInstall"`
	WatchManifest        bool     `mapstructure:"WatchManifest"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Shell  ShellConfig  `mapstructure:",squash"`
}

// NormalizedOrigin 返回去掉末尾斜杠的 Origin，所有 key 推导都以此为前缀。
func (s ShellConfig) NormalizedOrigin() string {
	return strings.TrimRight(strings.TrimSpace(s.Origin), "/")
}

// HasInlineCoreSet 表示 Core Set 是否直接写在配置中（优先于 CoreSetSource）。
func (s ShellConfig) HasInlineCoreSet() bool {
	return len(s.CoreSet) > 0
}

// ManifestIsLocal 表示 ManifestSource 是否为本地文件，只有本地文件才能被 watch。
func (s ShellConfig) ManifestIsLocal() bool {
	return isLocalSource(s.ManifestSource)
}

func isLocalSource(source string) bool {
	lower := strings.ToLower(strings.TrimSpace(source))
	return !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://")
}
