package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyShellDefaults(&cfg.Shell)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	// 构建产物的相对路径以配置文件所在目录为基准，避免依赖启动时的工作目录。
	baseDir := filepath.Dir(path)
	cfg.Shell.ManifestSource = resolveSource(baseDir, cfg.Shell.ManifestSource)
	cfg.Shell.CoreSetSource = resolveSource(baseDir, cfg.Shell.CoreSetSource)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", StoreBackendDisk)
	v.SetDefault("RedisAddr", "localhost:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("RedisPrefix", "shellcache")
	v.SetDefault("UpstreamTimeout", "0s")
	v.SetDefault("ContentCache", "shell-app-cache")
	v.SetDefault("TempCache", "shell-temp-cache")
	v.SetDefault("ManifestCache", "shell-app-manifest")
	v.SetDefault("ManifestRecordKey", "manifest")
	v.SetDefault("VersionParam", "?v=")
	v.SetDefault("RootFragmentAlias", true)
	v.SetDefault("SkipWaitingOnInstall", true)
	v.SetDefault("WatchManifest", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.StoreBackend) == "" {
		g.StoreBackend = StoreBackendDisk
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.RedisPrefix == "" {
		g.RedisPrefix = "shellcache"
	}
}

func applyShellDefaults(s *ShellConfig) {
	s.Origin = s.NormalizedOrigin()
	if s.ContentCache == "" {
		s.ContentCache = "shell-app-cache"
	}
	if s.TempCache == "" {
		s.TempCache = "shell-temp-cache"
	}
	if s.ManifestCache == "" {
		s.ManifestCache = "shell-app-manifest"
	}
	if s.ManifestRecordKey == "" {
		s.ManifestRecordKey = "manifest"
	}
	if s.VersionParam == "" {
		s.VersionParam = "?v="
	}
	trimmed := make([]string, 0, len(s.CoreSet))
	for _, key := range s.CoreSet {
		if key = strings.TrimSpace(key); key != "" {
			trimmed = append(trimmed, key)
		}
	}
	s.CoreSet = trimmed
}

func resolveSource(baseDir, source string) string {
	source = strings.TrimSpace(source)
	if source == "" || !isLocalSource(source) || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(baseDir, source)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
