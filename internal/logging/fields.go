package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源 key/策略/命中状态字段，供请求路由日志复用。
func RequestFields(key, strategy string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"resource_key": key,
		"strategy":     strategy,
		"cache_hit":    cacheHit,
	}
}

// LifecycleFields 标记 worker 代际、部署与阶段，install/activate/message 日志共用。
func LifecycleFields(generation, deployment, stage string) logrus.Fields {
	return logrus.Fields{
		"generation": generation,
		"deployment": deployment,
		"stage":      stage,
	}
}
