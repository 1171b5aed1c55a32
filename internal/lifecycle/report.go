package lifecycle

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Mode 区分冷启动与增量升级两种激活路径。
type Mode string

const (
	ModeCold        Mode = "cold"
	ModeIncremental Mode = "incremental"
)

// ActivationReport 汇总一次激活对 content 缓存做了什么，用于日志与诊断接口。
type ActivationReport struct {
	Generation  string        `json:"generation"`
	Deployment  string        `json:"deployment"`
	Mode        Mode          `json:"mode"`
	Retained    int           `json:"retained"`
	Deleted     int           `json:"deleted"`
	DeletedKeys []string      `json:"deleted_keys,omitempty"`
	Installed   int           `json:"installed"`
	Failed      bool          `json:"failed"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Fields 返回适合写入日志的字段。
func (r *ActivationReport) Fields() logrus.Fields {
	return logrus.Fields{
		"mode":       r.Mode,
		"retained":   r.Retained,
		"deleted":    r.Deleted,
		"installed":  r.Installed,
		"elapsed_ms": r.Elapsed.Milliseconds(),
	}
}
