package worker

import (
	"github.com/any-hub/shellcache/internal/lifecycle"
)

// GenerationStatus 是单个代际的诊断视图。
type GenerationStatus struct {
	ID           string          `json:"id"`
	Deployment   string          `json:"deployment"`
	State        lifecycle.State `json:"state"`
	ManifestSize int             `json:"manifest_size"`
	CoreSetSize  int             `json:"core_set_size"`
}

// Status 是 /-/status 的响应体。
type Status struct {
	Active         *GenerationStatus           `json:"active"`
	Waiting        *GenerationStatus           `json:"waiting"`
	LastActivation *lifecycle.ActivationReport `json:"last_activation,omitempty"`
	LastError      string                      `json:"last_error,omitempty"`
}

// Status 返回当前代际状态快照。
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Waiting:        describe(s.waiting),
		LastActivation: s.lastReport,
		LastError:      s.lastError,
	}
	if s.active != nil {
		status.Active = describe(s.active.controller)
	}
	return status
}

func describe(c *lifecycle.Controller) *GenerationStatus {
	if c == nil {
		return nil
	}
	b := c.Bundle()
	return &GenerationStatus{
		ID:           c.Generation(),
		Deployment:   b.ID,
		State:        c.State(),
		ManifestSize: len(b.Manifest),
		CoreSetSize:  len(b.CoreSet),
	}
}
