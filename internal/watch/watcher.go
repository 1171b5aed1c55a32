// Package watch 监听本地构建产物，在文件变化后触发重新部署。
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/logging"
)

// DefaultDebounce 合并构建工具连续写入产生的多次事件。
const DefaultDebounce = 500 * time.Millisecond

// Files 监听 paths 所在目录，任一目标文件被写入、创建或改名后，
// 在 debounce 时间内没有新事件时调用一次 onChange。阻塞直到 ctx 结束。
func Files(ctx context.Context, paths []string, debounce time.Duration, logger *logrus.Logger, onChange func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log := logging.Component(logger, "watch")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// 监听所在目录，产物可能以改名方式被替换。
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[abs]; !ok {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			log.WithFields(logrus.Fields{"file": ev.Name, "op": ev.Op.String()}).Debug("artifact changed")
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch_error")
		case <-timer.C:
			onChange(ctx)
		}
	}
}
