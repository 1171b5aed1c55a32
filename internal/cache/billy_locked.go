package cache

import (
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// lockedFS 串行化对目录结构的访问。memfs 的文件表没有内部锁，
// 不同条目的并发 Put/Match 会同时读写同一张 map；打开后的文件内容自带锁，不在此列。
type lockedFS struct {
	billy.Filesystem
	mu sync.RWMutex
}

func (l *lockedFS) Create(filename string) (billy.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.Create(filename)
}

func (l *lockedFS) Open(filename string) (billy.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.Open(filename)
}

func (l *lockedFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.OpenFile(filename, flag, perm)
}

func (l *lockedFS) TempFile(dir, prefix string) (billy.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.TempFile(dir, prefix)
}

func (l *lockedFS) Stat(filename string) (os.FileInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Filesystem.Stat(filename)
}

func (l *lockedFS) Lstat(filename string) (os.FileInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Filesystem.Lstat(filename)
}

func (l *lockedFS) ReadDir(path string) ([]os.FileInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Filesystem.ReadDir(path)
}

func (l *lockedFS) MkdirAll(filename string, perm os.FileMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.MkdirAll(filename, perm)
}

func (l *lockedFS) Rename(from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.Rename(from, to)
}

func (l *lockedFS) Remove(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Filesystem.Remove(filename)
}
