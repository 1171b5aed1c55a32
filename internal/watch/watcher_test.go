package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilesTriggersOnceAfterBurst(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "asset-manifest.json")
	require.NoError(t, os.WriteFile(target, []byte(`{}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- Files(ctx, []string{target}, 50*time.Millisecond, nil, func(context.Context) {
			changes <- struct{}{}
		})
	}()

	// 等待 watcher 建立后再写入。
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte(`{"/":"h`+string(rune('0'+i))+`"}`), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
	select {
	case <-changes:
		t.Fatal("burst of writes should be debounced into one notification")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
