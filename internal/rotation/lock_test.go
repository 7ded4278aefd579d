package rotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexLocker(t *testing.T) {
	locker := NewMutexLocker()

	unlock, err := locker.Lock(context.Background(), "logs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "logs")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Lock(context.Background(), "metrics")
	require.NoError(t, err)
	require.NoError(t, other())

	require.NoError(t, unlock())
	require.NoError(t, unlock())

	again, err := locker.Lock(context.Background(), "logs")
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestMutexLocker_Serializes(t *testing.T) {
	locker := NewMutexLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "logs")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			_ = unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestFileLocker(t *testing.T) {
	dir := t.TempDir()
	first := NewFileLocker(dir)
	second := &FileLocker{Dir: dir, RetryDelay: 10 * time.Millisecond}

	unlock, err := first.Lock(context.Background(), "logs")
	require.NoError(t, err)
	assert.FileExists(t, first.Path("logs"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "logs")
	assert.Error(t, err)

	require.NoError(t, unlock())

	unlock, err = second.Lock(context.Background(), "logs")
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestFileLocker_PathSanitizesKey(t *testing.T) {
	locker := NewFileLocker("/var/lock/sts-index")
	assert.Equal(t, "/var/lock/sts-index/team_a_logs.rotate.lock", locker.Path("team/a logs"))
}
