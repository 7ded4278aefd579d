package rotation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Locker serializes rotations of one base name. Lock blocks until the lock is
// held or ctx is done and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// LockerFunc adapts a function to Locker.
type LockerFunc func(ctx context.Context, key string) (func() error, error)

// Lock calls f.
func (f LockerFunc) Lock(ctx context.Context, key string) (func() error, error) {
	return f(ctx, key)
}

// NoLock is for callers that already guarantee a single rotation per base,
// such as one scheduler process per cluster.
var NoLock Locker = LockerFunc(func(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
})

// MutexLocker serializes rotations inside one process.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMutexLocker creates an in-process locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]chan struct{})}
}

func (m *MutexLocker) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

// Lock acquires the lock of key.
func (m *MutexLocker) Lock(ctx context.Context, key string) (func() error, error) {
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

// defaultRetryDelay is how often FileLocker polls a held lock file.
const defaultRetryDelay = 250 * time.Millisecond

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileLocker serializes rotations across processes sharing a directory.
type FileLocker struct {
	Dir        string
	RetryDelay time.Duration
}

// NewFileLocker creates a locker keeping one lock file per base in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{Dir: dir, RetryDelay: defaultRetryDelay}
}

// Path returns the lock file of key.
func (f *FileLocker) Path(key string) string {
	return filepath.Join(f.Dir, unsafeKeyChars.ReplaceAllString(key, "_")+".rotate.lock")
}

// Lock acquires the lock file of key, polling until ctx is done.
func (f *FileLocker) Lock(ctx context.Context, key string) (func() error, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	delay := f.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	fl := flock.New(f.Path(key))
	locked, err := fl.TryLockContext(ctx, delay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire %s", fl.Path())
	}
	return fl.Unlock, nil
}
