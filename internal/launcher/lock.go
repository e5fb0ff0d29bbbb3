package launcher

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// Lock is an exclusive advisory lock held for a process lifetime.
type Lock struct {
	file *flock.Flock
}

// AcquireLock takes the lock at path without blocking. It returns
// ErrAlreadyRunning when another process holds it.
func AcquireLock(path string) (*Lock, error) {
	if err := ensureParent(path); err != nil {
		return nil, err
	}
	file := flock.New(path)
	ok, err := file.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", path, ErrAlreadyRunning)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}

// LockHeld reports whether another process currently holds the lock.
func LockHeld(path string) (bool, error) {
	lock, err := AcquireLock(path)
	if err != nil {
		if isAlreadyRunning(err) {
			return true, nil
		}
		return false, err
	}
	return false, lock.Release()
}

func isAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}
