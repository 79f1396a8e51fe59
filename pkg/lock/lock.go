// Package lock provides an advisory file lock over the shared
// filesystem, used to make workflow creation idempotent per working
// directory.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is a flock-backed exclusive lock. The lock file records the
// holder's PID for operators chasing a stuck make.
type FileLock struct {
	path string
	file *os.File
}

func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the lock is acquired.
func (fl *FileLock) Lock() error {
	return fl.acquire(0)
}

// TryLock acquires without blocking; it fails when another process
// holds the lock.
func (fl *FileLock) TryLock() error {
	return fl.acquire(syscall.LOCK_NB)
}

func (fl *FileLock) acquire(flags int) error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|flags); err != nil {
		f.Close()

		return fmt.Errorf("acquire lock %s: %w", fl.path, err)
	}

	if err := f.Truncate(0); err == nil {
		if _, err := f.Seek(0, 0); err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
		}
	}

	fl.file = f

	return nil
}

// Unlock releases and removes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()

		return fmt.Errorf("release lock %s: %w", fl.path, err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil

	return nil
}
