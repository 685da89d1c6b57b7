package fs

import (
	"errors"
	"os"
	"sync"
)

// ErrInjected is the default error returned by a FaultyFS.
var ErrInjected = errors.New("injected fault")

// Fault defines failure behavior for files opened through a FaultyFS.
type Fault struct {
	FailAfterBytes int64 // Fail WriteAt after this many bytes written. -1 disables.
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

// FaultyFS is a FileSystem wrapper that injects errors, used to exercise
// IO-failure paths without touching real disks.
type FaultyFS struct {
	FS FileSystem

	mu      sync.Mutex
	fault   Fault
	written int64
}

// NewFaultyFS creates a FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		fault: Fault{FailAfterBytes: -1, Err: ErrInjected},
	}
}

// SetFault replaces the active fault rule.
func (f *FaultyFS) SetFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.fault = fault
}

// Written returns the total bytes written through this FS so far.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }

type faultyFile struct {
	File
	fs *FaultyFS
}

func (f *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	fault := f.fs.fault
	if fault.FailAfterBytes >= 0 && f.fs.written+int64(len(p)) > fault.FailAfterBytes {
		f.fs.mu.Unlock()
		return 0, fault.Err
	}
	f.fs.written += int64(len(p))
	f.fs.mu.Unlock()
	return f.File.WriteAt(p, off)
}

func (f *faultyFile) Sync() error {
	f.fs.mu.Lock()
	fault := f.fs.fault
	f.fs.mu.Unlock()
	if fault.FailOnSync {
		return fault.Err
	}
	return f.File.Sync()
}

func (f *faultyFile) Close() error {
	f.fs.mu.Lock()
	fault := f.fs.fault
	f.fs.mu.Unlock()
	if fault.FailOnClose {
		return fault.Err
	}
	return f.File.Close()
}
