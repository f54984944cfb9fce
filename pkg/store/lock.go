package store

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/corralhq/corral/pkg/types"
)

// LockFileName is the combined-lock rendezvous file. One lock covers
// all three documents, which makes multi-document commits trivially
// deadlock-free.
const LockFileName = "coordination.lock"

type locker interface {
	Acquire(ctx context.Context, wait time.Duration) error
	Release() error
}

// probeLockSupport checks once at startup whether the platform honors
// flock on the coordination directory. Filesystems that refuse it
// (some network mounts) get the PID-lockfile path.
func probeLockSupport(dir string) Mode {
	probe := flock.New(filepath.Join(dir, LockFileName))
	locked, err := probe.TryLock()
	if err != nil {
		return ModeSafe
	}
	if locked {
		probe.Unlock()
	}
	return ModeFast
}

// flockLocker is the fast path: an OS advisory exclusive lock
type flockLocker struct {
	fl *flock.Flock
}

func newFlockLocker(dir string) *flockLocker {
	return &flockLocker{fl: flock.New(filepath.Join(dir, LockFileName))}
}

func (l *flockLocker) Acquire(ctx context.Context, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	locked, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrBusy, "lock not acquired within %s", wait)
		}
		return types.WrapError(types.ErrIO, err, "acquiring flock")
	}
	if !locked {
		return types.NewError(types.ErrBusy, "lock not acquired within %s", wait)
	}
	return nil
}

func (l *flockLocker) Release() error {
	return l.fl.Unlock()
}

// pidLocker is the safe path: lock-file-with-PID created with
// O_CREAT|O_EXCL. Slower, correct for single-host use; stale locks
// from dead processes are broken by PID probe or age. The file carries
// a unique holder token so a broken-and-superseded holder's Release
// cannot remove its successor's lock.
type pidLocker struct {
	path  string
	stale time.Duration
	token string
}

func newPIDLocker(dir string, stale time.Duration) *pidLocker {
	return &pidLocker{
		path:  filepath.Join(dir, LockFileName+".pid"),
		stale: stale,
	}
}

func (l *pidLocker) Acquire(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		if err := l.tryAcquire(); err == nil {
			return nil
		} else if !types.IsKind(err, types.ErrBusy) {
			return err
		}

		l.breakIfStale()

		if time.Now().After(deadline) {
			return types.NewError(types.ErrBusy, "lock not acquired within %s", wait)
		}
		select {
		case <-ctx.Done():
			return types.NewError(types.ErrBusy, "lock wait cancelled")
		case <-time.After(time.Duration(25+rand.Intn(50)) * time.Millisecond):
		}
	}
}

func (l *pidLocker) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return types.NewError(types.ErrBusy, "lock held")
		}
		return types.WrapError(types.ErrIO, err, "creating lock file")
	}
	token := fmt.Sprintf("%d %d %08x", os.Getpid(), time.Now().UnixNano(), rand.Uint32())
	if _, err := fmt.Fprintln(f, token); err != nil {
		f.Close()
		os.Remove(l.path)
		return types.WrapError(types.ErrIO, err, "writing lock file")
	}
	l.token = token
	return f.Close()
}

// breakIfStale removes the lock file when its owner is gone or it has
// outlived the stale threshold (watchdog against wedged holders).
func (l *pidLocker) breakIfStale() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		os.Remove(l.path)
		return
	}
	pid, perr := strconv.Atoi(fields[0])
	mintNano, merr := strconv.ParseInt(fields[1], 10, 64)
	if perr != nil || merr != nil {
		os.Remove(l.path)
		return
	}

	if !processAlive(pid) {
		os.Remove(l.path)
		return
	}
	if time.Since(time.Unix(0, mintNano)) > l.stale {
		os.Remove(l.path)
	}
}

// Release removes the lock file only while this locker still owns it.
// A holder that was age-broken and superseded finds the successor's
// token in the file and backs off, so the successor keeps exclusion.
func (l *pidLocker) Release() error {
	token := l.token
	l.token = ""
	if token == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	if strings.TrimSpace(string(data)) != token {
		return nil
	}
	return os.Remove(l.path)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
