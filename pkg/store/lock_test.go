package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/types"
)

// TestPIDLockerAcquireRelease tests the safe-path rendezvous
func TestPIDLockerAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := newPIDLocker(dir, 30*time.Second)

	require.NoError(t, l.Acquire(context.Background(), time.Second))
	_, err := os.Stat(l.path)
	assert.NoError(t, err, "lock file must exist while held")

	require.NoError(t, l.Release())
	_, err = os.Stat(l.path)
	assert.True(t, os.IsNotExist(err), "lock file must be gone after release")
}

// TestPIDLockerContention tests B5: a held lock times the waiter out with BUSY
func TestPIDLockerContention(t *testing.T) {
	dir := t.TempDir()
	holder := newPIDLocker(dir, time.Hour)
	waiter := newPIDLocker(dir, time.Hour)

	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	err := waiter.Acquire(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, types.ErrBusy, types.KindOf(err))
}

// TestPIDLockerBreaksDeadOwner tests stale-lock breaking by PID probe
func TestPIDLockerBreaksDeadOwner(t *testing.T) {
	dir := t.TempDir()
	l := newPIDLocker(dir, time.Hour)

	// A PID far beyond pid_max never names a live process
	content := fmt.Sprintf("%d %d deadbeef\n", 1<<30, time.Now().UnixNano())
	require.NoError(t, os.WriteFile(l.path, []byte(content), 0644))

	require.NoError(t, l.Acquire(context.Background(), 2*time.Second))
	l.Release()
}

// TestPIDLockerBreaksExpiredLock tests the age watchdog on a live owner
func TestPIDLockerBreaksExpiredLock(t *testing.T) {
	dir := t.TempDir()
	l := newPIDLocker(dir, 50*time.Millisecond)

	// Our own PID is alive, but the mint time is past the stale bound
	mint := time.Now().Add(-time.Minute).UnixNano()
	content := fmt.Sprintf("%d %d deadbeef\n", os.Getpid(), mint)
	require.NoError(t, os.WriteFile(l.path, []byte(content), 0644))

	require.NoError(t, l.Acquire(context.Background(), 2*time.Second))
	l.Release()
}

// TestPIDLockerBreaksMalformedLock tests recovery from a garbage lock file
func TestPIDLockerBreaksMalformedLock(t *testing.T) {
	dir := t.TempDir()
	l := newPIDLocker(dir, time.Hour)

	require.NoError(t, os.WriteFile(l.path, []byte("not a lock"), 0644))
	require.NoError(t, l.Acquire(context.Background(), 2*time.Second))
	l.Release()
}

// TestPIDLockerStaleBreakKeepsNewOwnerExclusive tests that an
// age-broken holder's release cannot free its successor's lock: after
// B supersedes A, A's release is a no-op and a third locker still
// times out with BUSY until B releases.
func TestPIDLockerStaleBreakKeepsNewOwnerExclusive(t *testing.T) {
	dir := t.TempDir()
	a := newPIDLocker(dir, time.Hour)
	b := newPIDLocker(dir, 50*time.Millisecond)
	c := newPIDLocker(dir, time.Hour)

	require.NoError(t, a.Acquire(context.Background(), time.Second))
	time.Sleep(100 * time.Millisecond)

	// A outlived B's stale bound; B breaks the lock and takes over
	require.NoError(t, b.Acquire(context.Background(), 2*time.Second))

	require.NoError(t, a.Release())
	_, err := os.Stat(b.path)
	assert.NoError(t, err, "the superseding holder's lock file must survive")

	err = c.Acquire(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, types.ErrBusy, types.KindOf(err))

	require.NoError(t, b.Release())
	require.NoError(t, c.Acquire(context.Background(), time.Second))
	c.Release()
}

// TestFlockLockerAcquireRelease tests the fast path on a local filesystem
func TestFlockLockerAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := newFlockLocker(dir)

	require.NoError(t, l.Acquire(context.Background(), time.Second))
	require.NoError(t, l.Release())

	// Reacquire proves release actually dropped the lock
	require.NoError(t, l.Acquire(context.Background(), time.Second))
	require.NoError(t, l.Release())
}

// TestProbeSelectsFastOnLocalFS tests platform detection on tmpdir
func TestProbeSelectsFastOnLocalFS(t *testing.T) {
	assert.Equal(t, ModeFast, probeLockSupport(t.TempDir()))
}

// TestForcedMode tests COORDINATION_MODE-style forcing through Options
func TestForcedMode(t *testing.T) {
	s, err := Open(t.TempDir(), Options{Mode: ModeSafe})
	require.NoError(t, err)
	assert.Equal(t, ModeSafe, s.Mode())

	_, isPID := s.locker.(*pidLocker)
	assert.True(t, isPID)
}

// TestLockWaitCancellation tests that a cancelled context stops the wait early
func TestLockWaitCancellation(t *testing.T) {
	dir := t.TempDir()
	holder := newPIDLocker(dir, time.Hour)
	require.NoError(t, holder.Acquire(context.Background(), time.Second))
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waiter := newPIDLocker(dir, time.Hour)
	start := time.Now()
	err := waiter.Acquire(ctx, 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, types.ErrBusy, types.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestLockFilePath tests the rendezvous file location
func TestLockFilePath(t *testing.T) {
	dir := t.TempDir()
	l := newPIDLocker(dir, time.Hour)
	assert.Equal(t, filepath.Join(dir, LockFileName+".pid"), l.path)
}
