package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/types"
)

// TestRecoveryRemovesOrphanedTempFiles tests S4 temp cleanup at Open
func TestRecoveryRemovesOrphanedTempFiles(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, ActiveClaimsFile+".tmp.12345")
	require.NoError(t, os.WriteFile(orphan, []byte("[]"), 0644))

	_, err := Open(dir, Options{Mode: ModeFast})
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned temp file must be removed")
}

// TestRecoveryRestoresCorruptDocumentFromBackup tests S4 backup restore
func TestRecoveryRestoresCorruptDocumentFromBackup(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{Mode: ModeFast})
	require.NoError(t, err)
	require.NoError(t, s.Update(context.Background(), ScopeClaims, func(st *State) error {
		st.Claims = append(st.Claims, pendingItem("work-1"))
		return nil
	}))
	// Second commit creates the .bak pre-image holding work-1
	require.NoError(t, s.Update(context.Background(), ScopeClaims, func(st *State) error {
		st.Claims = append(st.Claims, pendingItem("work-2"))
		return nil
	}))

	path := filepath.Join(dir, ActiveClaimsFile)
	require.NoError(t, os.WriteFile(path, []byte("corrupt garbage"), 0644))

	s2, err := Open(dir, Options{Mode: ModeFast})
	require.NoError(t, err)

	snap, err := s2.Snapshot(context.Background(), ScopeClaims)
	require.NoError(t, err)
	require.Len(t, snap.Claims, 1)
	assert.Equal(t, "work-1", snap.Claims[0].WorkID)
}

// TestRecoveryLeavesHealthyDocumentsAlone tests that recovery is a no-op
// on a clean directory
func TestRecoveryLeavesHealthyDocumentsAlone(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{Mode: ModeFast})
	require.NoError(t, err)
	require.NoError(t, s.Update(context.Background(), ScopeAll, func(st *State) error {
		st.Claims = append(st.Claims, pendingItem("work-1"))
		st.Agents["agent-1"] = testAgent("agent-1", 2)
		return nil
	}))

	s2, err := Open(dir, Options{Mode: ModeFast})
	require.NoError(t, err)

	snap, err := s2.Snapshot(context.Background(), ScopeAll)
	require.NoError(t, err)
	assert.Len(t, snap.Claims, 1)
	assert.Contains(t, snap.Agents, "agent-1")
}

// TestRecoveryWithoutBackupReportsCorruptOnRead tests that an
// unrecoverable document still surfaces CORRUPT_STATE, not silence
func TestRecoveryWithoutBackupReportsCorruptOnRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, AgentRegistryFile)
	require.NoError(t, os.WriteFile(path, []byte("}{"), 0644))

	s, err := Open(dir, Options{Mode: ModeFast, LockWait: time.Second})
	require.NoError(t, err)

	_, err = s.Snapshot(context.Background(), ScopeAgents)
	require.Error(t, err)
	assert.Equal(t, types.ErrCorruptState, types.KindOf(err))
}
