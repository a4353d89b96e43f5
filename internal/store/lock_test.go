package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/errors"
)

func TestFileLock_TryLockUnlock(t *testing.T) {
	// Given: a fresh directory
	dir := t.TempDir()
	lock := NewFileLock(dir)

	// When: locking twice through the same handle
	ok, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)

	// Then: unlock is idempotent
	assert.FileExists(t, lock.Path())
	assert.NoError(t, lock.Unlock())
	assert.NoError(t, lock.Unlock())
}

func TestOpen_DataDirInUse(t *testing.T) {
	// Given: a second lock held on the data dir
	dir := t.TempDir()
	other := NewFileLock(dir)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	saved := lockRetry
	lockRetry.MaxRetries = 1
	lockRetry.InitialDelay = 0
	defer func() { lockRetry = saved }()

	// When: opening a store there
	_, err = Open(context.Background(), Config{Backend: "sqlite", Path: dir})

	// Then: the lock error surfaces
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreLocked, errors.GetCode(err))
}
