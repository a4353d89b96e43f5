package memarchive

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mapview/internal/archive"
	"github.com/Aman-CERP/mapview/internal/errors"
)

func TestArchive_VersionsAndHistory(t *testing.T) {
	ctx := context.Background()
	a := New("test")

	// Given: a create, an update and a delete
	assert.Equal(t, int64(1), a.WriteFile("/a.json", []byte(`1`)))
	assert.Equal(t, int64(2), a.WriteFile("b.json", []byte(`2`)))
	assert.Equal(t, int64(3), a.WriteFile("/a.json", []byte(`3`)))
	assert.Equal(t, int64(4), a.DeleteFile("/b.json"))
	assert.Equal(t, int64(4), a.DeleteFile("/missing"))

	// Then: info and history reflect them
	info, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, archive.Info{URL: "mem://test", Version: 4}, info)

	h, err := a.History(ctx, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []archive.Change{
		{Path: "/b.json", Type: archive.ChangeCreate, Version: 2},
		{Path: "/a.json", Type: archive.ChangeUpdate, Version: 3},
	}, h)

	content, err := a.ReadFile(ctx, "/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`3`), content)

	_, err = a.ReadFile(ctx, "/b.json")
	assert.True(t, errors.IsNotFound(err))
}

func TestArchive_ListFiles(t *testing.T) {
	a := New("")
	a.WriteFile("/x/1.json", nil)
	a.WriteFile("/x/y/2.json", nil)
	a.WriteFile("/xz.json", nil)

	all, err := a.ListFiles(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/1.json", "/x/y/2.json", "/xz.json"}, all)

	sub, err := a.ListFiles(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/1.json", "/x/y/2.json"}, sub)
}

func TestArchive_OfflineBlocksUntilDeadline(t *testing.T) {
	// Given: an offline archive
	a := New("off")
	a.SetOffline(true)

	// When: reading with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Info(ctx)

	// Then: the deadline error comes back
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a.SetOffline(false)
	_, err = a.Info(context.Background())
	assert.NoError(t, err)
}

func TestArchive_Failure(t *testing.T) {
	a := New("bad")
	boom := stderrors.New("corrupt feed")
	a.SetFailure(boom)

	_, err := a.History(context.Background(), 0, 10)
	assert.ErrorIs(t, err, boom)
}

func TestArchive_SubscribeAndDownload(t *testing.T) {
	ctx := context.Background()
	a := New("sub")
	sub, err := a.Subscribe([]string{"/*.json"})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, a.Subscribers())

	// When: a file changes and another is invalidated
	a.WriteFile("/a.json", []byte(`{}`))
	a.Invalidate("/b.json")

	// Then: both events arrive in order
	ev := <-sub.Events()
	assert.Equal(t, archive.Event{Kind: archive.Changed, Path: "/a.json"}, ev)
	ev = <-sub.Events()
	assert.Equal(t, archive.Event{Kind: archive.Invalidated, Path: "/b.json"}, ev)

	require.NoError(t, a.Download(ctx, "/b.json"))
	assert.Equal(t, 1, a.Downloads("/b.json"))
}
