package history

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionkit/sessionkit/pkg/types"
)

func testTranscript(id string, updated int64) types.Transcript {
	return types.Transcript{
		Context: "bg",
		Messages: []types.Message{
			{ID: "m1", Role: types.RoleUser, Content: "hello", Time: updated},
		},
		Metadata: types.TranscriptMetadata{
			SessionID:    id,
			Kind:         types.KindChat,
			Created:      updated - 100,
			Updated:      updated,
			MessageCount: 1,
		},
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	tr := testTranscript("sess-1", 1000)
	require.NoError(t, s.Save(ctx, tr))

	_, err := os.Stat(filepath.Join(s.Dir(), "sess-1.json"))
	require.NoError(t, err, "transcript file exists")

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, tr, loaded)
}

func TestStoreLoadNotFound(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsPathEscapes(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		err := s.Save(ctx, testTranscript(id, 1))
		assert.ErrorIs(t, err, ErrInvalidID, "id=%q", id)

		_, err = s.Load(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidID, "id=%q", id)
		assert.False(t, s.Exists(id))
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	tr := testTranscript("sess-1", 1000)
	require.NoError(t, s.Save(ctx, tr))

	tr.Metadata.Updated = 2000
	tr.Metadata.MessageCount = 5
	require.NoError(t, s.Save(ctx, tr))

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), loaded.Metadata.Updated)
	assert.Equal(t, 5, loaded.Metadata.MessageCount)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testTranscript("sess-1", 1000)))
	require.True(t, s.Exists("sess-1"))

	require.NoError(t, s.Delete(ctx, "sess-1"))
	assert.False(t, s.Exists("sess-1"))

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, "sess-1"))
}

func TestStoreListSortedByUpdated(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testTranscript("old", 1000)))
	require.NoError(t, s.Save(ctx, testTranscript("new", 3000)))
	require.NoError(t, s.Save(ctx, testTranscript("mid", 2000)))

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "new", metas[0].SessionID)
	assert.Equal(t, "mid", metas[1].SessionID)
	assert.Equal(t, "old", metas[2].SessionID)
}

func TestStoreListSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testTranscript("good", 1000)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "good", metas[0].SessionID)
}

func TestStoreListEmptyDirectory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nothing-here"))

	metas, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestStoreConcurrentSaves(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := testTranscript("shared", int64(1000+i))
			assert.NoError(t, s.Save(ctx, tr))
		}(i)
	}
	wg.Wait()

	loaded, err := s.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", loaded.Metadata.SessionID)
}
