package restore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/store"
)

func openMappingStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "db.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRemapperNoOpForSameInstance(t *testing.T) {
	rm := newRemapper(openMappingStore(t), "same", "same")
	require.False(t, rm.active())
	payload := map[string]any{"folder_id": "src-folder-1"}
	require.NoError(t, rm.translate(context.Background(), content.TypeLook, payload))
	require.Equal(t, "src-folder-1", payload["folder_id"])
}

func TestRemapperTranslatesKnownScalarFK(t *testing.T) {
	s := openMappingStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveIDMapping(ctx, content.IDMapping{
		SourceInstance: "src", ContentType: content.TypeFolder, SourceID: "src-folder-1", DestinationID: "dst-folder-9",
	}))

	rm := newRemapper(s, "src", "dst")
	payload := map[string]any{"folder_id": "src-folder-1"}
	require.NoError(t, rm.translate(ctx, content.TypeLook, payload))
	require.Equal(t, "dst-folder-9", payload["folder_id"])
}

func TestRemapperFailsClosedOnUnmappedRequiredFK(t *testing.T) {
	rm := newRemapper(openMappingStore(t), "src", "dst")
	payload := map[string]any{"folder_id": "never-mapped"}
	err := rm.translate(context.Background(), content.TypeLook, payload)
	require.Error(t, err)
}

func TestRemapperRecordsMappingAfterCreate(t *testing.T) {
	s := openMappingStore(t)
	ctx := context.Background()
	rm := newRemapper(s, "src", "dst")

	require.NoError(t, rm.recordMapping(ctx, "sess1", content.TypeLook, "src-look-1", "dst-look-9"))

	dest, ok, err := s.GetDestinationID(ctx, "src", content.TypeLook, "src-look-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "dst-look-9", dest)
}
