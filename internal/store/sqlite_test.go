package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/z3z1ma/lookervault/internal/content"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "lookervault.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetContentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := content.Item{
		ID:          "look1",
		ContentType: content.TypeLook,
		Name:        "Revenue by Region",
		OwnerID:     "user1",
		FolderID:    "folder1",
		ContentData: []byte("encoded-body"),
		ContentSize: 12,
	}
	require.NoError(t, s.SaveContent(ctx, item))

	got, ok, err := s.GetContent(ctx, content.TypeLook, "look1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.Name, got.Name)
	require.Equal(t, item.ContentData, got.ContentData)
	require.False(t, got.CreatedAt.IsZero())
}

func TestSaveContentPreservesCreatedAtOnUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := content.Item{ID: "look1", ContentType: content.TypeLook, Name: "v1"}
	require.NoError(t, s.SaveContent(ctx, item))
	first, _, err := s.GetContent(ctx, content.TypeLook, "look1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	item.Name = "v2"
	require.NoError(t, s.SaveContent(ctx, item))
	second, _, err := s.GetContent(ctx, content.TypeLook, "look1")
	require.NoError(t, err)

	require.Equal(t, "v2", second.Name)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt), "created_at must not change across upserts")
	require.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestListContentFiltersDeletedByDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveContent(ctx, content.Item{ID: "a", ContentType: content.TypeDashboard, FolderID: "f1"}))
	require.NoError(t, s.SaveContent(ctx, content.Item{ID: "b", ContentType: content.TypeDashboard, FolderID: "f1"}))

	n, err := s.DeleteContentNotIn(ctx, content.TypeDashboard, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	visible, err := s.ListContent(ctx, content.TypeDashboard, ListFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "a", visible[0].ID)

	all, err := s.ListContent(ctx, content.TypeDashboard, ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListContentFolderFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveContent(ctx, content.Item{ID: "a", ContentType: content.TypeLook, FolderID: "f1"}))
	require.NoError(t, s.SaveContent(ctx, content.Item{ID: "b", ContentType: content.TypeLook, FolderID: "f2"}))

	got, err := s.ListContent(ctx, content.TypeLook, ListFilter{FolderIDs: []string{"f1"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}

func TestExtractionSessionUpsertPreservesStartedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := content.ExtractionSession{ID: "sess1", Status: content.StatusRunning, TotalItems: 10}
	require.NoError(t, s.CreateExtractionSession(ctx, sess))
	first, ok, err := s.GetExtractionSession(ctx, "sess1")
	require.NoError(t, err)
	require.True(t, ok)

	sess.Status = content.StatusCompleted
	sess.SuccessCount = 10
	require.NoError(t, s.UpdateExtractionSession(ctx, sess))

	second, ok, err := s.GetExtractionSession(ctx, "sess1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, content.StatusCompleted, second.Status)
	require.Equal(t, 10, second.SuccessCount)
	require.True(t, first.StartedAt.Equal(second.StartedAt))
}

func TestCheckpointUpsertByNaturalKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cp := content.Checkpoint{
		SessionID:   "sess1",
		ContentType: content.TypeLook,
		Data:        content.CheckpointData{CompletedIDs: []string{"a", "b"}},
		ItemCount:   2,
	}
	require.NoError(t, s.SaveCheckpoint(ctx, KindExtraction, cp))

	cp.Data.CompletedIDs = append(cp.Data.CompletedIDs, "c")
	cp.ItemCount = 3
	require.NoError(t, s.SaveCheckpoint(ctx, KindExtraction, cp))

	got, ok, err := s.GetLatestCheckpoint(ctx, KindExtraction, content.TypeLook, "sess1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, got.ItemCount)
	require.Equal(t, []string{"a", "b", "c"}, got.Data.CompletedIDs)
}

func TestCheckpointsAreIndependentByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	extractCp := content.Checkpoint{SessionID: "sess1", ContentType: content.TypeLook, ItemCount: 1}
	restoreCp := content.Checkpoint{SessionID: "sess1", ContentType: content.TypeLook, ItemCount: 99}
	require.NoError(t, s.SaveCheckpoint(ctx, KindExtraction, extractCp))
	require.NoError(t, s.SaveCheckpoint(ctx, KindRestoration, restoreCp))

	got, ok, err := s.GetLatestCheckpoint(ctx, KindExtraction, content.TypeLook, "sess1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got.ItemCount)
}

func TestIDMappingUpsertOverwritesDestination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := content.IDMapping{SourceInstance: "src", ContentType: content.TypeUser, SourceID: "u1", DestinationID: "d1"}
	require.NoError(t, s.SaveIDMapping(ctx, m))

	got, ok, err := s.GetDestinationID(ctx, "src", content.TypeUser, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d1", got)

	m.DestinationID = "d2"
	require.NoError(t, s.SaveIDMapping(ctx, m))
	got, ok, err = s.GetDestinationID(ctx, "src", content.TypeUser, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d2", got)
}

func TestDLQUpsertByRetryCountLeavesOneRowWithLatestMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := content.DeadLetterItem{
		SessionID: "sess1", ContentID: "look1", ContentType: content.TypeLook,
		ErrorMessage: "first failure", RetryCount: 0,
	}
	require.NoError(t, s.SaveDLQItem(ctx, item))
	item.ErrorMessage = "second failure, same retry count"
	require.NoError(t, s.SaveDLQItem(ctx, item))

	rows, err := s.ListDLQ(ctx, "sess1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "second failure, same retry count", rows[0].ErrorMessage)
}

func TestDeleteSessionCascadesCheckpointsAndDLQ(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateExtractionSession(ctx, content.ExtractionSession{ID: "sess1", Status: content.StatusRunning}))
	require.NoError(t, s.SaveCheckpoint(ctx, KindExtraction, content.Checkpoint{SessionID: "sess1", ContentType: content.TypeLook}))
	require.NoError(t, s.SaveDLQItem(ctx, content.DeadLetterItem{SessionID: "sess1", ContentID: "x", ContentType: content.TypeLook}))

	require.NoError(t, s.DeleteSession(ctx, KindExtraction, "sess1"))

	_, ok, err := s.GetLatestCheckpoint(ctx, KindExtraction, content.TypeLook, "sess1")
	require.NoError(t, err)
	require.False(t, ok)

	rows, err := s.ListDLQ(ctx, "sess1", nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReopenExistingStoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lookervault.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.SaveContent(ctx, content.Item{ID: "a", ContentType: content.TypeUser}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.GetContent(ctx, content.TypeUser, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.ID)
}
