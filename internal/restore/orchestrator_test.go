package restore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/looker"
	"github.com/z3z1ma/lookervault/internal/ratelimit"
	"github.com/z3z1ma/lookervault/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *looker.Mock, store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "db.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mock := looker.NewMock()
	limiter := ratelimit.New(context.Background(), ratelimit.Config{
		RequestsPerMinute: 100000,
		RequestsPerSecond: 10000,
		SlowdownFactor:    0.5,
		RecoveryInterval:  1,
	})
	return &Orchestrator{Store: s, Client: mock, Limiter: limiter, Codec: content.NewCodec()}, mock, s
}

func seedContent(t *testing.T, s store.Store, ct content.Type, ids ...string) {
	t.Helper()
	codec := content.NewCodec()
	for _, id := range ids {
		body, err := codec.Encode(map[string]any{"id": id, "name": id})
		require.NoError(t, err)
		require.NoError(t, s.SaveContent(context.Background(), content.Item{
			ID: id, ContentType: ct, ContentData: body, ContentSize: len(body),
		}))
	}
}

func TestRestoreSingleCreatesWhenAbsent(t *testing.T) {
	o, mock, s := newTestOrchestrator(t)
	seedContent(t, s, content.TypeFolder, "folder1")

	res := o.RestoreSingle(context.Background(), "sess1", content.TypeFolder, "folder1", Config{MaxRetries: 2})
	require.NoError(t, res.Err)
	require.True(t, res.Created)
	require.Equal(t, 1, mock.CreatedCount(content.TypeFolder))
}

func TestRestoreSingleUpdatesWhenPresent(t *testing.T) {
	o, mock, s := newTestOrchestrator(t)
	mock.Seed(content.TypeFolder, 1) // creates FOLDER-0
	seedContent(t, s, content.TypeFolder, "FOLDER-0")

	res := o.RestoreSingle(context.Background(), "sess1", content.TypeFolder, "FOLDER-0", Config{MaxRetries: 2})
	require.NoError(t, res.Err)
	require.False(t, res.Created)
	require.Equal(t, 0, mock.CreatedCount(content.TypeFolder))
}

func TestRestoreAllCompletesFoldersLooksAndDashboards(t *testing.T) {
	o, _, s := newTestOrchestrator(t)
	ctx := context.Background()

	seedContent(t, s, content.TypeFolder, "f1", "f2", "f3")
	seedContent(t, s, content.TypeLook, "l1", "l2", "l3", "l4", "l5")
	seedContent(t, s, content.TypeDashboard, "d1", "d2")

	require.NoError(t, o.RestoreAll(ctx, "sess1", Config{Force: true, MaxRetries: 2}))

	sess, ok, err := o.Store.GetRestorationSession(ctx, "sess1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, content.StatusCompleted, sess.Status)
	require.Equal(t, 10, sess.SuccessCount)
}

func TestRestoreAllRequiresForceOrDryRun(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	err := o.RestoreAll(context.Background(), "sess1", Config{})
	require.ErrorIs(t, err, ErrConfirmationRequired)
}

func TestRestoreResumeSkipsCompletedIDs(t *testing.T) {
	o, mock, s := newTestOrchestrator(t)
	ctx := context.Background()
	seedContent(t, s, content.TypeFolder, "f1", "f2", "f3")

	require.NoError(t, s.SaveCheckpoint(ctx, store.KindRestoration, content.Checkpoint{
		SessionID: "sess1", ContentType: content.TypeFolder,
		Data: content.CheckpointData{CompletedIDs: []string{"f1", "f2"}},
	}))

	require.NoError(t, o.RestoreResume(ctx, "sess1", []content.Type{content.TypeFolder}, Config{MaxRetries: 2}))

	cp, ok, err := s.GetLatestCheckpoint(ctx, store.KindRestoration, content.TypeFolder, "sess1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, cp.Data.CompletedIDs, "f3")
	// Only f3 was sent to the destination; f1 and f2 were skipped.
	require.Equal(t, 1, mock.CreatedCount(content.TypeFolder))
}

func TestDLQRoundTripRetrySucceeds(t *testing.T) {
	o, mock, s := newTestOrchestrator(t)
	ctx := context.Background()
	seedContent(t, s, content.TypeLook, "look1")

	require.NoError(t, o.Store.SaveDLQItem(ctx, content.DeadLetterItem{
		SessionID: "sess1", ContentID: "look1", ContentType: content.TypeLook,
		ErrorMessage: "simulated prior failure", ErrorType: "transient",
	}))

	items, err := o.ListDLQ(ctx, "sess1", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)

	res, err := o.RetryDLQ(ctx, "sess1", items[0].ID, Config{MaxRetries: 2})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.True(t, res.Created)

	remaining, err := o.ListDLQ(ctx, "sess1", nil)
	require.NoError(t, err)
	require.Empty(t, remaining)
	require.Equal(t, 1, mock.CreatedCount(content.TypeLook))
}

func TestClearDLQRemovesAllItemsForSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, o.Store.SaveDLQItem(ctx, content.DeadLetterItem{
			SessionID: "sess1", ContentID: "x", ContentType: content.TypeLook, RetryCount: i,
		}))
	}
	n, err := o.ClearDLQ(ctx, "sess1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	remaining, err := o.ListDLQ(ctx, "sess1", nil)
	require.NoError(t, err)
	require.Empty(t, remaining)
}
