package pack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "db.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFolder(t *testing.T, s store.Store, codec *content.Codec, id, name, parentID string) {
	t.Helper()
	data, err := codec.Encode(map[string]any{"id": id, "name": name, "parent_id": parentID})
	require.NoError(t, err)
	require.NoError(t, s.SaveContent(context.Background(), content.Item{
		ID: id, ContentType: content.TypeFolder, Name: name, ParentID: parentID,
		ContentData: data, ContentSize: len(data),
	}))
}

func seedDashboard(t *testing.T, s store.Store, codec *content.Codec, id, title, folderID string) {
	t.Helper()
	data, err := codec.Encode(map[string]any{"id": id, "title": title, "folder_id": folderID})
	require.NoError(t, err)
	require.NoError(t, s.SaveContent(context.Background(), content.Item{
		ID: id, ContentType: content.TypeDashboard, Name: title, FolderID: folderID,
		ContentData: data, ContentSize: len(data),
	}))
}

func TestUnpackFullWritesOneFilePerItemPlusManifest(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedDashboard(t, s, codec, "D1", "Q1 Revenue", "")
	seedDashboard(t, s, codec, "D2", "Q2 Revenue", "")

	outDir := t.TempDir()
	manifest, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)
	require.Equal(t, 2, manifest.TotalItems)
	require.Equal(t, 2, manifest.ContentCounts["DASHBOARD"])

	_, err = os.Stat(filepath.Join(outDir, "metadata.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "DASHBOARD", "D1.yaml"))
	require.NoError(t, err)
}

func TestUnpackThenPackWithNoEditsReportsAllUnchanged(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedDashboard(t, s, codec, "D1", "Q1 Revenue", "")
	seedDashboard(t, s, codec, "D2", "Q2 Revenue", "")

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)

	report, err := Pack(context.Background(), s, codec, PackConfig{InputDir: outDir})
	require.NoError(t, err)
	require.Empty(t, report.Errors())
	require.Equal(t, 2, report.Unchanged())
	require.Equal(t, 0, report.Modified())
	require.Equal(t, 0, report.New())
}

func TestPackDetectsModifiedFile(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedDashboard(t, s, codec, "D1", "Q1 Revenue", "")

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)

	path := filepath.Join(outDir, "DASHBOARD", "D1.yaml")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := []byte(string(raw) + "")
	editedStr := string(edited)
	editedStr = replaceFirst(editedStr, "Q1 Revenue", "Q1 Revenue (Renamed)")
	require.NoError(t, os.WriteFile(path, []byte(editedStr), 0o644))

	report, err := Pack(context.Background(), s, codec, PackConfig{InputDir: outDir})
	require.NoError(t, err)
	require.Empty(t, report.Errors())
	require.Equal(t, 1, report.Modified())

	item, found, err := s.GetContent(context.Background(), content.TypeDashboard, "D1")
	require.NoError(t, err)
	require.True(t, found)
	body, err := codec.Decode(item.ContentData)
	require.NoError(t, err)
	require.Equal(t, "Q1 Revenue (Renamed)", body["title"])
}

func TestPackDryRunNeverWrites(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedDashboard(t, s, codec, "D1", "Q1 Revenue", "")

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)

	path := filepath.Join(outDir, "DASHBOARD", "D1.yaml")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	editedStr := replaceFirst(string(raw), "Q1 Revenue", "Edited Title")
	require.NoError(t, os.WriteFile(path, []byte(editedStr), 0o644))

	report, err := Pack(context.Background(), s, codec, PackConfig{InputDir: outDir, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Modified())

	item, found, err := s.GetContent(context.Background(), content.TypeDashboard, "D1")
	require.NoError(t, err)
	require.True(t, found)
	body, err := codec.Decode(item.ContentData)
	require.NoError(t, err)
	require.Equal(t, "Q1 Revenue", body["title"])
}

func TestPackForceDeletesItemsAbsentFromExport(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedDashboard(t, s, codec, "D1", "Keep me", "")
	seedDashboard(t, s, codec, "D2", "Remove me", "")

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(outDir, "DASHBOARD", "D2.yaml")))

	report, err := Pack(context.Background(), s, codec, PackConfig{InputDir: outDir, Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedCount)

	item, found, err := s.GetContent(context.Background(), content.TypeDashboard, "D2")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, item.Deleted)
}

func TestQueryRemapDeduplicatesIdenticalModifiedQueries(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	for i, id := range []string{"D1", "D2", "D3"} {
		_ = i
		data, err := codec.Encode(map[string]any{
			"id": id, "title": "Dash " + id,
			"dashboard_elements": []any{
				map[string]any{
					"type": "vis",
					"query": map[string]any{
						"model": "sales", "view": "orders", "fields": []any{"orders.count"},
					},
				},
			},
		})
		require.NoError(t, err)
		require.NoError(t, s.SaveContent(context.Background(), content.Item{
			ID: id, ContentType: content.TypeDashboard, Name: "Dash " + id,
			ContentData: data, ContentSize: len(data),
		}))
	}

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFull, Types: []content.Type{content.TypeDashboard},
	})
	require.NoError(t, err)

	for _, id := range []string{"D1", "D2", "D3"} {
		path := filepath.Join(outDir, "DASHBOARD", id+".yaml")
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		edited := replaceFirst(string(raw), "orders.count", "orders.total")
		require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	}

	report, err := Pack(context.Background(), s, codec, PackConfig{InputDir: outDir})
	require.NoError(t, err)
	require.Equal(t, 3, report.Modified())
	require.Equal(t, 1, report.NewQueriesCreated)

	ids := map[string]bool{}
	for _, id := range []string{"D1", "D2", "D3"} {
		item, found, err := s.GetContent(context.Background(), content.TypeDashboard, id)
		require.NoError(t, err)
		require.True(t, found)
		body, err := codec.Decode(item.ContentData)
		require.NoError(t, err)
		elems := body["dashboard_elements"].([]any)
		elem := elems[0].(map[string]any)
		ids[elem["query_id"].(string)] = true
	}
	require.Len(t, ids, 1)
}

func TestCircularFolderReferenceIsRejected(t *testing.T) {
	s := openTestStore(t)
	codec := content.NewCodec()
	seedFolder(t, s, codec, "A", "Alpha", "B")
	seedFolder(t, s, codec, "B", "Beta", "A")

	outDir := t.TempDir()
	_, err := Unpack(context.Background(), s, codec, UnpackConfig{
		OutputDir: outDir, Strategy: StrategyFolder, Types: []content.Type{content.TypeDashboard},
	})
	require.Error(t, err)
}

// replaceFirst replaces the first occurrence of old with new in s.
func replaceFirst(s, old, new string) string {
	idx := indexOf(s, old)
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
