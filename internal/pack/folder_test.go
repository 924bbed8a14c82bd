package pack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/z3z1ma/lookervault/internal/content"
)

func folder(id, name, parentID string) content.Item {
	return content.Item{ID: id, ContentType: content.TypeFolder, Name: name, ParentID: parentID}
}

func TestBuildFolderTreeAssignsPathsFromRoots(t *testing.T) {
	nodes, err := buildFolderTree([]content.Item{
		folder("root", "Shared", ""),
		folder("sales", "Sales", "root"),
		folder("regional", "Regional", "sales"),
	})
	require.NoError(t, err)
	require.Equal(t, "Shared", nodes["root"].Path)
	require.Equal(t, "Shared/Sales", nodes["sales"].Path)
	require.Equal(t, "Shared/Sales/Regional", nodes["regional"].Path)
	require.Equal(t, 2, nodes["regional"].Depth)
}

func TestBuildFolderTreeDetectsCycle(t *testing.T) {
	_, err := buildFolderTree([]content.Item{
		folder("A", "Alpha", "B"),
		folder("B", "Beta", "A"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular")
}

func TestBuildFolderTreeDedupesCollidingSiblingNames(t *testing.T) {
	nodes, err := buildFolderTree([]content.Item{
		folder("root", "Top", ""),
		folder("a", "Reports", "root"),
		folder("b", "Reports", "root"),
	})
	require.NoError(t, err)
	names := map[string]bool{nodes["a"].Path: true, nodes["b"].Path: true}
	require.True(t, names["Top/Reports"])
	require.True(t, names["Top/Reports (2)"])
}

func TestSanitizeFolderNameStripsInvalidCharsAndReservedNames(t *testing.T) {
	require.Equal(t, "Sales_Q1", sanitizeFolderName("Sales/Q1"))
	require.Equal(t, "CON_", sanitizeFolderName("CON"))
	require.Equal(t, "trailing", sanitizeFolderName("trailing..."))
}
