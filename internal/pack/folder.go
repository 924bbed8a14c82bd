package pack

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/z3z1ma/lookervault/internal/content"
)

// folderNode is one resolved node in the folder hierarchy, per spec.md
// §4.6 "Folder" strategy and §6's folder_map entry shape.
type folderNode struct {
	ID         string
	Name       string
	ParentID   string
	Path       string
	Depth      int
	ChildCount int
}

// invalidPathChars is the intersection of characters forbidden by
// Windows, macOS, and Linux filesystems (pathvalidate-equivalent, per
// spec.md §4.6).
var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

func init() {
	for i := 1; i <= 9; i++ {
		windowsReservedNames[fmt.Sprintf("COM%d", i)] = true
		windowsReservedNames[fmt.Sprintf("LPT%d", i)] = true
	}
}

// sanitizeFolderName normalizes name to NFC and strips characters invalid
// on any of Windows/macOS/Linux, per spec.md §4.6. Collision resolution
// ((2), (3), …) is handled by the caller, which sees every sibling name at
// once.
func sanitizeFolderName(name string) string {
	name = norm.NFC.String(name)
	name = invalidPathChars.ReplaceAllString(name, "_")
	name = strings.TrimRight(name, " .")
	if name == "" {
		name = "_unnamed"
	}
	if windowsReservedNames[strings.ToUpper(name)] {
		name = name + "_"
	}
	return name
}

// dedupeSiblingNames appends "(2)", "(3)", … to later occurrences of a
// name that collides with an earlier sibling, per spec.md §4.6.
func dedupeSiblingNames(names []string) []string {
	seen := map[string]int{}
	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] == 1 {
			out[i] = n
		} else {
			out[i] = fmt.Sprintf("%s (%d)", n, seen[n])
		}
	}
	return out
}

// buildFolderTree resolves the folder hierarchy from (id, parent_id) edges
// via BFS from root folders (ParentID == ""), per spec.md §4.6. It returns
// a cycle error naming the offending path if any folder's ancestor chain
// loops back on itself, per spec.md scenario 6.
func buildFolderTree(folders []content.Item) (map[string]folderNode, error) {
	byID := make(map[string]content.Item, len(folders))
	childrenOf := map[string][]string{}
	for _, f := range folders {
		byID[f.ID] = f
	}
	for _, f := range folders {
		parent := f.ParentID
		if parent != "" {
			if _, ok := byID[parent]; !ok {
				parent = "" // unresolvable parent: treat as its own root
			}
		}
		childrenOf[parent] = append(childrenOf[parent], f.ID)
	}

	nodes := make(map[string]folderNode, len(folders))
	visited := make(map[string]bool, len(folders))

	type queued struct {
		id       string
		parent   string
		path     string
		depth    int
	}
	var queue []queued
	for _, id := range childrenOf[""] {
		queue = append(queue, queued{id: id, parent: "", path: "", depth: 0})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true

		item := byID[cur.id]
		siblingNames := siblingNamesOf(childrenOf, cur.parent, byID)
		sanitized := dedupeSiblingNames(siblingNames)
		name := sanitizedNameFor(cur.id, childrenOf[cur.parent], sanitized)

		path := name
		if cur.path != "" {
			path = cur.path + "/" + name
		}
		nodes[cur.id] = folderNode{
			ID: cur.id, Name: item.Name, ParentID: cur.parent,
			Path: path, Depth: cur.depth, ChildCount: len(childrenOf[cur.id]),
		}
		for _, childID := range childrenOf[cur.id] {
			queue = append(queue, queued{id: childID, parent: cur.id, path: path, depth: cur.depth + 1})
		}
	}

	if len(visited) < len(folders) {
		for _, f := range folders {
			if !visited[f.ID] {
				cyclePath, found := traceCycle(f.ID, byID)
				if found {
					return nil, fmt.Errorf("circular folder reference: %s", strings.Join(cyclePath, " -> "))
				}
			}
		}
		return nil, fmt.Errorf("circular folder reference detected among unreachable folders")
	}
	return nodes, nil
}

func siblingNamesOf(childrenOf map[string][]string, parent string, byID map[string]content.Item) []string {
	ids := childrenOf[parent]
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = sanitizeFolderName(byID[id].Name)
	}
	return names
}

func sanitizedNameFor(id string, siblingIDs []string, sanitizedNames []string) string {
	for i, sid := range siblingIDs {
		if sid == id {
			return sanitizedNames[i]
		}
	}
	return sanitizeFolderName(id)
}

// traceCycle follows parent_id pointers from start until it revisits a
// node, returning the cycle as a slice of folder IDs for a clear
// error message, per spec.md scenario 6.
func traceCycle(start string, byID map[string]content.Item) ([]string, bool) {
	seen := map[string]int{}
	var path []string
	cur := start
	for i := 0; i <= len(byID); i++ {
		item, ok := byID[cur]
		if !ok {
			return nil, false
		}
		if idx, ok := seen[cur]; ok {
			return append(path[idx:], cur), true
		}
		seen[cur] = len(path)
		path = append(path, cur)
		if item.ParentID == "" {
			return nil, false
		}
		cur = item.ParentID
	}
	return nil, false
}
