package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
	"github.com/z3z1ma/lookervault/internal/store"
)

// foldableTypes are the types placed according to the folder hierarchy
// under Strategy == StrategyFolder; every other type is always written
// Full-style, per spec.md §4.6.
var foldableTypes = map[content.Type]bool{
	content.TypeDashboard: true,
	content.TypeLook:      true,
}

// Unpack writes one YAML file per content item plus a root metadata.json,
// per spec.md §4.6 "Unpack".
func Unpack(ctx context.Context, st store.Store, codec *content.Codec, cfg UnpackConfig) (*Manifest, error) {
	types := cfg.Types
	if len(types) == 0 {
		types = content.RestorableTypes()
	}

	var folders map[string]folderNode
	if cfg.Strategy == StrategyFolder {
		folderItems, err := st.ListContent(ctx, content.TypeFolder, store.ListFilter{IncludeDeleted: cfg.IncludeDeleted})
		if err != nil {
			return nil, fmt.Errorf("listing folders: %w", err)
		}
		folders, err = buildFolderTree(folderItems)
		if err != nil {
			return nil, errkind.New(errkind.Dependency, "unpack.buildFolderTree", err)
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	exportedAt := nowUTC()
	contentCounts := map[string]int{}
	var writtenPaths []string
	var writtenHashes [][]byte
	totalItems := 0

	for _, ct := range types {
		items, err := st.ListContent(ctx, ct, store.ListFilter{IncludeDeleted: cfg.IncludeDeleted})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", ct, err)
		}
		if len(items) == 0 {
			continue
		}
		contentCounts[ct.String()] = len(items)

		for _, item := range items {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			body, err := codec.Decode(item.ContentData)
			if err != nil {
				return nil, fmt.Errorf("decoding %s %s: %w", ct, item.ID, err)
			}

			dir := filepath.Join(cfg.OutputDir, ct.String())
			folderPath := ""
			if cfg.Strategy == StrategyFolder && foldableTypes[ct] {
				if node, ok := folders[item.FolderID]; ok {
					folderPath = node.Path
					dir = filepath.Join(cfg.OutputDir, folderPath)
				} else {
					dir = filepath.Join(cfg.OutputDir, "_orphaned", ct.String())
				}
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}

			checksum, err := contentChecksum(body)
			if err != nil {
				return nil, fmt.Errorf("checksumming %s %s: %w", ct, item.ID, err)
			}

			var queryHashes map[string]string
			if ct == content.TypeDashboard {
				queryHashes, err = dashboardQueryHashes(body)
				if err != nil {
					return nil, fmt.Errorf("hashing queries for %s %s: %w", ct, item.ID, err)
				}
			}

			cf := contentFile{
				Body: body,
				Metadata: FileMetadata{
					DBID:        item.ID,
					ContentType: ct.String(),
					ExportedAt:  exportedAt,
					ContentSize: item.ContentSize,
					Checksum:    "sha256:" + checksum,
					FolderPath:  folderPath,
					QueryHashes: queryHashes,
				},
			}

			out, err := yaml.Marshal(cf)
			if err != nil {
				return nil, fmt.Errorf("marshaling %s %s: %w", ct, item.ID, err)
			}

			path := filepath.Join(dir, sanitizeFolderName(item.ID)+".yaml")
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return nil, fmt.Errorf("writing %s: %w", path, err)
			}

			rel, err := filepath.Rel(cfg.OutputDir, path)
			if err != nil {
				rel = path
			}
			writtenPaths = append(writtenPaths, rel)
			writtenHashes = append(writtenHashes, out)
			totalItems++
		}
	}

	folderMap := map[string]FolderMapEntry{}
	for id, n := range folders {
		folderMap[id] = FolderMapEntry{
			ID: n.ID, Name: n.Name, ParentID: n.ParentID,
			Path: n.Path, Depth: n.Depth, ChildCount: n.ChildCount,
		}
	}

	checksum := aggregateChecksum(writtenPaths, writtenHashes)

	manifest := &Manifest{
		Version:               manifestVersion,
		Strategy:              cfg.Strategy,
		DatabaseSchemaVersion: cfg.SchemaVersion,
		ExportedAt:            exportedAt,
		SourceDatabase:        cfg.SourceDatabase,
		TotalItems:            totalItems,
		ContentCounts:         contentCounts,
		Checksum:              "sha256:" + checksum,
	}
	if len(folderMap) > 0 {
		manifest.FolderMap = folderMap
	}

	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutputDir, "metadata.json"), mb, 0o644); err != nil {
		return nil, fmt.Errorf("writing metadata.json: %w", err)
	}

	return manifest, nil
}

// aggregateChecksum is the SHA-256 of the deterministic concatenation of
// every file's content in sorted path order, per spec.md §4.6.
func aggregateChecksum(paths []string, contents [][]byte) string {
	type entry struct {
		path string
		body []byte
	}
	entries := make([]entry, len(paths))
	for i := range paths {
		entries[i] = entry{path: paths[i], body: contents[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		h.Write(e.body)
	}
	return hex.EncodeToString(h.Sum(nil))
}

var nowUTC = func() time.Time { return time.Now().UTC() }
