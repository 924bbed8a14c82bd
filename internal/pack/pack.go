package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nsf/jsondiff"
	"gopkg.in/yaml.v3"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/store"
)

const batchSize = 100

// discoveredFile is one YAML file found under InputDir, parsed but not yet
// validated against the schema.
type discoveredFile struct {
	path string
	node yaml.Node
	cf   contentFile
	ct   content.Type
}

// Pack reads a directory previously produced by Unpack, validates every
// file, detects modifications, remaps dashboard queries, and writes the
// result back to the repository, per spec.md §4.6 "Pack".
func Pack(ctx context.Context, st store.Store, codec *content.Codec, cfg PackConfig) (*Report, error) {
	manifest, err := readManifest(cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("reading metadata.json: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported export version %q (expected %q)", manifest.Version, manifestVersion)
	}

	files, err := discoverFiles(cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("discovering yaml files: %w", err)
	}

	report := &Report{}
	toWrite := map[content.Type][]content.Item{}
	seenByType := map[content.Type][]string{}

	table, err := NewQueryRemappingTable(sessionIDPrefix())
	if err != nil {
		return nil, err
	}

	for _, df := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result := FileResult{Path: df.path, ID: df.cf.Metadata.DBID, Type: df.ct}

		if err := checkDuplicateKeys(&df.node); err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("syntax: %w", err)
			report.Files = append(report.Files, result)
			continue
		}
		if err := checkMetadataKeys(&df.node); err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("_metadata: %w", err)
			report.Files = append(report.Files, result)
			continue
		}
		if err := validateSchema(df.ct, df.cf.Body); err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("schema: %w", err)
			report.Files = append(report.Files, result)
			continue
		}

		seenByType[df.ct] = append(seenByType[df.ct], df.cf.Metadata.DBID)

		changed, err := isModified(df.cf)
		if err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("checksum: %w", err)
			report.Files = append(report.Files, result)
			continue
		}

		existing, found, err := st.GetContent(ctx, df.ct, df.cf.Metadata.DBID)
		if err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("loading existing row: %w", err)
			report.Files = append(report.Files, result)
			continue
		}

		if !changed && found {
			result.Outcome = OutcomeUnchanged
			report.Files = append(report.Files, result)
			continue
		}

		if df.ct == content.TypeDashboard {
			if err := remapDashboardQueries(df.cf.Body, df.cf.Metadata.QueryHashes, table); err != nil {
				result.Outcome = OutcomeError
				result.Err = fmt.Errorf("query remap: %w", err)
				report.Files = append(report.Files, result)
				continue
			}
		}

		data, err := codec.Encode(df.cf.Body)
		if err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("encoding: %w", err)
			report.Files = append(report.Files, result)
			continue
		}

		item := content.Item{
			ID:          df.cf.Metadata.DBID,
			ContentType: df.ct,
			Name:        stringFieldOf(df.cf.Body, "name", "title"),
			OwnerID:     stringFieldOf(df.cf.Body, "user_id", "owner_id"),
			FolderID:    stringFieldOf(df.cf.Body, "folder_id"),
			ParentID:    stringFieldOf(df.cf.Body, "parent_id"),
			ContentData: data,
			ContentSize: len(data),
		}
		if found {
			item.CreatedAt = existing.CreatedAt
		}
		toWrite[df.ct] = append(toWrite[df.ct], item)

		if found {
			result.Outcome = OutcomeModified
			result.Diff = diffAgainstExisting(codec, existing, df.cf.Body)
		} else {
			result.Outcome = OutcomeNew
		}
		report.Files = append(report.Files, result)
	}

	report.NewQueriesCreated = table.Count()

	if len(report.Errors()) > 0 || cfg.DryRun {
		return report, nil
	}

	for ct, items := range toWrite {
		for start := 0; start < len(items); start += batchSize {
			end := start + batchSize
			if end > len(items) {
				end = len(items)
			}
			if err := st.SaveContentBatch(ctx, items[start:end]); err != nil {
				return report, fmt.Errorf("saving %s batch [%d:%d]: %w", ct, start, end, err)
			}
		}
	}

	if cfg.Force {
		for ct, ids := range seenByType {
			deleted, err := st.DeleteContentNotIn(ctx, ct, ids)
			if err != nil {
				return report, fmt.Errorf("deleting absent %s rows: %w", ct, err)
			}
			report.DeletedCount += deleted
		}
	}

	if table.Count() > 0 {
		if err := table.WriteSidecar(cfg.InputDir); err != nil {
			return report, fmt.Errorf("writing query remapping sidecar: %w", err)
		}
	}

	return report, nil
}

func readManifest(inputDir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(inputDir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata.json: %w", err)
	}
	return &m, nil
}

// discoverFiles walks inputDir for *.yaml/*.yml files, skipping the
// .pack_state sidecar directory (query remapping state), and parses each into a contentFile plus its raw node
// (needed for duplicate-key detection).
func discoverFiles(inputDir string) ([]discoveredFile, error) {
	var out []discoveredFile
	err := filepath.WalkDir(inputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".pack_state" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			out = append(out, discoveredFile{path: path, cf: contentFile{}, node: node})
			return nil
		}
		var cf contentFile
		if err := yaml.Unmarshal(raw, &cf); err != nil {
			out = append(out, discoveredFile{path: path, node: node})
			return nil
		}
		ct, _ := content.ParseType(cf.Metadata.ContentType)
		out = append(out, discoveredFile{path: path, node: node, cf: cf, ct: ct})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// checkDuplicateKeys walks a parsed yaml.Node tree looking for repeated keys
// within any single mapping, per spec.md §4.6 step 2 "no duplicate keys".
// gopkg.in/yaml.v3 silently lets the last occurrence win on Unmarshal, so
// this check runs separately against the raw node.
func checkDuplicateKeys(node *yaml.Node) error {
	if node.Kind == 0 {
		return fmt.Errorf("empty or unparsable document")
	}
	return walkForDuplicates(node)
}

func walkForDuplicates(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode {
		for _, c := range node.Content {
			if err := walkForDuplicates(c); err != nil {
				return err
			}
		}
		return nil
	}
	if node.Kind == yaml.MappingNode {
		seen := map[string]bool{}
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if seen[key] {
				return fmt.Errorf("duplicate key %q at line %d", key, node.Content[i].Line)
			}
			seen[key] = true
			if err := walkForDuplicates(node.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	}
	if node.Kind == yaml.SequenceNode {
		for _, c := range node.Content {
			if err := walkForDuplicates(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkMetadataKeys finds the top-level "_metadata" mapping in a parsed
// document and rejects any key outside metadataKnownKeys. Plain
// yaml.Unmarshal into FileMetadata silently drops unrecognized keys, so
// this walks the raw node instead, per spec.md §9 "tagged sidecar, never
// an arbitrary bag".
func checkMetadataKeys(node *yaml.Node) error {
	root := node
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "_metadata" {
			continue
		}
		meta := root.Content[i+1]
		if meta.Kind != yaml.MappingNode {
			return nil
		}
		for j := 0; j+1 < len(meta.Content); j += 2 {
			key := meta.Content[j].Value
			if !metadataKnownKeys[key] {
				return fmt.Errorf("unrecognized _metadata key %q at line %d", key, meta.Content[j].Line)
			}
		}
		return nil
	}
	return nil
}

// isModified recomputes the file's content checksum and compares it with
// the one recorded in _metadata at unpack time, per spec.md §4.6 step 3.
func isModified(cf contentFile) (bool, error) {
	sum, err := contentChecksum(cf.Body)
	if err != nil {
		return false, err
	}
	stored := strings.TrimPrefix(cf.Metadata.Checksum, "sha256:")
	return sum != stored, nil
}

// remapDashboardQueries walks dashboard_elements, recomputing each embedded
// query's canonical hash and comparing it against storedHashes (the hash
// recorded in _metadata.query_hashes at unpack time, keyed by element
// index). Only elements whose hash has actually changed get a new,
// deduplicated query_id; an element whose query is untouched keeps its
// existing query_id, per spec.md §4.6 step 4.
func remapDashboardQueries(body map[string]any, storedHashes map[string]string, table *QueryRemappingTable) error {
	raw, ok := body["dashboard_elements"]
	if !ok {
		return nil
	}
	elements, ok := raw.([]any)
	if !ok {
		return nil
	}
	for i, e := range elements {
		elem, ok := e.(map[string]any)
		if !ok {
			continue
		}
		q, ok := elem["query"].(map[string]any)
		if !ok {
			continue
		}
		hash, err := queryHash(q)
		if err != nil {
			return err
		}
		if storedHashes[strconv.Itoa(i)] == hash {
			continue
		}
		newID, _ := table.Resolve(hash)
		elem["query_id"] = newID
	}
	return nil
}

// diffAgainstExisting renders a console-friendly jsondiff report comparing
// the previously-stored row against the new body, surfaced to operators on
// --dry-run and in --json output. A diff failure is non-fatal: it just
// leaves the file's Diff empty.
func diffAgainstExisting(codec *content.Codec, existing content.Item, newBody map[string]any) string {
	oldBody, err := codec.Decode(existing.ContentData)
	if err != nil {
		return ""
	}
	oldJSON, err := json.Marshal(oldBody)
	if err != nil {
		return ""
	}
	newJSON, err := json.Marshal(newBody)
	if err != nil {
		return ""
	}
	opts := jsondiff.DefaultConsoleOptions()
	_, diff := jsondiff.Compare(oldJSON, newJSON, &opts)
	return diff
}

func stringFieldOf(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := body[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// sessionIDPrefix namespaces synthetic query IDs for one pack invocation.
func sessionIDPrefix() string {
	return fmt.Sprintf("pack-%d", time.Now().UnixNano())
}
