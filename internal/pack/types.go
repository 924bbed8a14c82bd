// Package pack implements the Pack/Unpack Engine (C6) from spec.md §4.6: a
// bidirectional content-repository-to-YAML-tree round trip with a
// folder-hierarchy placement strategy, per-file validation, modification
// detection, and dashboard query remapping.
package pack

import (
	"time"

	"github.com/z3z1ma/lookervault/internal/content"
)

// Strategy selects how unpacked files are laid out on disk, per spec.md
// §4.6 "Unpack".
type Strategy string

const (
	StrategyFull   Strategy = "full"
	StrategyFolder Strategy = "folder"
)

// manifestVersion is the export format version written to metadata.json's
// "version" field (distinct from the repository's own schema_version).
const manifestVersion = "1.0"

// FileMetadata is the closed-schema `_metadata` block embedded in every
// unpacked YAML file, per spec.md §6 "YAML file format". Unknown keys in
// this block are rejected on pack, per spec.md §9 "tagged sidecar, never an
// arbitrary bag".
type FileMetadata struct {
	DBID        string    `yaml:"db_id"`
	ContentType string    `yaml:"content_type"`
	ExportedAt  time.Time `yaml:"exported_at"`
	ContentSize int       `yaml:"content_size"`
	Checksum    string    `yaml:"checksum"`
	FolderPath  string    `yaml:"folder_path,omitempty"`
	// QueryHashes records, for dashboards only, each embedded
	// dashboard_elements query's canonical hash as computed at unpack time
	// (keyed by element index), so pack can detect which specific queries
	// changed rather than remapping every query whenever any field of the
	// dashboard changes, per spec.md §4.6 step 4.
	QueryHashes map[string]string `yaml:"query_hashes,omitempty"`
}

// metadataKnownKeys is the closed key set _metadata may carry; pack rejects
// any file whose _metadata block has a key outside this set, per spec.md
// §9 "tagged sidecar, never an arbitrary bag".
var metadataKnownKeys = map[string]bool{
	"db_id": true, "content_type": true, "exported_at": true,
	"content_size": true, "checksum": true, "folder_path": true,
	"query_hashes": true,
}

// contentFile is the on-disk shape of one unpacked YAML file: the
// content's own fields (Body) plus the reserved _metadata block.
type contentFile struct {
	Body     map[string]any `yaml:",inline"`
	Metadata FileMetadata   `yaml:"_metadata"`
}

// FolderMapEntry describes one folder node in metadata.json's folder_map,
// per spec.md §6.
type FolderMapEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ParentID   string `json:"parent_id,omitempty"`
	Path       string `json:"path"`
	Depth      int    `json:"depth"`
	ChildCount int    `json:"child_count"`
}

// Manifest is the root `metadata.json` written by Unpack and read by Pack,
// per spec.md §6.
type Manifest struct {
	Version               string                    `json:"version"`
	Strategy              Strategy                  `json:"strategy"`
	DatabaseSchemaVersion int                       `json:"database_schema_version"`
	ExportedAt            time.Time                 `json:"exported_at"`
	SourceDatabase        string                    `json:"source_database,omitempty"`
	TotalItems            int                       `json:"total_items"`
	ContentCounts         map[string]int            `json:"content_counts"`
	Checksum              string                    `json:"checksum"`
	FolderMap             map[string]FolderMapEntry `json:"folder_map,omitempty"`
}

// UnpackConfig configures one unpack run, per spec.md §4.6.
type UnpackConfig struct {
	OutputDir      string
	Strategy       Strategy
	Types          []content.Type // empty means every restorable type (EXPLORE not included)
	IncludeDeleted bool
	SchemaVersion  int
	SourceDatabase string
}

// PackConfig configures one pack run, per spec.md §4.6.
type PackConfig struct {
	InputDir string
	Force    bool
	DryRun   bool
}

// FileOutcome classifies one discovered YAML file during Pack.
type FileOutcome string

const (
	OutcomeUnchanged FileOutcome = "unchanged"
	OutcomeModified  FileOutcome = "modified"
	OutcomeNew       FileOutcome = "new"
	OutcomeError     FileOutcome = "error"
)

// FileResult reports the per-file outcome of one Pack run, per spec.md
// §4.6 "Errors — per-file validation errors are aggregated".
type FileResult struct {
	Path    string
	ID      string
	Type    content.Type
	Outcome FileOutcome
	Err     error
	// Diff is a human-readable jsondiff report against the previously
	// stored content, populated for Modified outcomes (including dry-run).
	Diff string
}

// Report summarizes one Pack run.
type Report struct {
	Files             []FileResult
	NewQueriesCreated int
	DeletedCount      int
}

func (r *Report) countOf(outcome FileOutcome) int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *Report) Unchanged() int { return r.countOf(OutcomeUnchanged) }
func (r *Report) Modified() int  { return r.countOf(OutcomeModified) }
func (r *Report) New() int       { return r.countOf(OutcomeNew) }
func (r *Report) Errors() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Outcome == OutcomeError {
			out = append(out, f)
		}
	}
	return out
}
