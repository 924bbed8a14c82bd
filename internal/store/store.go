// Package store implements the Content Repository (C2) from spec.md §4.2:
// the single persistent store for content items and operational metadata
// (sessions, checkpoints, DLQ, ID mappings), backed by an embedded SQLite
// database per spec.md §6.
package store

import (
	"context"
	"time"

	"github.com/z3z1ma/lookervault/internal/content"
)

// ListFilter scopes ListContent/CountContent, per spec.md §4.2's table.
type ListFilter struct {
	FolderIDs      []string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SessionKind distinguishes the two parallel session/checkpoint schemas
// (extraction vs restoration) described in spec.md §6.
type SessionKind string

const (
	KindExtraction  SessionKind = "extraction"
	KindRestoration SessionKind = "restoration"
)

// Store is the full Content Repository contract consumed by the
// orchestrators and the pack/unpack engine, per spec.md §4.2's operation
// table.
type Store interface {
	// SaveContent upserts by primary key (content_type, id): preserves the
	// original created_at on an existing row, updates everything else.
	// Per spec.md invariant 1, writing identical bytes twice is a no-op in
	// observable effect.
	SaveContent(ctx context.Context, item content.Item) error
	// SaveContentBatch upserts every item within a single transaction, per
	// spec.md §4.6 step 5's "batched commits of ≤100 items" (callers are
	// responsible for chunking; this method commits exactly once).
	SaveContentBatch(ctx context.Context, items []content.Item) error
	GetContent(ctx context.Context, ct content.Type, id string) (content.Item, bool, error)
	// ListContent returns rows ordered deterministically by id ASC.
	ListContent(ctx context.Context, ct content.Type, filter ListFilter) ([]content.Item, error)
	CountContent(ctx context.Context, ct content.Type, filter ListFilter) (int, error)
	// DeleteContentNotIn marks every row of ct whose id is not in keep as
	// deleted; used by pack's --force "absent from export" handling
	// (spec.md §4.6 step 5).
	DeleteContentNotIn(ctx context.Context, ct content.Type, keep []string) (int, error)

	CreateExtractionSession(ctx context.Context, s content.ExtractionSession) error
	UpdateExtractionSession(ctx context.Context, s content.ExtractionSession) error
	GetExtractionSession(ctx context.Context, id string) (content.ExtractionSession, bool, error)

	CreateRestorationSession(ctx context.Context, s content.RestorationSession) error
	UpdateRestorationSession(ctx context.Context, s content.RestorationSession) error
	GetRestorationSession(ctx context.Context, id string) (content.RestorationSession, bool, error)

	// SaveCheckpoint upserts the single active checkpoint row for
	// (session_id, content_type) — see DESIGN.md's Open Question 1 for why
	// started_at was dropped from the natural key.
	SaveCheckpoint(ctx context.Context, kind SessionKind, cp content.Checkpoint) error
	GetLatestCheckpoint(ctx context.Context, kind SessionKind, ct content.Type, sessionID string) (content.Checkpoint, bool, error)

	SaveIDMapping(ctx context.Context, m content.IDMapping) error
	GetDestinationID(ctx context.Context, sourceInstance string, ct content.Type, sourceID string) (string, bool, error)

	// SaveDLQItem upserts by (session_id, content_id, content_type,
	// retry_count): two consecutive saves with the same key leave one row
	// carrying the latest message (spec.md §8 "DLQ uniqueness").
	SaveDLQItem(ctx context.Context, d content.DeadLetterItem) error
	ListDLQ(ctx context.Context, sessionID string, ct *content.Type) ([]content.DeadLetterItem, error)
	DeleteDLQItem(ctx context.Context, id int64) error

	// DeleteSession cascades to the session's checkpoints and DLQ entries,
	// per spec.md invariant 3.
	DeleteSession(ctx context.Context, kind SessionKind, sessionID string) error

	Close() error
}

// nowUTC is the repository's single notion of "now", kept as a var so tests
// can observe deterministic timestamps where needed.
var nowUTC = func() time.Time { return time.Now().UTC() }
