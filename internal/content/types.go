// Package content defines the data model shared by every core component:
// content types, content items, sessions, checkpoints, DLQ entries, and
// ID mappings, per spec.md §3.
package content

import "time"

// Type is the closed enum of Looker content kinds. Its declaration order is
// the authoritative restoration dependency order (spec.md §3, invariant 5).
type Type int

const (
	TypeUser Type = iota
	TypeGroup
	TypeRole
	TypePermissionSet
	TypeModelSet
	TypeFolder
	TypeLookMLModel
	TypeLook
	TypeDashboard
	TypeBoard
	TypeScheduledPlan
	// TypeExplore is recognized but not restorable: read-only in Looker.
	TypeExplore
)

var typeNames = [...]string{
	TypeUser:          "USER",
	TypeGroup:         "GROUP",
	TypeRole:          "ROLE",
	TypePermissionSet: "PERMISSION_SET",
	TypeModelSet:      "MODEL_SET",
	TypeFolder:        "FOLDER",
	TypeLookMLModel:   "LOOKML_MODEL",
	TypeLook:          "LOOK",
	TypeDashboard:     "DASHBOARD",
	TypeBoard:         "BOARD",
	TypeScheduledPlan: "SCHEDULED_PLAN",
	TypeExplore:       "EXPLORE",
}

func (t Type) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// ParseType maps a stored/CLI name back to a Type.
func ParseType(s string) (Type, bool) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), true
		}
	}
	return 0, false
}

// DependencyOrder is the full, authoritative restoration order: every
// restorable type in the order a Restoration Orchestrator must process them,
// per spec.md §3/§4.5.
func DependencyOrder() []Type {
	return RestorableTypes()
}

// RestorableTypes returns every Type except TypeExplore, in dependency order.
func RestorableTypes() []Type {
	out := make([]Type, 0, len(typeNames)-1)
	for i := range typeNames {
		if Type(i) == TypeExplore {
			continue
		}
		out = append(out, Type(i))
	}
	return out
}

// Item is a single persisted Looker object plus its metadata, per spec.md §3.
// ContentData is the deterministic binary encoding of the underlying Looker
// object (see Codec); it is opaque to every component except the pack/unpack
// engine, which must deserialize it to walk FK fields and emit YAML.
type Item struct {
	ID          string
	ContentType Type
	Name        string
	OwnerID     string // empty if not applicable
	FolderID    string // empty if not applicable
	ParentID    string // empty if not applicable (folder hierarchy)
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Deleted     bool
	ContentData []byte
	ContentSize int
}

// SessionStatus is the lifecycle state of an Extraction/Restoration session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// ExtractionSession tracks one extraction run, per spec.md §3.
type ExtractionSession struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       SessionStatus
	TotalItems   int
	SuccessCount int
	ErrorCount   int
	Config       []byte // JSON
	Metadata     []byte // JSON
}

// RestorationSession tracks one restoration run, per spec.md §3.
type RestorationSession struct {
	ID                  string
	StartedAt           time.Time
	CompletedAt         *time.Time
	Status              SessionStatus
	TotalItems          int
	SuccessCount        int
	ErrorCount          int
	SourceInstance      string // optional, cross-instance restores only
	DestinationInstance string
	Config              []byte
	Metadata            []byte
}

// CheckpointData is the resumable progress marker for one (session, type)
// pair, per spec.md §3. CompletedIDs grows monotonically until the
// checkpoint is marked complete (invariant 4).
type CheckpointData struct {
	CompletedIDs []string
	LastOffset   *int64
}

// Checkpoint is the persisted row wrapping CheckpointData, per spec.md §3.
type Checkpoint struct {
	ID          int64
	SessionID   string
	ContentType Type
	Data        CheckpointData
	StartedAt   time.Time
	CompletedAt *time.Time
	ItemCount   int
	ErrorCount  int
}

// DeadLetterItem is a terminally-failed restoration item with full error
// context, per spec.md §3. Uniqueness is (session_id, content_id,
// content_type, retry_count); see spec.md invariant and §8 "DLQ uniqueness".
type DeadLetterItem struct {
	ID          int64
	SessionID   string
	ContentID   string
	ContentType Type
	ContentData []byte
	ErrorMessage string
	ErrorType    string
	StackTrace   string // optional
	RetryCount   int
	FailedAt     time.Time
	Metadata     []byte // JSON
}

// IDMapping is a persisted source→destination ID translation, per spec.md
// §3 and §4.5.1. Primary key is (SourceInstance, ContentType, SourceID);
// re-create overwrites DestinationID with the latest value.
type IDMapping struct {
	SourceInstance string
	ContentType    Type
	SourceID       string
	DestinationID  string
	CreatedAt      time.Time
	SessionID      string // optional
}
