package restore

import (
	"context"
	"fmt"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
	"github.com/z3z1ma/lookervault/internal/store"
)

// fkFields lists, per content type, the foreign-key-valued fields (scalar
// or list-valued) that must be translated during a cross-instance restore,
// per spec.md §4.5.1.
var fkFields = map[content.Type][]string{
	content.TypeFolder:         {"parent_id"},
	content.TypeLook:           {"folder_id", "user_id"},
	content.TypeDashboard:      {"folder_id", "user_id"},
	content.TypeBoard:          {"user_id"},
	content.TypeScheduledPlan:  {"user_id", "look_id", "dashboard_id"},
	content.TypeGroup:          {},
	content.TypeRole:           {},
	content.TypePermissionSet:  {},
	content.TypeModelSet:       {},
	content.TypeLookMLModel:    {},
	content.TypeUser:           {},
}

// requiredFK marks fields whose translation failure is fatal (routed to
// DLQ as a Dependency error) rather than merely best-effort.
var requiredFK = map[string]bool{
	"folder_id": true,
}

// fkTargetType maps an FK field name to the content type its value
// references — which is NOT generally the referencing item's own type.
// recordMapping always persists a mapping under the *restored* item's own
// type (a folder's mapping is saved under content.TypeFolder even though
// it's referenced from a Dashboard's folder_id), so translate must look
// up GetDestinationID keyed by this target type, not by ct.
var fkTargetType = map[string]content.Type{
	"parent_id":    content.TypeFolder,
	"folder_id":    content.TypeFolder,
	"user_id":      content.TypeUser,
	"look_id":      content.TypeLook,
	"dashboard_id": content.TypeDashboard,
}

// remapper translates source-instance IDs embedded in a payload into
// destination-instance IDs via the repository's id_mappings table, per
// spec.md §4.5.1. It is a no-op (translate leaves the payload unchanged) when
// SourceInstance is empty or equals DestinationInstance — the common same-instance
// bulk-edit case spec.md's Non-goals describe as "in-spec only at the data
// model layer" for full cross-tenant support, but single-instance restores
// never need it.
type remapper struct {
	store               store.Store
	sourceInstance      string
	destinationInstance string
}

func newRemapper(st store.Store, source, destination string) *remapper {
	return &remapper{store: st, sourceInstance: source, destinationInstance: destination}
}

func (r *remapper) active() bool {
	return r.sourceInstance != "" && r.sourceInstance != r.destinationInstance
}

// translate rewrites payload's FK fields in place, returning a
// errkind.Dependency error naming the first untranslatable required field.
func (r *remapper) translate(ctx context.Context, ct content.Type, payload map[string]any) error {
	if !r.active() {
		return nil
	}
	for _, field := range fkFields[ct] {
		raw, ok := payload[field]
		if !ok || raw == nil {
			continue
		}
		targetType, ok := fkTargetType[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			dest, found, err := r.store.GetDestinationID(ctx, r.sourceInstance, targetType, v)
			if err != nil {
				return fmt.Errorf("resolve mapping for %s.%s=%s: %w", ct, field, v, err)
			}
			if !found {
				if requiredFK[field] {
					return errkind.New(errkind.Dependency, "remap."+field, fmt.Errorf("no destination mapping for %s %s", field, v))
				}
				continue
			}
			payload[field] = dest
		case []any:
			translated := make([]any, 0, len(v))
			for _, elem := range v {
				id, ok := elem.(string)
				if !ok {
					translated = append(translated, elem)
					continue
				}
				dest, found, err := r.store.GetDestinationID(ctx, r.sourceInstance, targetType, id)
				if err != nil {
					return fmt.Errorf("resolve list mapping for %s.%s=%s: %w", ct, field, id, err)
				}
				if !found {
					if requiredFK[field] {
						return errkind.New(errkind.Dependency, "remap."+field, fmt.Errorf("no destination mapping for %s %s", field, id))
					}
					translated = append(translated, elem)
					continue
				}
				translated = append(translated, dest)
			}
			payload[field] = translated
		}
	}
	return nil
}

// recordMapping persists a newly-created destination ID, per spec.md §4.5.1
// "After a successful create, persist the new source→destination mapping."
func (r *remapper) recordMapping(ctx context.Context, sessionID string, ct content.Type, sourceID, destinationID string) error {
	if !r.active() {
		return nil
	}
	return r.store.SaveIDMapping(ctx, content.IDMapping{
		SourceInstance: r.sourceInstance,
		ContentType:    ct,
		SourceID:       sourceID,
		DestinationID:  destinationID,
		SessionID:      sessionID,
	})
}
