// Package looker specifies the surface of the Looker SDK client that the
// core consumes, per spec.md §6. The implementation of this interface (auth,
// transport, pagination mechanics against the real Looker API) is an
// external collaborator outside this module's scope; LookerVault's core
// only depends on the interface below, so it can be driven by a real client
// in production and a fake in tests.
package looker

import (
	"context"

	"github.com/z3z1ma/lookervault/internal/content"
)

// Filter parameterizes a List call: folder scoping for dashboards/looks
// (spec.md §4.4 "Folder filter") and a Deleted flag. HTTPClient sends only
// FolderIDs as query parameters; Mock ignores the filter.
type Filter struct {
	FolderIDs []string
	Deleted   bool
}

// Page is one page of raw Looker objects, keyed by ID, as returned by a
// paginated list call.
type Page struct {
	Items   []RawObject
	HasMore bool
}

// RawObject is a single Looker API object prior to LookerVault's own
// encoding: an ID plus the decoded JSON body.
type RawObject struct {
	ID   string
	Body map[string]any
}

// Client is the consumed surface of the Looker SDK, per spec.md §6. Every
// method classifies its own failures using internal/errkind so the
// orchestrators don't need Looker-specific error matching: a RateLimited
// kind models an HTTP 429, NotFound models a 404, and so on.
type Client interface {
	// List returns one page of content of the given type starting at
	// offset, sized limit, matching filter.
	List(ctx context.Context, ct content.Type, filter Filter, offset, limit int64) (Page, error)

	// Get fetches a single object by ID. Returns an error classified
	// errkind.NotFound if absent.
	Get(ctx context.Context, ct content.Type, id string) (RawObject, error)

	// Exists probes for presence without fetching the full body.
	Exists(ctx context.Context, ct content.Type, id string) (bool, error)

	// Create writes a new object and returns its Looker-assigned ID.
	Create(ctx context.Context, ct content.Type, writeModel map[string]any) (newID string, err error)

	// Update writes to an existing object. Returns an error classified
	// errkind.NotFound if id no longer exists (spec.md §4.5 step 4: the
	// restoration orchestrator falls through to Create in that case).
	Update(ctx context.Context, ct content.Type, id string, writeModel map[string]any) error

	// Me and Versions are connectivity probes (spec.md §6). No orchestrator
	// or CLI command calls them; auth failures surface from NewHTTPClient's
	// token acquisition instead.
	Me(ctx context.Context) (map[string]any, error)
	Versions(ctx context.Context) (map[string]any, error)
}
