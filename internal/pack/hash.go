package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// contentChecksum computes the per-file "_metadata.checksum" used for
// modification detection (spec.md §4.6 step 3): a canonical SHA-256 over
// the full content body, no field exclusion.
func contentChecksum(body map[string]any) (string, error) {
	return canonicalHash(normalizeList(body))
}

// queryHash computes the canonical hash of an embedded dashboard-element
// query definition, per spec.md §4.6 step 4: sorted-key JSON, normalized
// lists, excluding id/timestamps/permissions/URLs.
func queryHash(query map[string]any) (string, error) {
	return canonicalHash(normalizeForHash(query))
}

// dashboardQueryHashes computes queryHash for every dashboard_elements entry
// that carries a "query" object, keyed by the element's index, so a later
// pack can tell which specific queries changed since unpack rather than
// treating every element as modified whenever the dashboard file changed,
// per spec.md §4.6 step 4.
func dashboardQueryHashes(body map[string]any) (map[string]string, error) {
	raw, ok := body["dashboard_elements"]
	if !ok {
		return nil, nil
	}
	elements, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := map[string]string{}
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
			return nil, err
		}
		out[strconv.Itoa(i)] = hash
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// canonicalHash marshals obj through encoding/json, which sorts map keys
// alphabetically, giving a stable digest. SHA-256 itself is mandated by
// spec.md §4.6 rather than left to an ecosystem choice, so this stays on
// crypto/sha256 rather than reaching for a hash-library dependency; see
// DESIGN.md.
func canonicalHash(obj any) (string, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeList sorts list-valued fields without dropping any field,
// unlike normalizeForHash which also excludes query-only fields.
func normalizeList(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeList(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeList(val)
		}
		sort.Slice(out, func(i, j int) bool {
			bi, _ := json.Marshal(out[i])
			bj, _ := json.Marshal(out[j])
			return string(bi) < string(bj)
		})
		return out
	default:
		return v
	}
}

// excludedQueryFields are stripped before hashing a query definition, per
// spec.md §4.6 step 4: "excluding id, timestamps, permissions, URLs".
var excludedQueryFields = map[string]bool{
	"id": true, "client_id": true, "share_url": true, "expanded_share_url": true,
	"url": true, "created_at": true, "updated_at": true, "can": true,
}

// normalizeForHash deep-copies obj, sorting any list-valued field so that
// element order doesn't perturb the hash ("normalized lists" per spec.md
// §4.6), and dropping excluded fields from query-shaped maps.
func normalizeForHash(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if excludedQueryFields[k] {
				continue
			}
			out[k] = normalizeForHash(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForHash(val)
		}
		sort.Slice(out, func(i, j int) bool {
			bi, _ := json.Marshal(out[i])
			bj, _ := json.Marshal(out[j])
			return string(bi) < string(bj)
		})
		return out
	default:
		return v
	}
}
