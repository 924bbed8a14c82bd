package pack

import (
	"fmt"

	"github.com/z3z1ma/lookervault/internal/content"
)

// validElementTypes is the closed set for dashboard_element.type, per
// spec.md §4.6 step 2 "Schema validation".
var validElementTypes = map[string]bool{
	"vis": true, "text": true, "look": true, "button": true,
}

// validRefreshIntervals is the closed set Looker dashboards accept for
// their refresh interval, per spec.md §4.6 step 2.
var validRefreshIntervals = map[string]bool{
	"": true, "1 minutes": true, "5 minutes": true, "15 minutes": true,
	"30 minutes": true, "1 hours": true, "2 hours": true, "4 hours": true,
	"8 hours": true, "12 hours": true, "24 hours": true,
}

// requiredFields is the minimal required-field set per content type, per
// spec.md §4.6 step 2 "required fields per content type".
var requiredFields = map[content.Type][]string{
	content.TypeUser:          {"id"},
	content.TypeGroup:         {"id", "name"},
	content.TypeRole:          {"id", "name"},
	content.TypePermissionSet: {"id", "name"},
	content.TypeModelSet:      {"id", "name"},
	content.TypeFolder:        {"id", "name"},
	content.TypeLookMLModel:   {"name"},
	content.TypeLook:          {"id", "title"},
	content.TypeDashboard:     {"id", "title"},
	content.TypeBoard:         {"id", "title"},
	content.TypeScheduledPlan: {"id", "name"},
}

// validateSchema enforces spec.md §4.6 step 2's "Schema validation" and
// "SDK-shape validation": required fields present, and the closed enum
// fields (dashboard elements) hold valid values. A plain map[string]any is
// itself an acceptable SDK write-model shape per the spec, so no stricter
// structural check is imposed beyond required fields and enums.
func validateSchema(ct content.Type, body map[string]any) error {
	for _, f := range requiredFields[ct] {
		if v, ok := body[f]; !ok || v == nil || v == "" {
			return fmt.Errorf("missing required field %q", f)
		}
	}
	if ct == content.TypeDashboard {
		if err := validateDashboardElements(body); err != nil {
			return err
		}
	}
	return nil
}

func validateDashboardElements(body map[string]any) error {
	raw, ok := body["dashboard_elements"]
	if !ok {
		return nil
	}
	elements, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("dashboard_elements: expected a list")
	}
	for i, e := range elements {
		elem, ok := e.(map[string]any)
		if !ok {
			return fmt.Errorf("dashboard_elements[%d]: expected an object", i)
		}
		if t, ok := elem["type"].(string); ok && !validElementTypes[t] {
			return fmt.Errorf("dashboard_elements[%d]: invalid type %q", i, t)
		}
	}
	if refresh, ok := body["refresh_interval"].(string); ok && !validRefreshIntervals[refresh] {
		return fmt.Errorf("invalid refresh_interval %q", refresh)
	}
	return nil
}
