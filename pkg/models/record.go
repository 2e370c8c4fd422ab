package models

import "fmt"

// Record is a snapshot of a CRM entity. The schema is partially user-defined, so the
// engine treats records as JSON objects.
type Record map[string]any

// Field names the engine relies on.
const (
	FieldID           = "id"
	FieldUserID       = "userId"
	FieldTags         = "tags"
	FieldEmail        = "email"
	FieldValue        = "value"
	FieldStageID      = "stageId"
	FieldContactID    = "contactId"
	FieldCustomFields = "customFields"
)

// ID returns the record identifier as a string.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns a field formatted as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}

		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Tags returns the record tags as strings.
func (r Record) Tags() []string {
	return StringSlice(r[FieldTags])
}

// CustomFields returns a copy of the customFields namespace.
func (r Record) CustomFields() map[string]any {
	out := make(map[string]any)

	if fields, ok := r[FieldCustomFields].(map[string]any); ok {
		for k, v := range fields {
			out[k] = v
		}
	}

	return out
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// StringSlice converts []string or []any values into []string.
func StringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprintf("%v", item))
			}
		}

		return out
	default:
		return nil
	}
}
