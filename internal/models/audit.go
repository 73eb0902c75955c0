package models

import "encoding/json"

// Audit keys shared between transformer snapshots and the jobs that
// update them after upload.
const (
	AuditKeyUUID      = "uuid"
	AuditKeyTags      = "tags"
	AuditKeySeverity  = "severity"
	AuditKeyDate      = "date"
	AuditKeyEventType = "event_type"
	AuditKeyPublished = "published"
	AuditKeyUploaded  = "uploaded"
)

// Audit is a free-form record of a request as it looked before the
// pipeline ran. Transformers produce one per request; sink jobs flip the
// uploaded/published flags once the event leaves the system.
type Audit map[string]any

// Clone returns a shallow copy of the audit record.
func (a Audit) Clone() Audit {
	clone := make(Audit, len(a))
	for k, v := range a {
		clone[k] = v
	}
	return clone
}

// Bool reads a boolean field, returning false when absent or mistyped.
func (a Audit) Bool(key string) bool {
	v, ok := a[key].(bool)
	return ok && v
}

// String reads a string field, returning "" when absent or mistyped.
func (a Audit) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Int reads a numeric field, returning 0 when absent or mistyped.
// Records decoded from storage carry numbers as float64.
func (a Audit) Int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Strings reads a string list field. Lists decoded from storage arrive
// as []any and are converted element by element.
func (a Audit) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Encode serializes the audit record for storage.
func (a Audit) Encode() ([]byte, error) {
	return json.Marshal(map[string]any(a))
}

// DecodeAudit deserializes a stored audit record.
func DecodeAudit(raw []byte) (Audit, error) {
	var a Audit
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}
