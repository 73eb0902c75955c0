// Package misp holds the inbound and outbound MISP event models. Events pass
// through the service and back out to MISP instances, so undeclared fields
// are preserved across decode and re-encode.
package misp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/tego/internal/models"
)

// ThreatLevel is the MISP threat level identifier.
type ThreatLevel string

const (
	ThreatLevelHigh      ThreatLevel = "1"
	ThreatLevelMedium    ThreatLevel = "2"
	ThreatLevelLow       ThreatLevel = "3"
	ThreatLevelUndefined ThreatLevel = "4"
)

// Valid reports whether the level is one of the defined identifiers.
func (l ThreatLevel) Valid() bool {
	switch l {
	case ThreatLevelHigh, ThreatLevelMedium, ThreatLevelLow, ThreatLevelUndefined:
		return true
	}
	return false
}

// Int returns the numeric form of the level. Undefined input counts as zero.
func (l ThreatLevel) Int() int {
	n, err := strconv.Atoi(string(l))
	if err != nil {
		return 0
	}
	return n
}

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// Today returns the current calendar date.
func Today() Date {
	return Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
}

// MarshalJSON serializes the date in calendar form.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON parses a calendar date string.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	d.Time = parsed
	return nil
}

// FlexString is a string that also accepts boolean and numeric JSON values,
// which MISP exports occasionally carry.
type FlexString string

// UnmarshalJSON coerces strings, booleans and numbers to string form.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var boolean bool
	if err := json.Unmarshal(b, &boolean); err == nil {
		*f = FlexString(strconv.FormatBool(boolean))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(b, &number); err == nil {
		*f = FlexString(number.String())
		return nil
	}
	return fmt.Errorf("value %s is not a string, boolean or number", b)
}

// Attribute is one MISP attribute. Only the fields the pipeline needs are
// declared; the rest ride along in Extra.
type Attribute struct {
	UUID           string                     `json:"uuid,omitempty"`
	ObjectRelation string                     `json:"object_relation"`
	Value          FlexString                 `json:"value"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the declared fields and keeps the rest.
func (a *Attribute) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "object_relation", "value"); err != nil {
		return fmt.Errorf("misp attribute: %w", err)
	}
	type alias Attribute
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	extra, err := extraFields(b, "uuid", "object_relation", "value")
	if err != nil {
		return err
	}
	dec.Extra = extra
	*a = Attribute(dec)
	return nil
}

// MarshalJSON re-encodes the declared fields merged with the preserved ones.
func (a Attribute) MarshalJSON() ([]byte, error) {
	type alias Attribute
	return marshalWithExtra(alias(a), a.Extra)
}

// Object is one MISP object with its member attributes.
type Object struct {
	Name       string                     `json:"name"`
	UUID       string                     `json:"uuid,omitempty"`
	Timestamp  string                     `json:"timestamp"`
	Attributes []Attribute                `json:"Attribute"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the declared fields and keeps the rest.
func (o *Object) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "name", "timestamp", "Attribute"); err != nil {
		return fmt.Errorf("misp object: %w", err)
	}
	type alias Object
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	extra, err := extraFields(b, "name", "uuid", "timestamp", "Attribute")
	if err != nil {
		return err
	}
	dec.Extra = extra
	*o = Object(dec)
	return nil
}

// MarshalJSON re-encodes the declared fields merged with the preserved ones.
func (o Object) MarshalJSON() ([]byte, error) {
	type alias Object
	return marshalWithExtra(alias(o), o.Extra)
}

// Tag is one MISP tag reference.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnmarshalJSON rejects tags missing schema fields.
func (t *Tag) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "id", "name"); err != nil {
		return fmt.Errorf("misp tag: %w", err)
	}
	type alias Tag
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*t = Tag(dec)
	return nil
}

// Event is one MISP event: top-level attributes, objects and tags.
type Event struct {
	UUID          string                     `json:"uuid,omitempty"`
	Date          Date                       `json:"date"`
	Timestamp     string                     `json:"timestamp"`
	ThreatLevelID ThreatLevel                `json:"threat_level_id"`
	Attributes    []Attribute                `json:"Attribute"`
	Objects       []Object                   `json:"Object"`
	Tags          []Tag                      `json:"Tag"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes an event, applying defaults for absent date and
// timestamp and validating the threat level.
func (e *Event) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "threat_level_id"); err != nil {
		return fmt.Errorf("misp event: %w", err)
	}
	type alias Event
	dec := alias{Date: Today(), Timestamp: "0"}
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	if !dec.ThreatLevelID.Valid() {
		return fmt.Errorf("misp event: invalid threat level %q", dec.ThreatLevelID)
	}
	extra, err := extraFields(b, "uuid", "date", "timestamp", "threat_level_id",
		"Attribute", "Object", "Tag")
	if err != nil {
		return err
	}
	dec.Extra = extra
	*e = Event(dec)
	return nil
}

// MarshalJSON re-encodes the declared fields merged with the preserved ones.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	if e.Attributes == nil {
		e.Attributes = []Attribute{}
	}
	if e.Objects == nil {
		e.Objects = []Object{}
	}
	if e.Tags == nil {
		e.Tags = []Tag{}
	}
	return marshalWithExtra(alias(e), e.Extra)
}

// EventAnon is the inbound anonymization payload: the event plus its two
// side-car policies and optional audit extras.
type EventAnon struct {
	Event           Event                  `json:"Event"`
	PrivacyPolicy   models.PrivacyPolicy   `json:"Privacy-policy"`
	HierarchyPolicy models.HierarchyPolicy `json:"Hierarchy-policy"`
	Audit           map[string]any         `json:"Audit,omitempty"`
}

// UnmarshalJSON rejects payloads missing the event or either policy.
func (e *EventAnon) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "Event", "Privacy-policy", "Hierarchy-policy"); err != nil {
		return fmt.Errorf("misp event anon: %w", err)
	}
	type alias EventAnon
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*e = EventAnon(dec)
	return nil
}

// EventMISP is the bare publication payload carrying only the event.
type EventMISP struct {
	Event Event `json:"Event"`
}

// UnmarshalJSON rejects payloads missing the event.
func (e *EventMISP) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "Event"); err != nil {
		return fmt.Errorf("misp event wrapper: %w", err)
	}
	type alias EventMISP
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*e = EventMISP(dec)
	return nil
}

// extraFields returns the undeclared fields of a serialized map.
func extraFields(b []byte, declared ...string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	for _, field := range declared {
		delete(raw, field)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// marshalWithExtra merges preserved fields into the serialized base form.
// Declared fields win on collision.
func marshalWithExtra(base any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return b, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for field, value := range extra {
		if _, ok := out[field]; !ok {
			out[field] = value
		}
	}
	return json.Marshal(out)
}
