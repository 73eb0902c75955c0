// Package stix converts MISP events into STIX documents: a bundle of
// indicators for STIX 2.x, or a namespaced package for legacy STIX 1.x
// consumers. Only the portions of the standards the outbound jobs need are
// modeled.
package stix

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/tego/internal/models/misp"
)

// Supported STIX versions.
const (
	Version21  = "2.1"
	Version20  = "2.0"
	Version12  = "1.2"
	Version111 = "1.1.1"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Bundle is a STIX 2.x envelope. SpecVersion is only set for 2.0, where
// the version marker rides on the bundle instead of the objects.
type Bundle struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	SpecVersion string `json:"spec_version,omitempty"`
	Objects     []any  `json:"objects"`
}

// Identity is the producing organization.
type Identity struct {
	Type          string `json:"type"`
	SpecVersion   string `json:"spec_version,omitempty"`
	ID            string `json:"id"`
	Created       string `json:"created"`
	Modified      string `json:"modified"`
	Name          string `json:"name"`
	IdentityClass string `json:"identity_class"`
}

// Indicator is one detectable pattern lifted from a MISP attribute or
// object.
type Indicator struct {
	Type         string   `json:"type"`
	SpecVersion  string   `json:"spec_version,omitempty"`
	ID           string   `json:"id"`
	CreatedByRef string   `json:"created_by_ref"`
	Created      string   `json:"created"`
	Modified     string   `json:"modified"`
	Pattern      string   `json:"pattern"`
	PatternType  string   `json:"pattern_type,omitempty"`
	ValidFrom    string   `json:"valid_from"`
	Labels       []string `json:"labels,omitempty"`
}

// Report ties the bundle objects back to the originating event.
type Report struct {
	Type         string   `json:"type"`
	SpecVersion  string   `json:"spec_version,omitempty"`
	ID           string   `json:"id"`
	CreatedByRef string   `json:"created_by_ref"`
	Created      string   `json:"created"`
	Modified     string   `json:"modified"`
	Name         string   `json:"name"`
	Published    string   `json:"published"`
	ObjectRefs   []string `json:"object_refs"`
	Labels       []string `json:"labels,omitempty"`
}

// patternPaths maps MISP attribute types to STIX pattern object paths.
// Unlisted types fall back to a custom attribute object.
var patternPaths = map[string]string{
	"ip-src":    "ipv4-addr:value",
	"ip-dst":    "ipv4-addr:value",
	"domain":    "domain-name:value",
	"hostname":  "domain-name:value",
	"url":       "url:value",
	"uri":       "url:value",
	"email-src": "email-addr:value",
	"email-dst": "email-addr:value",
	"email":     "email-addr:value",
	"md5":       "file:hashes.MD5",
	"sha1":      "file:hashes.'SHA-1'",
	"sha256":    "file:hashes.'SHA-256'",
	"filename":  "file:name",
	"mutex":     "mutex:name",
	"regkey":    "windows-registry-key:key",
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func patternFor(attType, value string) string {
	path, ok := patternPaths[attType]
	if !ok {
		path = "x-misp-attribute:value"
	}
	return fmt.Sprintf("%s = '%s'", path, patternEscaper.Replace(value))
}

// requiredField reads a string field the event model keeps undeclared.
func requiredField(extra map[string]json.RawMessage, field string) (string, error) {
	raw, ok := extra[field]
	if !ok {
		return "", fmt.Errorf("missing required field %q", field)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("field %q is not a string", field)
	}
	return value, nil
}

// attributeType reads the MISP attribute type, falling back to the object
// relation for object members that omit it.
func attributeType(att *misp.Attribute) string {
	if raw, ok := att.Extra["type"]; ok {
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			return value
		}
	}
	return att.ObjectRelation
}

func timestamp(d misp.Date) string {
	t := d.Time
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}

func tagLabels(event *misp.Event) []string {
	if len(event.Tags) == 0 {
		return nil
	}
	labels := make([]string, 0, len(event.Tags))
	for _, tag := range event.Tags {
		labels = append(labels, tag.Name)
	}
	return labels
}

// Converter builds STIX 2.x bundles from MISP events.
type Converter struct {
	SpecVersion string
}

func (c Converter) objectVersion() string {
	if c.SpecVersion == Version20 {
		return ""
	}
	return c.SpecVersion
}

func (c Converter) patternType() string {
	if c.SpecVersion == Version20 {
		return ""
	}
	return "stix"
}

func (c Converter) bundleVersion() string {
	if c.SpecVersion == Version20 {
		return Version20
	}
	return ""
}

func (c Converter) indicator(id, createdBy, stamp, pattern string, labels ...string) Indicator {
	return Indicator{
		Type:         "indicator",
		SpecVersion:  c.objectVersion(),
		ID:           id,
		CreatedByRef: createdBy,
		Created:      stamp,
		Modified:     stamp,
		Pattern:      pattern,
		PatternType:  c.patternType(),
		ValidFrom:    stamp,
		Labels:       labels,
	}
}

// Bundle converts the event into a bundle of one identity, one indicator
// per attribute and object, and a report referencing them. The event must
// carry a UUID and an info field.
func (c Converter) Bundle(event *misp.Event) (*Bundle, error) {
	info, err := requiredField(event.Extra, "info")
	if err != nil {
		return nil, err
	}
	if event.UUID == "" {
		return nil, fmt.Errorf("missing required field %q", "uuid")
	}
	stamp := timestamp(event.Date)

	identity := Identity{
		Type:          "identity",
		SpecVersion:   c.objectVersion(),
		ID:            "identity--" + uuid.NewString(),
		Created:       stamp,
		Modified:      stamp,
		Name:          orgName(event),
		IdentityClass: "organization",
	}
	objects := []any{identity}
	refs := make([]string, 0, len(event.Attributes)+len(event.Objects))

	for i := range event.Attributes {
		att := &event.Attributes[i]
		attType := attributeType(att)
		indicator := c.indicator(indicatorID(att.UUID), identity.ID, stamp,
			"["+patternFor(attType, string(att.Value))+"]",
			fmt.Sprintf("misp:type=%q", attType))
		objects = append(objects, indicator)
		refs = append(refs, indicator.ID)
	}
	for i := range event.Objects {
		obj := &event.Objects[i]
		parts := make([]string, 0, len(obj.Attributes))
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			parts = append(parts, patternFor(attributeType(att), string(att.Value)))
		}
		if len(parts) == 0 {
			continue
		}
		indicator := c.indicator(indicatorID(obj.UUID), identity.ID, stamp,
			"["+strings.Join(parts, " AND ")+"]",
			fmt.Sprintf("misp:name=%q", obj.Name))
		objects = append(objects, indicator)
		refs = append(refs, indicator.ID)
	}

	objects = append(objects, Report{
		Type:         "report",
		SpecVersion:  c.objectVersion(),
		ID:           "report--" + event.UUID,
		CreatedByRef: identity.ID,
		Created:      stamp,
		Modified:     stamp,
		Name:         info,
		Published:    stamp,
		ObjectRefs:   refs,
		Labels:       tagLabels(event),
	})
	return &Bundle{
		Type:        "bundle",
		ID:          "bundle--" + uuid.NewString(),
		SpecVersion: c.bundleVersion(),
		Objects:     objects,
	}, nil
}

func indicatorID(source string) string {
	if source == "" {
		source = uuid.NewString()
	}
	return "indicator--" + source
}

// orgName reads the creating organization name, defaulting when the event
// does not carry one.
func orgName(event *misp.Event) string {
	raw, ok := event.Extra["Orgc"]
	if !ok {
		return "Unknown"
	}
	var org struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &org); err != nil || org.Name == "" {
		return "Unknown"
	}
	return org.Name
}

// LegacyPackage is a STIX 1.x package with namespaced identifiers.
type LegacyPackage struct {
	ID         string            `json:"id"`
	Version    string            `json:"version"`
	Header     LegacyHeader      `json:"stix_header"`
	Indicators []LegacyIndicator `json:"indicators,omitempty"`
}

// LegacyHeader is the 1.x package header.
type LegacyHeader struct {
	Title string `json:"title"`
}

// LegacyIndicator wraps one observable.
type LegacyIndicator struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Observable LegacyObservable `json:"observable"`
}

// LegacyObservable is one 1.x cyber observable.
type LegacyObservable struct {
	ID     string       `json:"id"`
	Object LegacyObject `json:"object"`
}

// LegacyObject carries the typed observable properties.
type LegacyObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// legacyProperties maps MISP attribute types to 1.x observable properties.
func legacyProperties(attType, value string) map[string]any {
	switch attType {
	case "ip-src", "ip-dst":
		return map[string]any{"xsi:type": "AddressObjectType", "address_value": value}
	case "domain", "hostname":
		return map[string]any{"xsi:type": "DomainNameObjectType", "value": value}
	case "url", "uri":
		return map[string]any{"xsi:type": "URIObjectType", "value": value}
	case "md5", "sha1", "sha256":
		return map[string]any{"xsi:type": "FileObjectType", "hashes": []any{
			map[string]any{"type": strings.ToUpper(attType), "simple_hash_value": value},
		}}
	case "filename":
		return map[string]any{"xsi:type": "FileObjectType", "file_name": value}
	default:
		return map[string]any{"xsi:type": "CustomObjectType", "custom_name": attType, "description": value}
	}
}

// LegacyPackageFromEvent converts the event into a 1.x package under the
// given organization namespace. The event must carry a UUID and an info
// field.
func LegacyPackageFromEvent(event *misp.Event, orgname, version string) (*LegacyPackage, error) {
	info, err := requiredField(event.Extra, "info")
	if err != nil {
		return nil, err
	}
	if event.UUID == "" {
		return nil, fmt.Errorf("missing required field %q", "uuid")
	}

	indicators := make([]LegacyIndicator, 0, len(event.Attributes))
	appendIndicator := func(id, attType, value string) {
		if id == "" {
			id = uuid.NewString()
		}
		indicators = append(indicators, LegacyIndicator{
			ID:    fmt.Sprintf("%s:Indicator-%s", orgname, id),
			Title: attType,
			Observable: LegacyObservable{
				ID: fmt.Sprintf("%s:Observable-%s", orgname, uuid.NewString()),
				Object: LegacyObject{
					ID:         fmt.Sprintf("%s:Object-%s", orgname, uuid.NewString()),
					Properties: legacyProperties(attType, value),
				},
			},
		})
	}
	for i := range event.Attributes {
		att := &event.Attributes[i]
		appendIndicator(att.UUID, attributeType(att), string(att.Value))
	}
	for i := range event.Objects {
		obj := &event.Objects[i]
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			appendIndicator(att.UUID, attributeType(att), string(att.Value))
		}
	}

	return &LegacyPackage{
		ID:         fmt.Sprintf("%s:Package-%s", orgname, event.UUID),
		Version:    version,
		Header:     LegacyHeader{Title: info},
		Indicators: indicators,
	}, nil
}
