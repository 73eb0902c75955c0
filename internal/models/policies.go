package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Hierarchy kinds accepted in a HierarchyAttribute.
const (
	HierarchyKindInterval = "interval"
	HierarchyKindRegex    = "regex"
	HierarchyKindStatic   = "static"
)

// DpPolicyMetadata carries the numeric parameters of a differential-privacy
// mechanism.
type DpPolicyMetadata struct {
	Epsilon     float64 `json:"epsilon"`
	Delta       float64 `json:"delta"`
	Sensitivity float64 `json:"sensitivity"`
	HighBounds  float64 `json:"upper"`
	LowBounds   float64 `json:"lower"`
}

// UnmarshalJSON enforces schema presence of every metadata parameter.
func (m *DpPolicyMetadata) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "epsilon", "delta", "sensitivity", "upper", "lower"); err != nil {
		return fmt.Errorf("dp policy metadata: %w", err)
	}
	type alias DpPolicyMetadata
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*m = DpPolicyMetadata(a)
	return nil
}

// DpAttributePolicy is the DP policy attached to a single attribute type.
type DpAttributePolicy struct {
	Scheme   string           `json:"scheme" validate:"required"`
	Metadata DpPolicyMetadata `json:"metadata"`
}

// UnmarshalJSON enforces presence of scheme and metadata.
func (p *DpAttributePolicy) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "scheme", "metadata"); err != nil {
		return fmt.Errorf("dp policy: %w", err)
	}
	type alias DpAttributePolicy
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = DpAttributePolicy(a)
	return nil
}

// DpObjectPolicy is the DP policy attached to an object template. It names
// the member attributes it applies to, or applies to all of them.
type DpObjectPolicy struct {
	Scheme         string           `json:"scheme" validate:"required"`
	Metadata       DpPolicyMetadata `json:"metadata"`
	AttributeNames []string         `json:"attribute-names"`
	ApplyToAll     bool             `json:"apply-to-all"`
}

// UnmarshalJSON enforces presence of the object-level fields.
func (p *DpObjectPolicy) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "scheme", "metadata", "attribute-names", "apply-to-all"); err != nil {
		return fmt.Errorf("dp object policy: %w", err)
	}
	type alias DpObjectPolicy
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = DpObjectPolicy(a)
	return nil
}

// PetMetadata carries the optional parameters of a privacy-enhancing
// technique. Absent parameters decode to zero.
type PetMetadata struct {
	L     int     `json:"l"`
	C     float64 `json:"c"`
	K     int     `json:"k"`
	T     float64 `json:"t"`
	Level int     `json:"level"`
}

// Pet binds a PET scheme identifier to its parameters.
type Pet struct {
	Scheme   string      `json:"scheme" validate:"required"`
	Metadata PetMetadata `json:"metadata"`
}

// UnmarshalJSON enforces presence of scheme and metadata.
func (p *Pet) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "scheme", "metadata"); err != nil {
		return fmt.Errorf("pet: %w", err)
	}
	type alias Pet
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = Pet(a)
	return nil
}

// AttributePolicyWithoutDp is the per-attribute policy shape used inside
// object templates, where DP is configured at the template level.
type AttributePolicyWithoutDp struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required"`
	Pets []Pet  `json:"pets" validate:"dive"`
}

// UnmarshalJSON enforces presence of the attribute policy fields.
func (p *AttributePolicyWithoutDp) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "name", "type", "pets"); err != nil {
		return fmt.Errorf("attribute policy: %w", err)
	}
	type alias AttributePolicyWithoutDp
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = AttributePolicyWithoutDp(a)
	return nil
}

// AttributePolicy is the top-level per-attribute policy, optionally carrying
// a DP policy of its own.
type AttributePolicy struct {
	Name     string             `json:"name" validate:"required"`
	Type     string             `json:"type" validate:"required"`
	Pets     []Pet              `json:"pets" validate:"dive"`
	Dp       bool               `json:"dp"`
	DpPolicy *DpAttributePolicy `json:"dp-policy,omitempty"`
}

// UnmarshalJSON enforces presence of the attribute policy fields. The DP
// policy itself stays optional.
func (p *AttributePolicy) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "name", "type", "pets", "dp"); err != nil {
		return fmt.Errorf("attribute policy: %w", err)
	}
	type alias AttributePolicy
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = AttributePolicy(a)
	return nil
}

// Template binds an object template name to member attribute policies and
// template-level PET flags.
type Template struct {
	Attributes []AttributePolicyWithoutDp `json:"attributes" validate:"dive"`
	Name       string                     `json:"name" validate:"required"`
	UUID       string                     `json:"uuid,omitempty"`
	KAnonymity bool                       `json:"k-anonymity"`
	KMap       bool                       `json:"k-map"`
	K          int                        `json:"k"`
	Dp         bool                       `json:"dp"`
	DpPolicy   *DpObjectPolicy            `json:"dp-policy,omitempty"`
}

// UnmarshalJSON enforces presence of the template fields and assigns a fresh
// UUID when the template does not carry one.
func (t *Template) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "attributes", "name", "k-anonymity", "k-map", "k", "dp"); err != nil {
		return fmt.Errorf("template: %w", err)
	}
	type alias Template
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	*t = Template(a)
	return nil
}

// PrivacyPolicy is the inbound policy binding attribute types and object
// templates to PETs. Attribute and template sections are each optional.
type PrivacyPolicy struct {
	Attributes   []AttributePolicy `json:"attributes,omitempty" validate:"dive"`
	Creator      string            `json:"creator" validate:"required"`
	UUID         string            `json:"uuid,omitempty"`
	Organization string            `json:"organization" validate:"required"`
	Templates    []Template        `json:"templates,omitempty" validate:"dive"`
	Version      string            `json:"version" validate:"required"`
}

// UnmarshalJSON enforces presence of the provenance fields and assigns a
// fresh UUID when the policy does not carry one.
func (p *PrivacyPolicy) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "creator", "organization", "version"); err != nil {
		return fmt.Errorf("privacy policy: %w", err)
	}
	type alias PrivacyPolicy
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	*p = PrivacyPolicy(a)
	return nil
}

// Validate checks the decoded policy against its schema constraints.
func (p *PrivacyPolicy) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}

// AttributeGeneralization is one rung description in a hierarchy. Only the
// list matching the owning attribute's kind is consulted.
type AttributeGeneralization struct {
	Generalization []string `json:"generalization"`
	Interval       []string `json:"interval"`
	Regex          []string `json:"regex"`
}

// UnmarshalJSON enforces presence of all three kind lists.
func (g *AttributeGeneralization) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "generalization", "interval", "regex"); err != nil {
		return fmt.Errorf("attribute generalization: %w", err)
	}
	type alias AttributeGeneralization
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*g = AttributeGeneralization(a)
	return nil
}

// HierarchyAttribute associates an attribute name with a generalization
// ladder of a given kind.
type HierarchyAttribute struct {
	AttributeName           string                    `json:"attribute-name" validate:"required"`
	AttributeType           string                    `json:"attribute-type" validate:"required"`
	AttributeGeneralization []AttributeGeneralization `json:"attribute-generalization"`
}

// UnmarshalJSON enforces presence of the hierarchy attribute fields.
func (h *HierarchyAttribute) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "attribute-name", "attribute-type", "attribute-generalization"); err != nil {
		return fmt.Errorf("hierarchy attribute: %w", err)
	}
	type alias HierarchyAttribute
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*h = HierarchyAttribute(a)
	return nil
}

// Resolve produces the generalization ladder for a concrete value: the value
// itself followed by one entry per coarser level.
//
// Interval hierarchies contribute one bucket label per generalization,
// selected by bisecting the label right-endpoints. Regex hierarchies apply
// each pattern of the single generalization to the original value. Static
// hierarchies return the enumerated ladder whose head equals the value.
func (h *HierarchyAttribute) Resolve(value string) ([]string, error) {
	ladder := make([]string, 0)
	switch h.AttributeType {
	case HierarchyKindInterval:
		ladder = append(ladder, value)
		for _, generalization := range h.AttributeGeneralization {
			intervals := generalization.Interval
			if len(intervals) < 2 {
				return nil, fmt.Errorf("interval generalization for %q needs at least two labels", h.AttributeName)
			}
			// Labels arrive ordered as [<=a, a-b, ..., >z], so the bucket
			// for a value falls out of bisecting the right endpoints of
			// the first n-1 labels.
			endpoints := make([]string, 0, len(intervals))
			for _, label := range intervals {
				endpoint := strings.Trim(label, "<=>")
				if parts := strings.Split(endpoint, "-"); len(parts) > 1 {
					endpoint = parts[1]
				}
				endpoints = append(endpoints, endpoint)
			}
			position := sort.SearchStrings(endpoints[:len(endpoints)-1], value)
			ladder = append(ladder, intervals[position])
		}
	case HierarchyKindRegex:
		ladder = append(ladder, value)
		if len(h.AttributeGeneralization) == 0 {
			return nil, fmt.Errorf("regex generalization for %q is empty", h.AttributeName)
		}
		// Each consecutive pattern is a further level of anonymization
		// applied to the original value.
		for _, pattern := range h.AttributeGeneralization[0].Regex {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid generalization pattern %q for %q: %w", pattern, h.AttributeName, err)
			}
			ladder = append(ladder, re.ReplaceAllString(value, "*"))
		}
	case HierarchyKindStatic:
		// One enumerated ladder per starting value; use the one whose
		// head matches.
		for _, generalization := range h.AttributeGeneralization {
			enumerated := generalization.Generalization
			if len(enumerated) > 0 && enumerated[0] == value {
				ladder = append(ladder, enumerated...)
				break
			}
		}
	}
	return ladder, nil
}

// HierarchyObject groups the attribute hierarchies of one object template.
type HierarchyObject struct {
	MispObjectTemplate   string               `json:"misp-object-template" validate:"required"`
	AttributeHierarchies []HierarchyAttribute `json:"attribute-hierarchies" validate:"dive"`
}

// UnmarshalJSON enforces presence of the hierarchy object fields.
func (h *HierarchyObject) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "misp-object-template", "attribute-hierarchies"); err != nil {
		return fmt.Errorf("hierarchy object: %w", err)
	}
	type alias HierarchyObject
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*h = HierarchyObject(a)
	return nil
}

// HierarchyPolicy is the inbound policy associating attribute types with
// generalization ladders, both standalone and grouped under object
// templates.
type HierarchyPolicy struct {
	HierarchyDescription string               `json:"hierarchy-description,omitempty"`
	UUID                 string               `json:"uuid,omitempty"`
	Organization         string               `json:"organization" validate:"required"`
	Version              string               `json:"version" validate:"required"`
	Creator              string               `json:"creator" validate:"required"`
	HierarchyObjects     []HierarchyObject    `json:"hierarchy_objects" validate:"dive"`
	HierarchyAttributes  []HierarchyAttribute `json:"hierarchy_attributes" validate:"dive"`
}

// UnmarshalJSON enforces presence of the hierarchy policy fields and assigns
// a fresh UUID when the policy does not carry one.
func (p *HierarchyPolicy) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, "organization", "version", "creator",
		"hierarchy_objects", "hierarchy_attributes"); err != nil {
		return fmt.Errorf("hierarchy policy: %w", err)
	}
	type alias HierarchyPolicy
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	*p = HierarchyPolicy(a)
	return nil
}

// Validate checks the decoded policy against its schema constraints.
func (p *HierarchyPolicy) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}
