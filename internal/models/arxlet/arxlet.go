// Package arxlet holds the wire models of the ARXlet statistical disclosure
// control service.
package arxlet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/tego/internal/models"
)

// Version of the ARXlet wire protocol this package speaks.
const Version = "0.2"

// PET schemes handled by ARXlet.
const (
	SchemeKAnonymity          = "k-anonymity"
	SchemeKMap                = "k-map"
	SchemeDistinctLDiversity  = "l-diversity/distinct"
	SchemeEntropyLDiversity   = "l-diversity/entropy"
	SchemeRecursiveLDiversity = "l-diversity/recursive"
	SchemeHierarchicalTClo    = "t-closeness/hierarchical"
	SchemeOrderedTClo         = "t-closeness/ordered"
)

// KAnonMetadata parameterizes k-anonymity.
type KAnonMetadata struct {
	K int `json:"k"`
}

// KMapMetadata parameterizes k-map with its population context.
type KMapMetadata struct {
	K       int            `json:"k"`
	Context [][]ObjectData `json:"context"`
}

// LDivMetadata parameterizes distinct and entropy l-diversity.
type LDivMetadata struct {
	Attribute string `json:"attribute"`
	L         int    `json:"l"`
}

// CLDivMetadata parameterizes recursive (c,l)-diversity.
type CLDivMetadata struct {
	Attribute string  `json:"attribute"`
	L         int     `json:"l"`
	C         float64 `json:"c"`
}

// TCloMetadata parameterizes hierarchical and ordered t-closeness.
type TCloMetadata struct {
	Attribute string  `json:"attribute"`
	T         float64 `json:"t"`
}

// Attribute is one quasi-identifying value, both in requests and responses.
type Attribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// UnmarshalJSON rejects responses missing schema fields.
func (a *Attribute) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "type", "value"); err != nil {
		return fmt.Errorf("arxlet attribute: %w", err)
	}
	type alias Attribute
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*a = Attribute(dec)
	return nil
}

// Object is one anonymized record in an object response.
type Object struct {
	Type   string      `json:"type"`
	Values []Attribute `json:"values"`
}

// UnmarshalJSON rejects responses missing schema fields.
func (o *Object) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "type", "values"); err != nil {
		return fmt.Errorf("arxlet object: %w", err)
	}
	type alias Object
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*o = Object(dec)
	return nil
}

// Pet binds an ARXlet scheme to its metadata variant. Metadata holds one of
// the *Metadata types above.
type Pet struct {
	Scheme   string `json:"scheme"`
	Metadata any    `json:"metadata"`
}

// Hierarchy is the generalization ladder of one attribute type.
type Hierarchy struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// AttributeData is one value to anonymize along with its ladder.
type AttributeData struct {
	Value       string   `json:"value"`
	Hierarchies []string `json:"hierarchies"`
}

// ObjectData is one record to anonymize along with per-attribute ladders.
type ObjectData struct {
	Values      []Attribute `json:"values"`
	Hierarchies []Hierarchy `json:"hierarchies"`
}

// AttributeRequest is the payload of the standalone-attribute endpoint.
type AttributeRequest struct {
	Data []AttributeData `json:"data"`
	Pets []Pet           `json:"pets"`
}

// ObjectRequest is the payload of the object endpoint.
type ObjectRequest struct {
	Data []ObjectData `json:"data"`
	Pets []Pet        `json:"pets"`
}

// PetFromScheme builds the ARXlet Pet for a policy scheme string. Scheme
// matching is by containment, so decorated scheme names still resolve. The
// l-diversity and t-closeness families need the sensitive attribute name,
// k-map needs the population context.
func PetFromScheme(scheme string, metadata models.PetMetadata, sensitive *string, context [][]ObjectData) (Pet, error) {
	requireSensitive := func() (string, error) {
		if sensitive == nil {
			return "", fmt.Errorf("scheme %q needs a sensitive attribute", scheme)
		}
		return *sensitive, nil
	}

	switch {
	case strings.Contains(scheme, SchemeKAnonymity):
		return Pet{Scheme: SchemeKAnonymity, Metadata: KAnonMetadata{K: metadata.K}}, nil
	case strings.Contains(scheme, SchemeDistinctLDiversity):
		attribute, err := requireSensitive()
		if err != nil {
			return Pet{}, err
		}
		return Pet{Scheme: SchemeDistinctLDiversity, Metadata: LDivMetadata{Attribute: attribute, L: metadata.L}}, nil
	case strings.Contains(scheme, SchemeEntropyLDiversity):
		attribute, err := requireSensitive()
		if err != nil {
			return Pet{}, err
		}
		return Pet{Scheme: SchemeEntropyLDiversity, Metadata: LDivMetadata{Attribute: attribute, L: metadata.L}}, nil
	case strings.Contains(scheme, SchemeRecursiveLDiversity):
		attribute, err := requireSensitive()
		if err != nil {
			return Pet{}, err
		}
		return Pet{Scheme: SchemeRecursiveLDiversity, Metadata: CLDivMetadata{Attribute: attribute, L: metadata.L, C: metadata.C}}, nil
	case strings.Contains(scheme, SchemeHierarchicalTClo):
		attribute, err := requireSensitive()
		if err != nil {
			return Pet{}, err
		}
		return Pet{Scheme: SchemeHierarchicalTClo, Metadata: TCloMetadata{Attribute: attribute, T: metadata.T}}, nil
	case strings.Contains(scheme, SchemeOrderedTClo):
		attribute, err := requireSensitive()
		if err != nil {
			return Pet{}, err
		}
		return Pet{Scheme: SchemeOrderedTClo, Metadata: TCloMetadata{Attribute: attribute, T: metadata.T}}, nil
	case strings.Contains(scheme, SchemeKMap):
		if context == nil {
			return Pet{}, fmt.Errorf("scheme %q needs a population context", scheme)
		}
		return Pet{Scheme: SchemeKMap, Metadata: KMapMetadata{K: metadata.K, Context: context}}, nil
	default:
		return Pet{}, fmt.Errorf("unknown scheme %q", scheme)
	}
}

