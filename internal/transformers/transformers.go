// Package transformers converts external payload shapes to and from the
// internal Request data model. The anonymizer endpoint selects a transformer
// by the Transformer-Type request header before validating the body.
package transformers

import (
	"fmt"

	"github.com/ternarybob/tego/internal/interfaces"
)

// Registered transformer names. Names follow the <group>.<type> form of
// pipeline job types; transformers without a group sit at the top level.
const (
	NameNone = "NoTransformer"
	NameMisp = "misp.MispTransformer"
)

var registry = map[string]func() interfaces.Transformer{
	NameNone: func() interfaces.Transformer { return &NoTransformer{} },
	NameMisp: func() interfaces.Transformer { return &MispTransformer{} },
}

// FromString resolves a transformer by name.
func FromString(name string) (interfaces.Transformer, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
	return factory(), nil
}
