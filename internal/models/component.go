package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Default type tags assigned to components created without an explicit type set.
const (
	DefaultAttributeType = "attribute"
	DefaultObjectType    = "object"
)

// Well-known type tags used by anonymizing jobs to select candidate components.
const (
	TypeAnonymizable          = "anonymizable"
	TypeAnonymizableByARXlet  = "arxlet:anonymizable"
	TypeAnonymizableByFlaskDP = "flaskdp:anonymizable"
	TypeAnonymizableByLocal   = "local:anonymizable"
)

// Serialization discriminator field and its values. Every serialized component
// carries this field so that mixed Attribute/Object sequences can be decoded.
const (
	fieldModelType = "#modeltype"
	modelTypeAtt   = "attribute"
	modelTypeObj   = "object"
	modelTypeReq   = "request"
)

// TypeSet is an unordered set of type tags. It serializes as a sorted list so
// that two sets with the same members always produce identical JSON.
type TypeSet map[string]struct{}

// NewTypeSet builds a TypeSet from the given tags.
func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the given tag.
func (s TypeSet) Has(t string) bool {
	_, ok := s[t]
	return ok
}

// HasAll reports whether the set contains every given tag.
func (s TypeSet) HasAll(types ...string) bool {
	for _, t := range types {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// HasAny reports whether the set contains at least one of the given tags.
func (s TypeSet) HasAny(types ...string) bool {
	for _, t := range types {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Add inserts the given tags into the set.
func (s TypeSet) Add(types ...string) {
	for _, t := range types {
		s[t] = struct{}{}
	}
}

// Remove deletes the given tags from the set.
func (s TypeSet) Remove(types ...string) {
	for _, t := range types {
		delete(s, t)
	}
}

// Sorted returns the members as a sorted slice.
func (s TypeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s TypeSet) Clone() TypeSet {
	out := make(TypeSet, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// Union returns a new set containing members of both sets.
func (s TypeSet) Union(other TypeSet) TypeSet {
	out := s.Clone()
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Intersect returns a new set containing members present in both sets.
func (s TypeSet) Intersect(other TypeSet) TypeSet {
	out := make(TypeSet)
	for t := range s {
		if other.Has(t) {
			out[t] = struct{}{}
		}
	}
	return out
}

// MarshalJSON serializes the set as a sorted JSON list.
func (s TypeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON deserializes the set from a JSON list.
func (s *TypeSet) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*s = NewTypeSet(list...)
	return nil
}

// Component is the polymorphic choice between Attribute and Object. Jobs use
// the type predicates to select components and MergeTypes/RemoveTypes to
// retag them.
type Component interface {
	GetName() string
	GetTypes() TypeSet
	TypeIs(types ...string) bool
	MergeTypes(types ...string)
	RemoveTypes(types ...string)
}

// Attribute is a leaf value. The transformer creates it, anonymizing jobs
// mutate Value in place.
type Attribute struct {
	Name  string
	Type  TypeSet
	Value string
}

// NewAttribute creates an Attribute. When no type tags are given the default
// "attribute" tag is assigned.
func NewAttribute(name, value string, types ...string) *Attribute {
	ts := NewTypeSet(types...)
	if len(ts) == 0 {
		ts = NewTypeSet(DefaultAttributeType)
	}
	return &Attribute{Name: name, Type: ts, Value: value}
}

// GetName returns the attribute name.
func (a *Attribute) GetName() string { return a.Name }

// GetTypes returns the attribute type set.
func (a *Attribute) GetTypes() TypeSet { return a.Type }

// TypeIs reports whether the attribute carries all given type tags.
func (a *Attribute) TypeIs(types ...string) bool { return a.Type.HasAll(types...) }

// MergeTypes adds the given type tags.
func (a *Attribute) MergeTypes(types ...string) { a.Type.Add(types...) }

// RemoveTypes removes the given type tags.
func (a *Attribute) RemoveTypes(types ...string) { a.Type.Remove(types...) }

type attributeJSON struct {
	ModelType string  `json:"#modeltype"`
	Name      string  `json:"name"`
	Type      TypeSet `json:"type"`
	Value     string  `json:"value"`
}

// MarshalJSON serializes the attribute with its discriminator field. Keys are
// emitted in sorted order so the output feeds directly into content hashing.
func (a *Attribute) MarshalJSON() ([]byte, error) {
	return json.Marshal(attributeJSON{
		ModelType: modelTypeAtt,
		Name:      a.Name,
		Type:      a.Type,
		Value:     a.Value,
	})
}

// UnmarshalJSON deserializes an attribute, verifying the discriminator.
func (a *Attribute) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, fieldModelType, "name", "type", "value"); err != nil {
		return fmt.Errorf("attribute: %w", err)
	}
	var decoded attributeJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.ModelType != modelTypeAtt {
		return fmt.Errorf("not an attribute: model type %q", decoded.ModelType)
	}
	a.Name = decoded.Name
	a.Type = decoded.Type
	a.Value = decoded.Value
	return nil
}

// Object is a named container of components. Objects may nest.
type Object struct {
	Name  string
	Type  TypeSet
	Value []Component
}

// NewObject creates an Object. When no type tags are given the default
// "object" tag is assigned.
func NewObject(name string, value []Component, types ...string) *Object {
	ts := NewTypeSet(types...)
	if len(ts) == 0 {
		ts = NewTypeSet(DefaultObjectType)
	}
	return &Object{Name: name, Type: ts, Value: value}
}

// GetName returns the object name.
func (o *Object) GetName() string { return o.Name }

// GetTypes returns the object type set.
func (o *Object) GetTypes() TypeSet { return o.Type }

// TypeIs reports whether the object carries all given type tags.
func (o *Object) TypeIs(types ...string) bool { return o.Type.HasAll(types...) }

// MergeTypes adds the given type tags.
func (o *Object) MergeTypes(types ...string) { o.Type.Add(types...) }

// RemoveTypes removes the given type tags.
func (o *Object) RemoveTypes(types ...string) { o.Type.Remove(types...) }

// TypesOne returns the union of the child type sets.
func (o *Object) TypesOne() TypeSet { return typesOne(o.Value) }

// TypesAll returns the intersection of the child type sets.
func (o *Object) TypesAll() TypeSet { return typesAll(o.Value) }

// TypesCount returns per-type counts across children.
func (o *Object) TypesCount() map[string]int { return typesCount(o.Value) }

// TypesGet returns children carrying all given types.
func (o *Object) TypesGet(types ...string) []Component { return typesGet(o.Value, types...) }

// TypesSearch returns children carrying at least one of the given types.
func (o *Object) TypesSearch(types ...string) []Component { return typesSearch(o.Value, types...) }

// TypesRemove returns children carrying none of the given types.
func (o *Object) TypesRemove(types ...string) []Component { return typesRemove(o.Value, types...) }

// TypesPrune returns children missing at least one of the given types.
func (o *Object) TypesPrune(types ...string) []Component { return typesPrune(o.Value, types...) }

type objectJSON struct {
	ModelType string            `json:"#modeltype"`
	Name      string            `json:"name"`
	Type      TypeSet           `json:"type"`
	Value     []json.RawMessage `json:"value"`
}

// MarshalJSON serializes the object and its children with discriminators.
func (o *Object) MarshalJSON() ([]byte, error) {
	value := make([]json.RawMessage, 0, len(o.Value))
	for _, c := range o.Value {
		b, err := marshalComponent(c)
		if err != nil {
			return nil, err
		}
		value = append(value, b)
	}
	return json.Marshal(objectJSON{
		ModelType: modelTypeObj,
		Name:      o.Name,
		Type:      o.Type,
		Value:     value,
	})
}

// UnmarshalJSON deserializes an object, decoding children through their
// discriminator fields.
func (o *Object) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, fieldModelType, "name", "type", "value"); err != nil {
		return fmt.Errorf("object: %w", err)
	}
	var decoded objectJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.ModelType != modelTypeObj {
		return fmt.Errorf("not an object: model type %q", decoded.ModelType)
	}
	value := make([]Component, 0, len(decoded.Value))
	for _, rawChild := range decoded.Value {
		child, err := DecodeComponent(rawChild)
		if err != nil {
			return err
		}
		value = append(value, child)
	}
	o.Name = decoded.Name
	o.Type = decoded.Type
	o.Value = value
	return nil
}

// Request is the top-level container handed to the pipeline. Its content hash
// is the context store's primary key.
type Request struct {
	Type TypeSet
	Data []Component
}

// NewRequest creates a Request. Requests have no default type tag.
func NewRequest(data []Component, types ...string) *Request {
	return &Request{Type: NewTypeSet(types...), Data: data}
}

// TypeIs reports whether the request carries all given type tags.
func (r *Request) TypeIs(types ...string) bool { return r.Type.HasAll(types...) }

// MergeTypes adds the given type tags.
func (r *Request) MergeTypes(types ...string) { r.Type.Add(types...) }

// RemoveTypes removes the given type tags.
func (r *Request) RemoveTypes(types ...string) { r.Type.Remove(types...) }

// TypesOne returns the union of the component type sets.
func (r *Request) TypesOne() TypeSet { return typesOne(r.Data) }

// TypesAll returns the intersection of the component type sets.
func (r *Request) TypesAll() TypeSet { return typesAll(r.Data) }

// TypesCount returns per-type counts across components.
func (r *Request) TypesCount() map[string]int { return typesCount(r.Data) }

// TypesGet returns components carrying all given types.
func (r *Request) TypesGet(types ...string) []Component { return typesGet(r.Data, types...) }

// TypesSearch returns components carrying at least one of the given types.
func (r *Request) TypesSearch(types ...string) []Component { return typesSearch(r.Data, types...) }

// TypesRemove returns components carrying none of the given types.
func (r *Request) TypesRemove(types ...string) []Component { return typesRemove(r.Data, types...) }

// TypesPrune returns components missing at least one of the given types.
func (r *Request) TypesPrune(types ...string) []Component { return typesPrune(r.Data, types...) }

// AllObjects reports whether every component is an Object.
func (r *Request) AllObjects() bool {
	for _, c := range r.Data {
		if _, ok := c.(*Object); !ok {
			return false
		}
	}
	return true
}

// AllAttributes reports whether every component is an Attribute.
func (r *Request) AllAttributes() bool {
	for _, c := range r.Data {
		if _, ok := c.(*Attribute); !ok {
			return false
		}
	}
	return true
}

type requestJSON struct {
	ModelType string            `json:"#modeltype"`
	Data      []json.RawMessage `json:"data"`
	Type      TypeSet           `json:"type"`
}

// MarshalJSON serializes the request. Keys are emitted in sorted order so the
// bytes double as the canonical form for hashing.
func (r *Request) MarshalJSON() ([]byte, error) {
	data := make([]json.RawMessage, 0, len(r.Data))
	for _, c := range r.Data {
		b, err := marshalComponent(c)
		if err != nil {
			return nil, err
		}
		data = append(data, b)
	}
	return json.Marshal(requestJSON{
		ModelType: modelTypeReq,
		Data:      data,
		Type:      r.Type,
	})
}

// UnmarshalJSON deserializes a request, verifying the discriminator.
func (r *Request) UnmarshalJSON(b []byte) error {
	if err := RequireFields(b, fieldModelType, "type", "data"); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	var decoded requestJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	if decoded.ModelType != modelTypeReq {
		return fmt.Errorf("not a request: model type %q", decoded.ModelType)
	}
	data := make([]Component, 0, len(decoded.Data))
	for _, rawChild := range decoded.Data {
		child, err := DecodeComponent(rawChild)
		if err != nil {
			return err
		}
		data = append(data, child)
	}
	r.Type = decoded.Type
	r.Data = data
	return nil
}

// Hash returns the canonical content hash of the request: the SHA-256 of its
// serialized form. Type sets serialize sorted and keys are ordered, so the
// hash depends only on content.
func (r *Request) Hash() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeComponent decodes a serialized component through its discriminator
// field.
func DecodeComponent(raw json.RawMessage) (Component, error) {
	var head struct {
		ModelType string `json:"#modeltype"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.ModelType {
	case modelTypeAtt:
		att := &Attribute{}
		if err := json.Unmarshal(raw, att); err != nil {
			return nil, err
		}
		return att, nil
	case modelTypeObj:
		obj := &Object{}
		if err := json.Unmarshal(raw, obj); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("not an object or attribute: model type %q", head.ModelType)
	}
}

// RequireFields checks that the serialized map carries every listed key.
// Values are not inspected, only presence. Wire model packages share it to
// reject payloads with missing schema fields.
func RequireFields(b []byte, fields ...string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, field := range fields {
		if _, ok := raw[field]; !ok {
			return fmt.Errorf("missing field %q", field)
		}
	}
	return nil
}

func marshalComponent(c Component) ([]byte, error) {
	switch v := c.(type) {
	case *Attribute, *Object:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("not an object or attribute: %T", c)
	}
}

func typesOne(data []Component) TypeSet {
	out := NewTypeSet()
	for _, c := range data {
		out = out.Union(c.GetTypes())
	}
	return out
}

func typesAll(data []Component) TypeSet {
	if len(data) == 0 {
		return NewTypeSet()
	}
	out := data[0].GetTypes().Clone()
	for _, c := range data[1:] {
		out = out.Intersect(c.GetTypes())
	}
	return out
}

func typesCount(data []Component) map[string]int {
	out := make(map[string]int)
	for _, c := range data {
		for t := range c.GetTypes() {
			out[t]++
		}
	}
	return out
}

func typesGet(data []Component, types ...string) []Component {
	out := make([]Component, 0)
	for _, c := range data {
		if c.TypeIs(types...) {
			out = append(out, c)
		}
	}
	return out
}

func typesSearch(data []Component, types ...string) []Component {
	out := make([]Component, 0)
	for _, c := range data {
		if c.GetTypes().HasAny(types...) {
			out = append(out, c)
		}
	}
	return out
}

func typesRemove(data []Component, types ...string) []Component {
	out := make([]Component, 0)
	for _, c := range data {
		if !c.GetTypes().HasAny(types...) {
			out = append(out, c)
		}
	}
	return out
}

func typesPrune(data []Component, types ...string) []Component {
	out := make([]Component, 0)
	for _, c := range data {
		if !c.TypeIs(types...) {
			out = append(out, c)
		}
	}
	return out
}
