package arxlet

import (
	"encoding/json"
	"testing"

	"github.com/ternarybob/tego/internal/models"
)

func TestPetFromScheme(t *testing.T) {
	sensitive := "disease"
	context := [][]ObjectData{{{Values: []Attribute{{Type: "age", Value: "34"}}}}}

	tests := []struct {
		name         string
		scheme       string
		metadata     models.PetMetadata
		sensitive    *string
		context      [][]ObjectData
		wantScheme   string
		wantMetadata any
		expectErr    bool
	}{
		{
			name:         "k-anonymity",
			scheme:       SchemeKAnonymity,
			metadata:     models.PetMetadata{K: 5},
			wantScheme:   SchemeKAnonymity,
			wantMetadata: KAnonMetadata{K: 5},
		},
		{
			name:         "decorated scheme resolves by containment",
			scheme:       "my-k-anonymity-variant",
			metadata:     models.PetMetadata{K: 2},
			wantScheme:   SchemeKAnonymity,
			wantMetadata: KAnonMetadata{K: 2},
		},
		{
			name:         "distinct l-diversity",
			scheme:       SchemeDistinctLDiversity,
			metadata:     models.PetMetadata{L: 3},
			sensitive:    &sensitive,
			wantScheme:   SchemeDistinctLDiversity,
			wantMetadata: LDivMetadata{Attribute: "disease", L: 3},
		},
		{
			name:      "l-diversity without sensitive attribute",
			scheme:    SchemeEntropyLDiversity,
			metadata:  models.PetMetadata{L: 3},
			expectErr: true,
		},
		{
			name:         "recursive l-diversity carries c",
			scheme:       SchemeRecursiveLDiversity,
			metadata:     models.PetMetadata{L: 3, C: 0.5},
			sensitive:    &sensitive,
			wantScheme:   SchemeRecursiveLDiversity,
			wantMetadata: CLDivMetadata{Attribute: "disease", L: 3, C: 0.5},
		},
		{
			name:         "ordered t-closeness",
			scheme:       SchemeOrderedTClo,
			metadata:     models.PetMetadata{T: 0.2},
			sensitive:    &sensitive,
			wantScheme:   SchemeOrderedTClo,
			wantMetadata: TCloMetadata{Attribute: "disease", T: 0.2},
		},
		{
			name:         "k-map with context",
			scheme:       SchemeKMap,
			metadata:     models.PetMetadata{K: 4},
			context:      context,
			wantScheme:   SchemeKMap,
			wantMetadata: KMapMetadata{K: 4, Context: context},
		},
		{
			name:      "k-map without context",
			scheme:    SchemeKMap,
			metadata:  models.PetMetadata{K: 4},
			expectErr: true,
		},
		{
			name:      "unknown scheme",
			scheme:    "rot13",
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pet, err := PetFromScheme(tt.scheme, tt.metadata, tt.sensitive, tt.context)
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("PetFromScheme failed: %v", err)
			}
			if pet.Scheme != tt.wantScheme {
				t.Errorf("scheme: got %q, want %q", pet.Scheme, tt.wantScheme)
			}
			got, _ := json.Marshal(pet.Metadata)
			want, _ := json.Marshal(tt.wantMetadata)
			if string(got) != string(want) {
				t.Errorf("metadata: got %s, want %s", got, want)
			}
		})
	}
}

func TestObjectRequest_Serialization(t *testing.T) {
	request := ObjectRequest{
		Data: []ObjectData{
			{
				Values: []Attribute{{Type: "port", Value: "8443"}},
				Hierarchies: []Hierarchy{
					{Type: "port", Values: []string{"8443", ">1023"}},
				},
			},
		},
		Pets: []Pet{{Scheme: SchemeKAnonymity, Metadata: KAnonMetadata{K: 2}}},
	}

	b, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"data":[{"values":[{"type":"port","value":"8443"}],` +
		`"hierarchies":[{"type":"port","values":["8443",">1023"]}]}],` +
		`"pets":[{"scheme":"k-anonymity","metadata":{"k":2}}]}`
	if string(b) != want {
		t.Errorf("serialized form:\n got %s\nwant %s", b, want)
	}
}

func TestObject_DecodeRequiresFields(t *testing.T) {
	var obj Object
	if err := json.Unmarshal([]byte(`{"type":"ip-port"}`), &obj); err == nil {
		t.Error("expected decode error for missing values")
	}
	if err := json.Unmarshal([]byte(`{"type":"ip-port","values":[]}`), &obj); err != nil {
		t.Errorf("decode failed: %v", err)
	}
}
