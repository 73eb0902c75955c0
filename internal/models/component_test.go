package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func sampleRequest() *Request {
	return NewRequest([]Component{
		NewObject("ip-port", []Component{
			NewAttribute("ip-src", "203.0.113.7", DefaultAttributeType, "ip-src", TypeAnonymizable),
			NewAttribute("port", "8443", DefaultAttributeType, "port"),
		}, DefaultObjectType, "ip-port"),
		NewAttribute("comment", "scanning host", DefaultAttributeType, "comment"),
	}, "misp-event")
}

func TestAttribute_SerializationRoundTrip(t *testing.T) {
	original := NewAttribute("ip-src", "203.0.113.7", "attribute", "ip-src", TypeAnonymizable)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded := &Attribute{}
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestRequest_SerializationRoundTrip(t *testing.T) {
	original := sampleRequest()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded := &Request{}
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestRequest_SerializationSortsTypes(t *testing.T) {
	req := NewRequest([]Component{}, "zulu", "alpha", "mike")

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"#modeltype":"request","data":[],"type":["alpha","mike","zulu"]}`
	if string(data) != want {
		t.Errorf("serialized form: got %s, want %s", data, want)
	}
}

func TestRequest_HashIgnoresTypeOrder(t *testing.T) {
	first := NewRequest([]Component{
		NewAttribute("ip-src", "203.0.113.7", "attribute", "ip-src", TypeAnonymizable),
	}, "misp-event", "incoming")
	second := NewRequest([]Component{
		NewAttribute("ip-src", "203.0.113.7", TypeAnonymizable, "ip-src", "attribute"),
	}, "incoming", "misp-event")

	firstHash, err := first.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	secondHash, err := second.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if firstHash != secondHash {
		t.Errorf("hashes differ for equal content: %s vs %s", firstHash, secondHash)
	}
	if len(firstHash) != 64 {
		t.Errorf("hash length: got %d, want 64", len(firstHash))
	}
}

func TestRequest_HashChangesWithContent(t *testing.T) {
	base := sampleRequest()
	changed := sampleRequest()
	changed.Data[1].(*Attribute).Value = "different comment"

	baseHash, err := base.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	changedHash, err := changed.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if baseHash == changedHash {
		t.Error("hash unchanged after content change")
	}
}

func TestDecodeComponent_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "unknown model type",
			raw:  `{"#modeltype":"request","data":[],"type":[]}`,
		},
		{
			name: "missing model type",
			raw:  `{"name":"x","type":["attribute"],"value":"y"}`,
		},
		{
			name: "attribute missing value",
			raw:  `{"#modeltype":"attribute","name":"x","type":["attribute"]}`,
		},
		{
			name: "object missing name",
			raw:  `{"#modeltype":"object","type":["object"],"value":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeComponent(json.RawMessage(tt.raw)); err == nil {
				t.Error("expected decode error, got nil")
			}
		})
	}
}

func TestComponent_TypePredicates(t *testing.T) {
	att := NewAttribute("ip-src", "203.0.113.7", "attribute", "ip-src")

	if !att.TypeIs("attribute") {
		t.Error("TypeIs single member failed")
	}
	if !att.TypeIs("attribute", "ip-src") {
		t.Error("TypeIs all members failed")
	}
	if att.TypeIs("attribute", "port") {
		t.Error("TypeIs matched a missing member")
	}

	att.MergeTypes(TypeAnonymizable, "ip-src")
	if !att.TypeIs("attribute", "ip-src", TypeAnonymizable) {
		t.Error("MergeTypes did not add members")
	}

	att.RemoveTypes(TypeAnonymizable, "never-present")
	if att.TypeIs(TypeAnonymizable) {
		t.Error("RemoveTypes did not remove a member")
	}
	if !att.TypeIs("attribute", "ip-src") {
		t.Error("RemoveTypes removed unrelated members")
	}
}

func TestComponent_DefaultTypes(t *testing.T) {
	att := NewAttribute("a", "v")
	if !att.TypeIs(DefaultAttributeType) {
		t.Errorf("attribute default type: got %v, want [attribute]", att.Type.Sorted())
	}

	obj := NewObject("o", nil)
	if !obj.TypeIs(DefaultObjectType) {
		t.Errorf("object default type: got %v, want [object]", obj.Type.Sorted())
	}

	req := NewRequest(nil)
	if len(req.Type) != 0 {
		t.Errorf("request default type: got %v, want empty", req.Type.Sorted())
	}
}

func TestRequest_TypeQueries(t *testing.T) {
	a := NewAttribute("a", "1", "attribute", "ip-src", TypeAnonymizable)
	b := NewAttribute("b", "2", "attribute", "port")
	c := NewObject("c", nil, "object", TypeAnonymizable)
	req := NewRequest([]Component{a, b, c})

	t.Run("types one", func(t *testing.T) {
		got := req.TypesOne().Sorted()
		want := []string{TypeAnonymizable, "attribute", "ip-src", "object", "port"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("types all", func(t *testing.T) {
		if got := req.TypesAll().Sorted(); len(got) != 0 {
			t.Errorf("got %v, want empty", got)
		}
		pair := NewRequest([]Component{a, c})
		got := pair.TypesAll().Sorted()
		want := []string{TypeAnonymizable}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("types count", func(t *testing.T) {
		got := req.TypesCount()
		want := map[string]int{
			"attribute":      2,
			"object":         1,
			"ip-src":         1,
			"port":           1,
			TypeAnonymizable: 2,
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("types get requires all", func(t *testing.T) {
		got := req.TypesGet("attribute", TypeAnonymizable)
		if len(got) != 1 || got[0] != Component(a) {
			t.Errorf("got %v, want [a]", got)
		}
	})

	t.Run("types search requires any", func(t *testing.T) {
		got := req.TypesSearch("ip-src", "object")
		if len(got) != 2 || got[0] != Component(a) || got[1] != Component(c) {
			t.Errorf("got %v, want [a c]", got)
		}
	})

	t.Run("types remove keeps components with none", func(t *testing.T) {
		got := req.TypesRemove(TypeAnonymizable)
		if len(got) != 1 || got[0] != Component(b) {
			t.Errorf("got %v, want [b]", got)
		}
	})

	t.Run("types prune keeps components missing one", func(t *testing.T) {
		got := req.TypesPrune("attribute", TypeAnonymizable)
		if len(got) != 2 || got[0] != Component(b) || got[1] != Component(c) {
			t.Errorf("got %v, want [b c]", got)
		}
	})
}

func TestRequest_ComponentKinds(t *testing.T) {
	attrs := NewRequest([]Component{NewAttribute("a", "1"), NewAttribute("b", "2")})
	if !attrs.AllAttributes() {
		t.Error("AllAttributes false for attribute-only request")
	}
	if attrs.AllObjects() {
		t.Error("AllObjects true for attribute-only request")
	}

	mixed := NewRequest([]Component{NewAttribute("a", "1"), NewObject("o", nil)})
	if mixed.AllAttributes() {
		t.Error("AllAttributes true for mixed request")
	}
	if mixed.AllObjects() {
		t.Error("AllObjects true for mixed request")
	}

	empty := NewRequest(nil)
	if !empty.AllAttributes() || !empty.AllObjects() {
		t.Error("empty request should satisfy both kinds")
	}
}
