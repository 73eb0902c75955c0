package transformers

import (
	"testing"

	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/misp"
)

const sampleEventAnon = `{
	"Event": {
		"uuid": "9c2f6a3e-0000-4000-8000-000000000001",
		"date": "2025-06-01",
		"timestamp": "1748736000",
		"threat_level_id": "2",
		"info": "phishing campaign",
		"Attribute": [
			{"uuid": "9c2f6a3e-0000-4000-8000-000000000002", "object_relation": "event_type", "value": "phishing"},
			{"object_relation": "threat-actor", "value": "APT-00"}
		],
		"Object": [
			{
				"name": "ip-port",
				"uuid": "9c2f6a3e-0000-4000-8000-000000000003",
				"timestamp": "1748736000",
				"Attribute": [
					{"uuid": "9c2f6a3e-0000-4000-8000-000000000004", "object_relation": "ip-src", "value": "192.0.2.10"}
				]
			}
		],
		"Tag": [{"id": "7", "name": "tlp:amber"}]
	},
	"Privacy-policy": {
		"creator": "soc",
		"organization": "acme",
		"version": "1.0",
		"attributes": [
			{"name": "ip-src", "type": "ip-src", "pets": [], "dp": false}
		]
	},
	"Hierarchy-policy": {
		"creator": "soc",
		"organization": "acme",
		"version": "1.0",
		"hierarchy_objects": [],
		"hierarchy_attributes": []
	},
	"Audit": {"source": "edge-3"}
}`

func decodeSample(t *testing.T) *misp.EventAnon {
	t.Helper()
	transformer := &MispTransformer{}
	body, err := transformer.DecodeBody([]byte(sampleEventAnon))
	if err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	return body.(*misp.EventAnon)
}

func TestMispTransformer_DecodeBodyRejectsInvalidPayloads(t *testing.T) {
	transformer := &MispTransformer{}
	tests := []struct {
		name string
		raw  string
	}{
		{"not an object", `[1, 2, 3]`},
		{"missing event", `{"Privacy-policy": {}, "Hierarchy-policy": {}}`},
		{"missing privacy policy creator", `{
			"Event": {"threat_level_id": "4"},
			"Privacy-policy": {"organization": "acme", "version": "1.0"},
			"Hierarchy-policy": {"creator": "soc", "organization": "acme", "version": "1.0",
				"hierarchy_objects": [], "hierarchy_attributes": []}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := transformer.DecodeBody([]byte(tt.raw)); err == nil {
				t.Error("DecodeBody accepted an invalid payload")
			}
		})
	}
}

func TestMispTransformer_Transform(t *testing.T) {
	event := decodeSample(t)
	transformer := &MispTransformer{}

	data, err := transformer.Transform(event)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(data.Data) != 3 {
		t.Fatalf("components: got %d, want 3", len(data.Data))
	}

	obj, ok := data.Data[0].(*models.Object)
	if !ok {
		t.Fatalf("first component is %T, want *models.Object", data.Data[0])
	}
	if obj.Name != "ip-port-9c2f6a3e-0000-4000-8000-000000000003" {
		t.Errorf("object name: got %q", obj.Name)
	}
	if !obj.TypeIs(models.DefaultObjectType, models.TypeAnonymizableByARXlet,
		models.TypeAnonymizableByFlaskDP, models.TypeAnonymizableByLocal, "ip-port") {
		t.Errorf("object types incomplete: %v", obj.Type.Sorted())
	}
	if len(obj.Value) != 1 {
		t.Fatalf("object members: got %d, want 1", len(obj.Value))
	}
	member := obj.Value[0].(*models.Attribute)
	if member.Name != "ip-src-9c2f6a3e-0000-4000-8000-000000000004" || member.Value != "192.0.2.10" {
		t.Errorf("member: got %q=%q", member.Name, member.Value)
	}

	// The attribute supplied without a UUID gets one assigned so its
	// derived name stays stable for the later update.
	actor := &event.Event.Attributes[1]
	if actor.UUID == "" {
		t.Fatal("transform should assign missing attribute UUIDs")
	}
	lifted := data.Data[2].(*models.Attribute)
	if lifted.Name != "threat-actor-"+actor.UUID {
		t.Errorf("lifted attribute name: got %q", lifted.Name)
	}
	if !lifted.TypeIs("threat-actor", models.TypeAnonymizableByLocal) {
		t.Errorf("lifted attribute types incomplete: %v", lifted.Type.Sorted())
	}
}

func TestMispTransformer_UpdateWritesBackChangedValues(t *testing.T) {
	event := decodeSample(t)
	transformer := &MispTransformer{}
	data, err := transformer.Transform(event)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	obj := data.Data[0].(*models.Object)
	obj.Value[0].(*models.Attribute).Value = "192.0.2.*"

	updated, err := transformer.Update(event, data)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated {
		t.Error("Update should report a change")
	}
	if got := string(event.Event.Objects[0].Attributes[0].Value); got != "192.0.2.*" {
		t.Errorf("event value: got %q, want the anonymized one", got)
	}

	// A second pass with identical values reports no change.
	updated, err = transformer.Update(event, data)
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
	if updated {
		t.Error("second Update should report no change")
	}
}

func TestMispTransformer_UpdateFailsOnMissingCounterpart(t *testing.T) {
	event := decodeSample(t)
	transformer := &MispTransformer{}
	if _, err := transformer.Transform(event); err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	empty := models.NewRequest([]models.Component{})
	if _, err := transformer.Update(event, empty); err == nil {
		t.Error("Update should fail when the data model lost a component")
	}
}

func TestMispTransformer_Snapshot(t *testing.T) {
	event := decodeSample(t)
	transformer := &MispTransformer{}

	audit := transformer.Snapshot(event)
	if audit.String(models.AuditKeyUUID) == "" {
		t.Error("snapshot should carry a fresh uuid")
	}
	if got := audit[models.AuditKeySeverity]; got != 2 {
		t.Errorf("severity: got %v, want 2", got)
	}
	if got := audit.String(models.AuditKeyDate); got != "2025-06-01" {
		t.Errorf("date: got %q", got)
	}
	if got := audit.String(models.AuditKeyEventType); got != "phishing" {
		t.Errorf("event type: got %q", got)
	}
	if audit.Bool(models.AuditKeyPublished) || audit.Bool(models.AuditKeyUploaded) {
		t.Error("fresh snapshots are neither published nor uploaded")
	}
	tags, ok := audit[models.AuditKeyTags].([]string)
	if !ok || len(tags) != 1 || tags[0] != "7" {
		t.Errorf("tags: got %v", audit[models.AuditKeyTags])
	}
	if got, ok := audit["source"]; !ok || got != "edge-3" {
		t.Errorf("payload audit extras: got %v", got)
	}

	// Two snapshots of the same event stay distinct.
	second := transformer.Snapshot(event)
	if audit.String(models.AuditKeyUUID) == second.String(models.AuditKeyUUID) {
		t.Error("snapshot uuids should differ")
	}
}

func TestFromString(t *testing.T) {
	for _, name := range []string{NameNone, NameMisp} {
		transformer, err := FromString(name)
		if err != nil {
			t.Fatalf("FromString(%q) failed: %v", name, err)
		}
		if transformer.Name() != name {
			t.Errorf("Name: got %q, want %q", transformer.Name(), name)
		}
	}
	if _, err := FromString("misp.Nonexistent"); err == nil {
		t.Error("FromString should reject unknown names")
	}
}

func TestNoTransformer(t *testing.T) {
	transformer := &NoTransformer{}

	// No validation: any body decodes to nil.
	body, err := transformer.DecodeBody([]byte(`{"a": 1}`))
	if err != nil || body != nil {
		t.Fatalf("DecodeBody: got (%v, %v), want (nil, nil)", body, err)
	}

	data, err := transformer.Transform(body)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if len(data.Data) != 0 || len(data.Type) != 0 {
		t.Errorf("Transform should produce an empty request, got %+v", data)
	}

	if updated, err := transformer.Update(body, data); err != nil || updated {
		t.Errorf("Update: got (%v, %v), want (false, nil)", updated, err)
	}
	if audit := transformer.Snapshot(body); len(audit) != 0 {
		t.Errorf("Snapshot: got %v, want empty", audit)
	}
}
