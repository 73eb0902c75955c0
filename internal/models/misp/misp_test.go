package misp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEvent_DecodePreservesUndeclaredFields(t *testing.T) {
	raw := `{
		"uuid": "5e9ba149-5b88-4624-b78b-3fdfe0fd758e",
		"info": "scanning campaign",
		"distribution": "0",
		"date": "2024-05-28",
		"timestamp": "1716890000",
		"threat_level_id": "2",
		"Attribute": [
			{"type": "ip-src", "category": "Network activity", "object_relation": "ip-src", "value": "203.0.113.7"}
		],
		"Object": [
			{"name": "ip-port", "timestamp": "1716890000", "template_uuid": "9f8cea74", "Attribute": [
				{"object_relation": "port", "value": "8443"}
			]}
		],
		"Tag": [{"id": "17", "name": "tlp:amber"}]
	}`

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if event.ThreatLevelID != ThreatLevelMedium {
		t.Errorf("threat level: got %q", event.ThreatLevelID)
	}
	if event.Date.Format("2006-01-02") != "2024-05-28" {
		t.Errorf("date: got %v", event.Date)
	}
	if len(event.Attributes) != 1 || len(event.Objects) != 1 || len(event.Tags) != 1 {
		t.Fatalf("sections: got %d/%d/%d", len(event.Attributes), len(event.Objects), len(event.Tags))
	}

	out, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, kept := range []string{
		`"info":"scanning campaign"`,
		`"distribution":"0"`,
		`"category":"Network activity"`,
		`"template_uuid":"9f8cea74"`,
	} {
		if !strings.Contains(string(out), kept) {
			t.Errorf("re-encoded event lost %s:\n%s", kept, out)
		}
	}
}

func TestEvent_DecodeDefaults(t *testing.T) {
	var event Event
	if err := json.Unmarshal([]byte(`{"threat_level_id": "4"}`), &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if event.Timestamp != "0" {
		t.Errorf("timestamp default: got %q, want 0", event.Timestamp)
	}
	if event.Date.IsZero() {
		t.Error("date default should be today, got zero")
	}
	if event.ThreatLevelID.Int() != 4 {
		t.Errorf("threat level int: got %d, want 4", event.ThreatLevelID.Int())
	}
}

func TestEvent_DecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing threat level", `{"date": "2024-05-28"}`},
		{"invalid threat level", `{"threat_level_id": "9"}`},
		{"attribute missing value", `{"threat_level_id": "1", "Attribute": [{"object_relation": "x"}]}`},
		{"object missing timestamp", `{"threat_level_id": "1", "Object": [{"name": "x", "Attribute": []}]}`},
		{"bad date", `{"threat_level_id": "1", "date": "28/05/2024"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var event Event
			if err := json.Unmarshal([]byte(tt.raw), &event); err == nil {
				t.Error("expected decode error, got nil")
			}
		})
	}
}

func TestFlexString_CoercesScalars(t *testing.T) {
	tests := []struct {
		raw  string
		want FlexString
	}{
		{`"plain"`, "plain"},
		{`true`, "true"},
		{`false`, "false"},
		{`12`, "12"},
	}

	for _, tt := range tests {
		var f FlexString
		if err := json.Unmarshal([]byte(tt.raw), &f); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", tt.raw, err)
		}
		if f != tt.want {
			t.Errorf("FlexString(%s): got %q, want %q", tt.raw, f, tt.want)
		}
	}

	var f FlexString
	if err := json.Unmarshal([]byte(`["x"]`), &f); err == nil {
		t.Error("expected error for list value")
	}
}

func TestEventAnon_Decode(t *testing.T) {
	raw := `{
		"Event": {"threat_level_id": "3"},
		"Privacy-policy": {"creator": "c", "organization": "o", "version": "1"},
		"Hierarchy-policy": {"organization": "o", "version": "1", "creator": "c",
			"hierarchy_objects": [], "hierarchy_attributes": []},
		"Audit": {"channel": "intake-a"}
	}`

	var payload EventAnon
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.Event.ThreatLevelID != ThreatLevelLow {
		t.Errorf("threat level: got %q", payload.Event.ThreatLevelID)
	}
	if payload.Audit["channel"] != "intake-a" {
		t.Errorf("audit extras: got %v", payload.Audit)
	}

	var missing EventAnon
	if err := json.Unmarshal([]byte(`{"Event": {"threat_level_id": "3"}}`), &missing); err == nil {
		t.Error("expected decode error for missing policies")
	}
}
