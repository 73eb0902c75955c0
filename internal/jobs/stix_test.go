package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models/misp"
	"github.com/ternarybob/tego/internal/models/stix"
)

// transformEvent runs TransformMISPEvent over the sample event and returns
// the stored document.
func transformEvent(t *testing.T, version string) map[string]any {
	t.Helper()
	anon, _ := decodeEventAnon(t)
	env := engine.NewEnv()
	env.Set("event", &anon.Event)

	args := engine.Args{paramEventLocation: "event", paramDestination: "stix"}
	if version != "" {
		args[paramStixVersion] = version
	}
	job := NewTransformMISPEvent("transform", env, nil)
	if _, err := job.Run(context.Background(), args); err != nil {
		t.Fatalf("running job: %v", err)
	}

	document, err := engine.EnvValue[map[string]any](env, "stix")
	if err != nil {
		t.Fatalf("reading stored document: %v", err)
	}
	return document
}

func TestTransformMISPEventBuildsBundle(t *testing.T) {
	document := transformEvent(t, "")

	if document["type"] != "bundle" {
		t.Errorf("type = %v, want bundle", document["type"])
	}
	id, _ := document["id"].(string)
	if !strings.HasPrefix(id, "bundle--") {
		t.Errorf("id = %q, want a bundle identifier", id)
	}
	if _, ok := document["spec_version"]; ok {
		t.Error("a 2.1 bundle must not carry a top-level spec_version")
	}

	objects, ok := document["objects"].([]any)
	if !ok || len(objects) != 4 {
		t.Fatalf("objects = %v, want identity, two indicators and a report", document["objects"])
	}
	identity := objects[0].(map[string]any)
	if identity["type"] != "identity" || identity["spec_version"] != stix.Version21 {
		t.Errorf("identity = %v, want a versioned identity object", identity)
	}
	indicator := objects[1].(map[string]any)
	if indicator["type"] != "indicator" || indicator["pattern_type"] != "stix" {
		t.Errorf("indicator = %v, want a 2.1 indicator", indicator)
	}
	pattern, _ := indicator["pattern"].(string)
	if !strings.Contains(pattern, "= 'phishing'") {
		t.Errorf("pattern = %q, want the attribute value embedded", pattern)
	}
	report := objects[3].(map[string]any)
	if report["type"] != "report" || report["name"] != "phishing campaign" {
		t.Errorf("report = %v, want the event info as its name", report)
	}
	if refs, ok := report["object_refs"].([]any); !ok || len(refs) != 2 {
		t.Errorf("object_refs = %v, want both indicators referenced", report["object_refs"])
	}
}

func TestTransformMISPEventVersion20Placement(t *testing.T) {
	document := transformEvent(t, stix.Version20)

	if document["spec_version"] != stix.Version20 {
		t.Errorf("spec_version = %v, want it on the bundle", document["spec_version"])
	}
	objects := document["objects"].([]any)
	indicator := objects[1].(map[string]any)
	if _, ok := indicator["spec_version"]; ok {
		t.Error("2.0 objects must not carry spec_version")
	}
	if _, ok := indicator["pattern_type"]; ok {
		t.Error("2.0 indicators must not carry pattern_type")
	}
}

func TestTransformMISPEventLegacyVersions(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"1.0", stix.Version111},
		{stix.Version111, stix.Version111},
		{stix.Version12, stix.Version12},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			document := transformEvent(t, tt.requested)
			if document["version"] != tt.want {
				t.Errorf("version = %v, want %q", document["version"], tt.want)
			}
			id, _ := document["id"].(string)
			if !strings.HasPrefix(id, "Test:Package-") {
				t.Errorf("id = %q, want a namespaced package identifier", id)
			}
			header, ok := document["stix_header"].(map[string]any)
			if !ok || header["title"] != "phishing campaign" {
				t.Errorf("header = %v, want the event info as its title", document["stix_header"])
			}
			if indicators, ok := document["indicators"].([]any); !ok || len(indicators) != 2 {
				t.Errorf("indicators = %v, want the flattened attributes", document["indicators"])
			}
		})
	}
}

func TestTransformMISPEventInvalidVersion(t *testing.T) {
	anon, _ := decodeEventAnon(t)
	env := engine.NewEnv()
	env.Set("event", &anon.Event)

	job := NewTransformMISPEvent("transform", env, nil)
	_, err := job.Run(context.Background(), engine.Args{
		paramEventLocation: "event",
		paramDestination:   "stix",
		paramStixVersion:   "3.0",
	})
	if err == nil || !strings.Contains(err.Error(), "Invalid STIX version") {
		t.Errorf("error = %v, want an invalid-version failure", err)
	}
}

func TestTransformMISPEventRequiresEventInfo(t *testing.T) {
	env := engine.NewEnv()
	env.Set("event", &misp.Event{UUID: "9c2f6a3e-0000-4000-8000-00000000000b"})

	job := NewTransformMISPEvent("transform", env, nil)
	_, err := job.Run(context.Background(), engine.Args{
		paramEventLocation: "event",
		paramDestination:   "stix",
	})
	if err == nil || !strings.Contains(err.Error(), "Missing required field in MISP event") {
		t.Errorf("error = %v, want a missing-field failure", err)
	}
}

func TestStixPongRepliesWithDocument(t *testing.T) {
	env := engine.NewEnv()
	env.Set("stix", map[string]any{"type": "bundle"})

	job := NewStixPong("pong", env, nil)
	if _, err := job.Run(context.Background(), engine.Args{paramObjectLocation: "stix"}); err != nil {
		t.Fatalf("running job: %v", err)
	}

	response := responseFromEnv(t, env)
	if response.Status != http.StatusOK {
		t.Errorf("status = %d, want %d", response.Status, http.StatusOK)
	}
	raw, ok := response.JSON.(json.RawMessage)
	if !ok {
		t.Fatalf("response body is %T, want json.RawMessage", response.JSON)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if decoded["type"] != "bundle" {
		t.Errorf("document = %v, want the stored document", decoded)
	}
}

func TestStixPongMissingDocument(t *testing.T) {
	job := NewStixPong("pong", engine.NewEnv(), nil)
	_, err := job.Run(context.Background(), engine.Args{paramObjectLocation: "stix"})
	if err == nil || !strings.Contains(err.Error(), "environment attribute not found") {
		t.Errorf("error = %v, want a missing-attribute failure", err)
	}
}
