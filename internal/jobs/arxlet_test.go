package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/arxlet"
)

// arxletServer fakes the ARXlet service, recording the decoded request
// bodies and replying with canned values.
type arxletServer struct {
	*httptest.Server
	attributeRequests []map[string]any
	objectRequests    []map[string]any
}

func newARXletServer(t *testing.T, attributeValues []string, objectRows [][]arxlet.Attribute) *arxletServer {
	t.Helper()
	fake := &arxletServer{}
	fake.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding ARXlet request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/attributes":
			fake.attributeRequests = append(fake.attributeRequests, body)
			json.NewEncoder(w).Encode(attributeValues)
		case "/objects":
			fake.objectRequests = append(fake.objectRequests, body)
			json.NewEncoder(w).Encode(objectRows)
		default:
			t.Errorf("unexpected ARXlet path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fake.Server.Close)
	return fake
}

// petScheme digs the scheme of the first PET out of a decoded request body.
func petScheme(t *testing.T, body map[string]any) string {
	t.Helper()
	pets, ok := body["pets"].([]any)
	if !ok || len(pets) == 0 {
		t.Fatalf("request carries no pets: %v", body)
	}
	pet, ok := pets[0].(map[string]any)
	if !ok {
		t.Fatalf("pet is %T, want an object", pets[0])
	}
	scheme, _ := pet["scheme"].(string)
	return scheme
}

func TestARXletFromPetsAnonymizesAttributes(t *testing.T) {
	server := newARXletServer(t, []string{"192.0.2.0/24"}, nil)
	deps, _, _, _ := newTestDeps(t)
	attribute := familyAttribute("ip-src", "192.0.2.10", "ip-src")
	env := anonEnv(attribute)
	job := NewARXletFromPetsFactory(deps)("apply", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramPets: []any{
			map[string]any{"scheme": arxlet.SchemeKAnonymity, "metadata": map[string]any{"k": 2}},
		},
		paramAttributes:           []string{"ip-src"},
		paramObjects:              []any{},
		paramAttributeHierarchies: []any{staticHierarchy("ip-src", "192.0.2.10", "192.0.2.0/24", "192.0.0.0/16")},
		paramObjectHierarchies:    []any{},
		paramARXletURL:            server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if attribute.Value != "192.0.2.0/24" {
		t.Errorf("attribute value = %q, want the anonymized value", attribute.Value)
	}
	if len(server.attributeRequests) != 1 {
		t.Fatalf("ARXlet received %d attribute requests, want 1", len(server.attributeRequests))
	}
	if scheme := petScheme(t, server.attributeRequests[0]); scheme != arxlet.SchemeKAnonymity {
		t.Errorf("request scheme = %q, want %q", scheme, arxlet.SchemeKAnonymity)
	}
}

func TestARXletFromPetsSkipsWithoutPets(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	attribute := familyAttribute("ip-src", "192.0.2.10", "ip-src")
	env := anonEnv(attribute)
	job := NewARXletFromPetsFactory(deps)("apply", env, nil)

	// Unknown schemes are skipped, leaving nothing to apply. The job must
	// return before resolving the unconfigured service URL.
	_, err := job.Run(context.Background(), engine.Args{
		paramPets: []any{
			map[string]any{"scheme": "not-a-scheme", "metadata": map[string]any{}},
		},
		paramAttributes:           []string{"ip-src"},
		paramObjects:              []any{},
		paramAttributeHierarchies: []any{},
		paramObjectHierarchies:    []any{},
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if attribute.Value != "192.0.2.10" {
		t.Errorf("attribute value = %q, want it untouched", attribute.Value)
	}
}

func TestARXletFromPetsMissingHierarchy(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv(familyAttribute("ip-src", "192.0.2.10", "ip-src"))
	job := NewARXletFromPetsFactory(deps)("apply", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramPets: []any{
			map[string]any{"scheme": arxlet.SchemeKAnonymity, "metadata": map[string]any{"k": 2}},
		},
		paramAttributes:           []string{"ip-src"},
		paramObjects:              []any{},
		paramAttributeHierarchies: []any{},
		paramObjectHierarchies:    []any{},
		paramARXletURL:            "http://unused.invalid",
	})
	if err == nil || !strings.Contains(err.Error(), `No hierarchy for attribute "ip-src"`) {
		t.Errorf("error = %v, want a missing-hierarchy failure", err)
	}
}

func TestARXletFromPetsAnonymizesObjects(t *testing.T) {
	server := newARXletServer(t, nil, [][]arxlet.Attribute{
		{{Type: "name", Value: "a*"}},
	})
	deps, _, _, _ := newTestDeps(t)
	member := models.NewAttribute("name", "alice", models.TypeAnonymizableByARXlet, "name")
	object := familyObject("person", []models.Component{member}, "person")
	env := anonEnv(object)
	job := NewARXletFromPetsFactory(deps)("apply", env, nil)

	hierarchy := models.HierarchyObject{
		MispObjectTemplate:   "person",
		AttributeHierarchies: []models.HierarchyAttribute{staticHierarchy("name", "alice", "a*", "*")},
	}
	_, err := job.Run(context.Background(), engine.Args{
		paramPets: []any{
			map[string]any{"scheme": arxlet.SchemeKAnonymity, "metadata": map[string]any{"k": 2}},
		},
		paramAttributes:           []string{},
		paramObjects:              []any{objectTarget{Type: "person", Values: []string{"name"}}},
		paramAttributeHierarchies: []any{},
		paramObjectHierarchies:    []any{hierarchy},
		paramARXletURL:            server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if member.Value != "a*" {
		t.Errorf("member value = %q, want the anonymized value", member.Value)
	}
	if len(server.objectRequests) != 1 {
		t.Fatalf("ARXlet received %d object requests, want 1", len(server.objectRequests))
	}
}

func TestKAnonymityDelegatesToFromPets(t *testing.T) {
	server := newARXletServer(t, []string{"anon"}, nil)
	deps, _, _, _ := newTestDeps(t)
	attribute := familyAttribute("ip-src", "192.0.2.10", "ip-src")
	env := anonEnv(attribute)
	job := NewKAnonymityFactory(deps)("kanon", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramK:                    2,
		paramAttributes:           []string{"ip-src"},
		paramObjects:              []any{},
		paramAttributeHierarchies: []any{staticHierarchy("ip-src", "192.0.2.10", "192.0.2.0/24")},
		paramObjectHierarchies:    []any{},
		paramARXletURL:            server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if attribute.Value != "anon" {
		t.Errorf("attribute value = %q, want it anonymized", attribute.Value)
	}
	if scheme := petScheme(t, server.attributeRequests[0]); scheme != arxlet.SchemeKAnonymity {
		t.Errorf("request scheme = %q, want %q", scheme, arxlet.SchemeKAnonymity)
	}
}

func TestARXletSchemeJobsVerifyParameters(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv()

	tests := []struct {
		name    string
		factory engine.Factory
		missing string
	}{
		{"k-anonymity", NewKAnonymityFactory(deps), "k"},
		{"distinct l-diversity", NewDistinctLDiversityFactory(deps), "sensitive"},
		{"entropy l-diversity", NewEntropyLDiversityFactory(deps), "sensitive"},
		{"recursive cl-diversity", NewRecursiveCLDiversityFactory(deps), "sensitive"},
		{"hierarchical t-closeness", NewHierarchicalTClosenessFactory(deps), "sensitive"},
		{"ordered t-closeness", NewOrderedTClosenessFactory(deps), "sensitive"},
		{"k-map", NewKMapFactory(deps), "k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.factory("job", env, nil)
			_, err := job.Run(context.Background(), engine.Args{})
			if err == nil || !strings.Contains(err.Error(), "missing parameter "+tt.missing) {
				t.Errorf("error = %v, want a missing %q failure", err, tt.missing)
			}
		})
	}
}

func arxletPolicyEnv(privacy *models.PrivacyPolicy, hierarchy *models.HierarchyPolicy) *engine.Env {
	env := engine.NewEnv()
	env.Set("privacy-policy", privacy)
	env.Set("hierarchy-policy", hierarchy)
	return env
}

func TestARXletFromPrivacyPolicyGeneratesJobs(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	privacy := &models.PrivacyPolicy{
		Creator:      "analyst",
		Organization: "acme",
		Version:      "1.0",
		Attributes: []models.AttributePolicy{
			{
				Name: "ip-src",
				Type: "ip-src",
				Pets: []models.Pet{{Scheme: arxlet.SchemeKAnonymity, Metadata: models.PetMetadata{K: 2}}},
			},
		},
		Templates: []models.Template{
			{
				Name:       "person",
				KAnonymity: true,
				K:          3,
				Attributes: []models.AttributePolicyWithoutDp{
					{
						Name: "name",
						Type: "name",
						Pets: []models.Pet{{Scheme: arxlet.SchemeKAnonymity, Metadata: models.PetMetadata{K: 3}}},
					},
				},
			},
			{
				Name: "account",
				KMap: true,
				K:    5,
				Attributes: []models.AttributePolicyWithoutDp{
					{
						Name: "iban",
						Type: "iban",
						Pets: []models.Pet{{Scheme: arxlet.SchemeKAnonymity, Metadata: models.PetMetadata{K: 5}}},
					},
				},
			},
		},
	}
	hierarchyPolicy := &models.HierarchyPolicy{
		Organization:        "acme",
		Version:             "1.0",
		Creator:             "analyst",
		HierarchyAttributes: []models.HierarchyAttribute{staticHierarchy("ip-src", "192.0.2.10", "192.0.2.0/24")},
		HierarchyObjects: []models.HierarchyObject{
			{
				MispObjectTemplate:   "account",
				AttributeHierarchies: []models.HierarchyAttribute{staticHierarchy("iban", "DE02", "DE*")},
			},
		},
	}
	env := arxletPolicyEnv(privacy, hierarchyPolicy)
	generator := NewARXletFromPrivacyPolicyFactory(deps)("gen", env, nil).(*ARXletFromPrivacyPolicy)

	produced, err := generator.Generate(context.Background(), engine.Args{
		paramPrivacyPolicyLocation:   "privacy-policy",
		paramHierarchyPolicyLocation: "hierarchy-policy",
		paramARXletURL:               "http://arxlet.test",
	})
	if err != nil {
		t.Fatalf("generating jobs: %v", err)
	}
	if len(produced) != 2 {
		t.Fatalf("generated %d jobs, want 2", len(produced))
	}

	fromPets := produced[0]
	if fromPets.Name() != "gen.apply_pets" {
		t.Errorf("first job name = %q, want gen.apply_pets", fromPets.Name())
	}
	if !fromPets.Ephemeral() {
		t.Error("generated job is not ephemeral")
	}
	args := fromPets.Args()
	if names, ok := args[paramAttributes].([]string); !ok || len(names) != 1 || names[0] != "ip-src" {
		t.Errorf("attributes argument = %v, want [ip-src]", args[paramAttributes])
	}
	if pets, ok := args[paramPets].([]any); !ok || len(pets) != 2 {
		t.Errorf("pets argument = %v, want the attribute and template PETs", args[paramPets])
	}
	if objects, ok := args[paramObjects].([]any); !ok || len(objects) != 2 {
		t.Errorf("objects argument = %v, want both templates targeted", args[paramObjects])
	}
	if args[paramARXletURL] != "http://arxlet.test" {
		t.Errorf("url argument = %v, want the override", args[paramARXletURL])
	}

	kMap := produced[1]
	if kMap.Name() != "gen.apply_k_map_account" {
		t.Errorf("second job name = %q, want gen.apply_k_map_account", kMap.Name())
	}
	kMapArgs := kMap.Args()
	if kMapArgs[paramK] != 5 {
		t.Errorf("k argument = %v, want 5", kMapArgs[paramK])
	}
	target, ok := kMapArgs[paramObject].(objectTarget)
	if !ok || target.Type != "account" {
		t.Errorf("object argument = %v, want the account target", kMapArgs[paramObject])
	}
}

func TestARXletFromPrivacyPolicyMissingObjectHierarchy(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	privacy := &models.PrivacyPolicy{
		Creator:      "analyst",
		Organization: "acme",
		Version:      "1.0",
		Templates: []models.Template{
			{Name: "account", KMap: true, K: 5},
		},
	}
	hierarchyPolicy := &models.HierarchyPolicy{Organization: "acme", Version: "1.0", Creator: "analyst"}
	env := arxletPolicyEnv(privacy, hierarchyPolicy)
	generator := NewARXletFromPrivacyPolicyFactory(deps)("gen", env, nil).(*ARXletFromPrivacyPolicy)

	_, err := generator.Generate(context.Background(), engine.Args{
		paramPrivacyPolicyLocation:   "privacy-policy",
		paramHierarchyPolicyLocation: "hierarchy-policy",
	})
	if err == nil || !strings.Contains(err.Error(), `No hierarchy for object "account"`) {
		t.Errorf("error = %v, want a missing-hierarchy failure", err)
	}
}

func TestKMapUsesContextPopulation(t *testing.T) {
	server := newARXletServer(t, nil, [][]arxlet.Attribute{
		{{Type: "iban", Value: "DE*"}},
	})
	deps, contexts, _, _ := newTestDeps(t)

	storedMember := models.NewAttribute("iban", "DE99", models.TypeAnonymizableByARXlet, "iban")
	stored := models.NewObject("account", []models.Component{storedMember}, models.DefaultObjectType, models.TypeAnonymizableByARXlet, "account")
	contexts.stored = []*models.Request{models.NewRequest([]models.Component{stored})}

	member := models.NewAttribute("iban", "DE02", models.TypeAnonymizableByARXlet, "iban")
	object := familyObject("account", []models.Component{member}, "account")
	env := anonEnv(object)
	job := NewKMapFactory(deps)("kmap", env, nil)

	hierarchy := models.HierarchyObject{
		MispObjectTemplate: "account",
		AttributeHierarchies: []models.HierarchyAttribute{
			{
				AttributeName: "iban",
				AttributeType: models.HierarchyKindStatic,
				AttributeGeneralization: []models.AttributeGeneralization{
					{Generalization: []string{"DE02", "DE*"}},
					{Generalization: []string{"DE99", "DE*"}},
				},
			},
		},
	}
	_, err := job.Run(context.Background(), engine.Args{
		paramK:               5,
		paramObject:          objectTarget{Type: "account", Values: []string{"iban"}},
		paramObjectHierarchy: hierarchy,
		paramARXletURL:       server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if member.Value != "DE*" {
		t.Errorf("member value = %q, want the anonymized value", member.Value)
	}
	if len(contexts.queries) != 1 {
		t.Fatalf("context store received %d queries, want 1", len(contexts.queries))
	}
	query := contexts.queries[0]
	if len(query.DataTypes) != 1 || query.DataTypes[0] != "account" || !query.DataAll {
		t.Errorf("context query = %+v, want all requests typed account", query)
	}
	if len(server.objectRequests) != 1 {
		t.Fatalf("ARXlet received %d object requests, want 1", len(server.objectRequests))
	}
	if scheme := petScheme(t, server.objectRequests[0]); scheme != arxlet.SchemeKMap {
		t.Errorf("request scheme = %q, want %q", scheme, arxlet.SchemeKMap)
	}
}
