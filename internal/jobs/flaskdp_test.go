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
	"github.com/ternarybob/tego/internal/models/flaskdp"
)

// flaskdpServer fakes the FlaskDP service, recording the decoded requests
// and echoing every item back with the given values.
type flaskdpServer struct {
	*httptest.Server
	requests []flaskdp.Request
}

func newFlaskDPServer(t *testing.T, values []float64) *flaskdpServer {
	t.Helper()
	fake := &flaskdpServer{}
	fake.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/dp/apply" {
			t.Errorf("unexpected FlaskDP path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var request flaskdp.Request
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding FlaskDP request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fake.requests = append(fake.requests, request)
		response := flaskdp.Response{}
		for _, item := range request.Items {
			response.Items = append(response.Items, flaskdp.ItemResponse{ID: item.ID, Values: values[:len(item.Values)]})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(fake.Server.Close)
	return fake
}

func TestLaplacePerturbsNumericAttributes(t *testing.T) {
	server := newFlaskDPServer(t, []float64{31.4})
	deps, _, _, _ := newTestDeps(t)
	numeric := familyAttribute("count", "10", "count")
	textual := familyAttribute("count", "many", "count")
	env := anonEnv(numeric, textual)
	job := NewLaplaceFactory(deps)("laplace", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramAttributes:  []string{"count"},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
		paramFlaskDPURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if numeric.Value != "31.4" {
		t.Errorf("numeric value = %q, want the perturbed value", numeric.Value)
	}
	if textual.Value != "many" {
		t.Errorf("textual value = %q, want it untouched", textual.Value)
	}
	if len(server.requests) != 1 {
		t.Fatalf("FlaskDP received %d requests, want 1", len(server.requests))
	}
	item := server.requests[0].Items[0]
	if item.Mechanism != flaskdp.MechanismLaplace {
		t.Errorf("mechanism = %q, want %q", item.Mechanism, flaskdp.MechanismLaplace)
	}
	if item.Epsilon != 0.5 || item.Sensitivity != 1.0 {
		t.Errorf("budget = (%v, %v), want (0.5, 1)", item.Epsilon, item.Sensitivity)
	}
	if len(item.Values) != 1 || item.Values[0] != 10 {
		t.Errorf("item values = %v, want the single numeric value", item.Values)
	}
}

func TestLaplaceSkipsWithoutTargets(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv(familyAttribute("count", "10", "count"))
	job := NewLaplaceFactory(deps)("laplace", env, nil)

	// No attribute types selected means nothing to perturb. The job must
	// return before resolving the unconfigured service URL.
	_, err := job.Run(context.Background(), engine.Args{
		paramAttributes:  []string{},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
}

func TestLaplacePerturbsObjectMembers(t *testing.T) {
	server := newFlaskDPServer(t, []float64{7})
	deps, _, _, _ := newTestDeps(t)
	member := models.NewAttribute("count", "10", models.TypeAnonymizableByFlaskDP, "count")
	object := familyObject("telemetry", []models.Component{member}, "telemetry")
	env := anonEnv(object)
	job := NewLaplaceFactory(deps)("laplace", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramAttributes:  []string{},
		paramObjects:     []string{"telemetry"},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
		paramFlaskDPURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if member.Value != "7" {
		t.Errorf("member value = %q, want the perturbed value", member.Value)
	}
	if id := server.requests[0].Items[0].ID; !strings.HasPrefix(id, "objtelemetry-") {
		t.Errorf("item id = %q, want an object item", id)
	}
}

func TestLaplaceTruncatedRequiresBounds(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	job := NewLaplaceTruncatedFactory(deps)("truncated", anonEnv(), nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramAttributes:  []string{"count"},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
	})
	if err == nil || !strings.Contains(err.Error(), "missing parameter upper") {
		t.Errorf("error = %v, want a missing-bounds failure", err)
	}
}

func TestFromTechniquePassesMechanismThrough(t *testing.T) {
	server := newFlaskDPServer(t, []float64{5})
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv(familyAttribute("count", "10", "count"))
	job := NewFlaskDPFromTechniqueFactory(deps)("technique", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramTechnique:   "gaussian",
		paramAttributes:  []string{"count"},
		paramEpsilon:     0.5,
		paramDelta:       0.1,
		paramSensitivity: 1.0,
		paramFlaskDPURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if mechanism := server.requests[0].Items[0].Mechanism; mechanism != flaskdp.MechanismGaussian {
		t.Errorf("mechanism = %q, want %q", mechanism, flaskdp.MechanismGaussian)
	}
}

func TestFromTechniqueFallsBackToLaplace(t *testing.T) {
	server := newFlaskDPServer(t, []float64{5})
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv(familyAttribute("count", "10", "count"))
	job := NewFlaskDPFromTechniqueFactory(deps)("technique", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramTechnique:   "no-such-mechanism",
		paramAttributes:  []string{"count"},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
		paramFlaskDPURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if mechanism := server.requests[0].Items[0].Mechanism; mechanism != flaskdp.MechanismLaplace {
		t.Errorf("mechanism = %q, want the Laplace fallback", mechanism)
	}
}

func TestFlaskDPRejectsUnknownResponseItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(flaskdp.Response{Items: []flaskdp.ItemResponse{{ID: "bogus", Values: []float64{1}}}})
	}))
	t.Cleanup(server.Close)
	deps, _, _, _ := newTestDeps(t)
	env := anonEnv(familyAttribute("count", "10", "count"))
	job := NewLaplaceFactory(deps)("laplace", env, nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramAttributes:  []string{"count"},
		paramEpsilon:     0.5,
		paramDelta:       0.0,
		paramSensitivity: 1.0,
		paramFlaskDPURL:  server.URL,
	})
	if err == nil || !strings.Contains(err.Error(), "unknown item") {
		t.Errorf("error = %v, want an unknown-item failure", err)
	}
}

func TestFlaskDPFromPrivacyPolicyGeneratesJobs(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	privacy := &models.PrivacyPolicy{
		Creator:      "analyst",
		Organization: "acme",
		Version:      "1.0",
		Attributes: []models.AttributePolicy{
			{
				Name: "count",
				Type: "count",
				Dp:   true,
				DpPolicy: &models.DpAttributePolicy{
					Scheme: "laplace",
					Metadata: models.DpPolicyMetadata{
						Epsilon: 0.5, Delta: 0.1, Sensitivity: 2,
						HighBounds: 10, LowBounds: 1,
					},
				},
			},
			{Name: "ip-src", Type: "ip-src"},
		},
		Templates: []models.Template{
			{
				Name: "telemetry",
				Dp:   true,
				DpPolicy: &models.DpObjectPolicy{
					Scheme:         "gaussian",
					Metadata:       models.DpPolicyMetadata{Epsilon: 1},
					AttributeNames: []string{"count"},
				},
			},
		},
	}
	env := engine.NewEnv()
	env.Set("privacy-policy", privacy)
	generator := NewFlaskDPFromPrivacyPolicyFactory(deps)("gen", env, nil).(*FlaskDPFromPrivacyPolicy)

	produced, err := generator.Generate(context.Background(), engine.Args{
		paramPrivacyPolicyLocation: "privacy-policy",
		paramFlaskDPURL:            "http://flaskdp.test",
	})
	if err != nil {
		t.Fatalf("generating jobs: %v", err)
	}
	if len(produced) != 2 {
		t.Fatalf("generated %d jobs, want 2", len(produced))
	}

	first := produced[0]
	if first.Name() != "gen.0_attribute" {
		t.Errorf("first job name = %q, want gen.0_attribute", first.Name())
	}
	args := first.Args()
	if args[paramTechnique] != "laplace" {
		t.Errorf("technique argument = %v, want laplace", args[paramTechnique])
	}
	if names, ok := args[paramAttributes].([]string); !ok || len(names) != 1 || names[0] != "count" {
		t.Errorf("attributes argument = %v, want [count]", args[paramAttributes])
	}
	if args[paramEpsilon] != 0.5 || args[paramUpper] != 10.0 || args[paramLower] != 1.0 {
		t.Errorf("budget arguments = %v, want the policy metadata", args)
	}

	second := produced[1]
	if second.Name() != "gen.1_object" {
		t.Errorf("second job name = %q, want gen.1_object", second.Name())
	}
	objectArgs := second.Args()
	if objects, ok := objectArgs[paramObjects].([]string); !ok || len(objects) != 1 || objects[0] != "telemetry" {
		t.Errorf("objects argument = %v, want [telemetry]", objectArgs[paramObjects])
	}
	if objectArgs[paramTechnique] != "gaussian" {
		t.Errorf("technique argument = %v, want gaussian", objectArgs[paramTechnique])
	}
}

func TestFlaskDPFromPrivacyPolicyRequiresDpPolicy(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	privacy := &models.PrivacyPolicy{
		Creator:      "analyst",
		Organization: "acme",
		Version:      "1.0",
		Attributes:   []models.AttributePolicy{{Name: "count", Type: "count", Dp: true}},
	}
	env := engine.NewEnv()
	env.Set("privacy-policy", privacy)
	generator := NewFlaskDPFromPrivacyPolicyFactory(deps)("gen", env, nil).(*FlaskDPFromPrivacyPolicy)

	_, err := generator.Generate(context.Background(), engine.Args{
		paramPrivacyPolicyLocation: "privacy-policy",
	})
	if err == nil || !strings.Contains(err.Error(), `Missing DP policy for attribute "count"`) {
		t.Errorf("error = %v, want a missing-policy failure", err)
	}
}
