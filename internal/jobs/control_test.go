package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
)

func responseFromEnv(t *testing.T, env *engine.Env) *engine.Response {
	t.Helper()
	response, err := engine.EnvValue[*engine.Response](env, engine.EnvResponse)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return response
}

func TestDataPongRepliesWithDataModel(t *testing.T) {
	env := anonEnv(models.NewAttribute("ip-src", "192.0.2.10"))
	job := NewDataPong("pong", env, nil)

	if _, err := job.Run(context.Background(), engine.Args{}); err != nil {
		t.Fatalf("running job: %v", err)
	}

	response := responseFromEnv(t, env)
	if response.Status != http.StatusOK {
		t.Errorf("status = %d, want %d", response.Status, http.StatusOK)
	}
	data, ok := response.JSON.(*models.Request)
	if !ok {
		t.Fatalf("response body is %T, want *models.Request", response.JSON)
	}
	if len(data.Data) != 1 || data.Data[0].GetName() != "ip-src" {
		t.Errorf("unexpected data model in response: %+v", data)
	}
}

func TestModelPongSerializesEnvironmentValue(t *testing.T) {
	env := engine.NewEnv()
	env.Set("model", map[string]any{"answer": 42.0})
	job := NewModelPong("pong", env, nil)

	_, err := job.Run(context.Background(), engine.Args{paramObjectLocation: "model"})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	response := responseFromEnv(t, env)
	raw, ok := response.JSON.(json.RawMessage)
	if !ok {
		t.Fatalf("response body is %T, want json.RawMessage", response.JSON)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if decoded["answer"] != 42.0 {
		t.Errorf("answer = %v, want 42", decoded["answer"])
	}
}

func TestModelPongErrors(t *testing.T) {
	env := engine.NewEnv()
	env.Set("broken", make(chan int))

	tests := []struct {
		name string
		args engine.Args
		want string
	}{
		{"missing parameter", engine.Args{}, "missing parameter object_location"},
		{"absent location", engine.Args{paramObjectLocation: "nope"}, "environment attribute not found"},
		{"unserializable value", engine.Args{paramObjectLocation: "broken"}, "invalid object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewModelPong("pong", env, nil)
			_, err := job.Run(context.Background(), tt.args)
			if err == nil {
				t.Fatal("expected an error")
			}
			var jobErr *engine.JobError
			if !errors.As(err, &jobErr) {
				t.Errorf("error is %T, want *engine.JobError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDummyJob(t *testing.T) {
	job := NewDummyJob("dummy", engine.NewEnv(), nil)

	if _, err := job.Run(context.Background(), engine.Args{paramMessage: "hello"}); err != nil {
		t.Fatalf("running job: %v", err)
	}
	if _, err := job.Run(context.Background(), engine.Args{}); err == nil {
		t.Error("expected an error without the message parameter")
	}
	_, err := job.Run(context.Background(), engine.Args{paramMessage: "hello", paramFail: true})
	if err == nil || !strings.Contains(err.Error(), "Dummy job dummy failed") {
		t.Errorf("error = %v, want dummy failure", err)
	}
}

func TestDummyGeneratorBuildsAndAdoptsJobs(t *testing.T) {
	registry := engine.NewRegistry(common.GetLogger())
	if err := registry.Register("DummyJob", NewDummyJob); err != nil {
		t.Fatalf("registering job type: %v", err)
	}
	env := engine.NewEnv()
	generator := NewDummyGeneratorFactory(registry)("gen", env, nil).(*DummyGenerator)

	produced, err := generator.Generate(context.Background(), engine.Args{
		paramJobs: []any{
			map[string]any{
				"name": "first",
				"type": "DummyJob",
				"args": map[string]any{paramMessage: "one"},
			},
			map[string]any{
				"name": "second",
				"type": "DummyJob",
				"args": map[string]any{paramMessage: "two"},
			},
		},
	})
	if err != nil {
		t.Fatalf("generating jobs: %v", err)
	}
	if len(produced) != 2 {
		t.Fatalf("generated %d jobs, want 2", len(produced))
	}
	for i, want := range []string{"first", "second"} {
		child := produced[i]
		if child.Name() != want {
			t.Errorf("job %d name = %q, want %q", i, child.Name(), want)
		}
		if !child.Ephemeral() {
			t.Errorf("job %d is not ephemeral", i)
		}
		if child.Parent() != engine.Job(generator) {
			t.Errorf("job %d was not adopted by the generator", i)
		}
	}
}

func TestDummyGeneratorRejectsAnonymousEntries(t *testing.T) {
	registry := engine.NewRegistry(common.GetLogger())
	generator := NewDummyGeneratorFactory(registry)("gen", engine.NewEnv(), nil).(*DummyGenerator)

	_, err := generator.Generate(context.Background(), engine.Args{
		paramJobs: []any{map[string]any{"type": "DummyJob"}},
	})
	if err == nil || !strings.Contains(err.Error(), "name and a type") {
		t.Errorf("error = %v, want a name-and-type failure", err)
	}
}
