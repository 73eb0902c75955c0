package jobs

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ternarybob/tego/internal/engine"
)

// DataPong replies with the current data model.
type DataPong struct {
	engine.BaseJob
}

// NewDataPong builds a DataPong job.
func NewDataPong(name string, env *engine.Env, args engine.Args) engine.Job {
	return &DataPong{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run sets the JSON response to the data model.
func (j *DataPong) Run(_ context.Context, _ engine.Args) (any, error) {
	data, err := j.Data()
	if err != nil {
		return nil, err
	}
	j.Env().Set(engine.EnvResponse, engine.NewJSONResponse(http.StatusOK, data))
	return nil, nil
}

// ResultsPong replies with the pipeline results gathered so far.
type ResultsPong struct {
	engine.BaseJob
}

// NewResultsPong builds a ResultsPong job.
func NewResultsPong(name string, env *engine.Env, args engine.Args) engine.Job {
	return &ResultsPong{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run sets the JSON response to the pipeline results.
func (j *ResultsPong) Run(_ context.Context, _ engine.Args) (any, error) {
	results, err := engine.EnvValue[*engine.PipelineResult](j.Env(), engine.EnvPipelineResults)
	if err != nil {
		return nil, err
	}
	j.Env().Set(engine.EnvResponse, engine.NewJSONResponse(http.StatusOK, results))
	return nil, nil
}

// ModelPong replies with a value stored in the environment.
//
// Parameters:
//
//   - object_location: the environment attribute to reply with. Its value
//     must serialize to JSON.
type ModelPong struct {
	engine.BaseJob
}

// NewModelPong builds a ModelPong job.
func NewModelPong(name string, env *engine.Env, args engine.Args) engine.Job {
	return &ModelPong{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run sets the JSON response to the serialized environment value.
func (j *ModelPong) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramObjectLocation); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramObjectLocation)
	if err != nil {
		return nil, err
	}
	value, ok := j.Env().Get(location)
	if !ok {
		return nil, engine.NewJobError("environment attribute not found: %s", location)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, engine.WrapJobError(err, "environment attribute %q returned invalid object", location)
	}
	j.Env().Set(engine.EnvResponse, engine.NewJSONResponse(http.StatusOK, json.RawMessage(raw)))
	return nil, nil
}

// DummyJob logs a message and optionally fails. It exists for pipeline
// testing.
//
// Parameters:
//
//   - message: the value to log.
//   - fail (optional): fail the job after logging.
type DummyJob struct {
	engine.BaseJob
}

// NewDummyJob builds a DummyJob.
func NewDummyJob(name string, env *engine.Env, args engine.Args) engine.Job {
	return &DummyJob{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run logs the message, failing when asked to.
func (j *DummyJob) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramMessage); err != nil {
		return nil, err
	}
	j.Logger().Info().Str("job", j.Name()).Msgf("%v", kwargs[paramMessage])
	if boolArg(kwargs, paramFail) {
		return nil, engine.NewJobError("Dummy job %s failed", j.Name())
	}
	return nil, nil
}

// DummyGenerator produces jobs from literal descriptions. It exists for
// pipeline testing.
//
// Parameters:
//
//   - jobs: a list of job descriptions, each holding the name, type, args
//     and policies fields of a pipeline entry.
//   - message (optional): a value to log.
//   - fail (optional): fail instead of generating.
type DummyGenerator struct {
	engine.BaseGeneratorJob
	registry *engine.Registry
}

// NewDummyGeneratorFactory builds the DummyGenerator factory. The registry
// resolves the described job types.
func NewDummyGeneratorFactory(registry *engine.Registry) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &DummyGenerator{
			BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewBaseJob(name, env, args)},
			registry:         registry,
		}
	}
}

// dummyJobDescription is one generated-job entry of the jobs parameter.
type dummyJobDescription struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Args     engine.Args     `json:"args"`
	Policies engine.Policies `json:"policies"`
}

// Generate builds the described jobs and adopts them.
func (j *DummyGenerator) Generate(_ context.Context, kwargs engine.Args) ([]engine.Job, error) {
	if err := j.VerifyParameters(kwargs, paramJobs); err != nil {
		return nil, err
	}
	if message, ok := kwargs[paramMessage]; ok {
		j.Logger().Info().Str("job", j.Name()).Msgf("%v", message)
	}
	if boolArg(kwargs, paramFail) {
		return nil, engine.NewJobError("Dummy job %s failed", j.Name())
	}
	entries, err := listArg(kwargs, paramJobs)
	if err != nil {
		return nil, err
	}
	produced := make([]engine.Job, 0, len(entries))
	for _, entry := range entries {
		desc, err := engine.ParseArgAs[dummyJobDescription](entry)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to parse a generated job entry")
		}
		if desc.Name == "" || desc.Type == "" {
			return nil, engine.NewJobError("generated job entry needs a name and a type")
		}
		child := j.registry.Create(desc.Type, desc.Name, j.Env(), desc.Args)
		if adoptable, ok := child.(interface{ Adopt(engine.Job) }); ok {
			adoptable.Adopt(j)
		}
		child.InitPolicies(desc.Policies)
		produced = append(produced, child)
	}
	return produced, nil
}
