package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/models"
)

// RequestPong replies with the raw inbound payload. It is the only job the
// default pipeline runs.
type RequestPong struct {
	BaseJob
}

// NewRequestPong builds a RequestPong job.
func NewRequestPong(name string, env *Env, args Args) Job {
	return &RequestPong{BaseJob: NewBaseJob(name, env, args)}
}

func (j *RequestPong) Run(ctx context.Context, kwargs Args) (any, error) {
	request, err := j.Request()
	if err != nil {
		return nil, err
	}
	j.Env().Set(EnvResponse, NewJSONResponse(200, request.JSON))
	return nil, nil
}

// defaultPipeline echoes the inbound payload back. It serves requests when
// no pipeline description is available.
func defaultPipeline() *Pipeline {
	env := NewEnv()
	job := NewRequestPong("default-pong", env, nil)
	job.InitPolicies(Policies{})
	stage := NewStage("default-stage", env, job)
	stage.InitPolicies(Policies{})
	pipeline := NewPipeline(env, stage)
	pipeline.InitPolicies(Policies{})
	return pipeline
}

// Engine runs one pipeline over one request environment. Stages rewrite
// their job sequences while running, so an engine must not be shared between
// requests; build one per request.
type Engine struct {
	pipeline *Pipeline
	logger   arbor.ILogger
}

// New builds an engine from the pipeline description in pipelineFile. A
// missing or unnamed file falls back to the default echo pipeline; a
// malformed description is an error.
func New(pipelineFile string, registry *Registry) (*Engine, error) {
	logger := common.GetLogger()
	if pipelineFile != "" {
		logger.Info().Str("file", pipelineFile).Msg("Loading pipeline from file")
		description, err := os.ReadFile(pipelineFile)
		if err == nil {
			pipeline, err := Parse(description, registry)
			if err != nil {
				return nil, err
			}
			return &Engine{pipeline: pipeline, logger: logger}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Error().Str("file", pipelineFile).Msg("Unable to load pipeline from file: File not found")
	} else {
		logger.Info().Msg("Unable to load pipeline: No pipeline file supplied")
	}
	logger.Info().Msg("Loading default pipeline")
	return &Engine{pipeline: defaultPipeline(), logger: logger}, nil
}

// NewFromPipeline builds an engine over an already constructed pipeline.
func NewFromPipeline(pipeline *Pipeline) *Engine {
	return &Engine{pipeline: pipeline, logger: common.GetLogger()}
}

// Pipeline returns the engine's pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Run executes the pipeline against one request. Jobs read the request, the
// transformed data and the raw body from the environment, and may leave a
// response there. Without one the response carries the pipeline report. A
// failed run answers 400; by default it also swaps a job-built response for
// the report, unless the pipeline description kept it with
// discard_response_on_failure false.
func (e *Engine) Run(ctx context.Context, request *WebRequest, data *models.Request, body any, auditTimestamp float64) (*Response, error) {
	env := NewEnv()
	env.Set(EnvRequest, request)
	env.Set(EnvData, data)
	env.Set(EnvBody, body)
	env.Set(EnvAuditTimestamp, auditTimestamp)
	e.pipeline.Reset(env)
	env.Set(EnvPipelineResults, e.pipeline.Result())

	e.logger.Info().Msg("Execution begin")
	result, err := e.pipeline.RunWrapped(ctx, nil)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Msg("Execution finished")

	response := envResponse(env)
	if !result.Success {
		e.logger.Error().Msg("Pipeline was not successful")
		if response == nil || e.pipeline.DiscardResponseOnFailure() {
			return NewJSONResponse(400, result), nil
		}
		response.Status = 400
		return response, nil
	}
	if response == nil {
		return NewJSONResponse(200, result), nil
	}
	return response, nil
}

// envResponse returns the response a job left in the environment, if any.
func envResponse(env *Env) *Response {
	value, ok := env.Get(EnvResponse)
	if !ok {
		return nil
	}
	response, ok := value.(*Response)
	if !ok {
		return nil
	}
	return response
}
