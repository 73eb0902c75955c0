package engine

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
)

// Pipeline executes an ordered sequence of stages and aggregates their
// results. The result object is shared with the environment while the
// pipeline runs, so jobs can inspect the outcome of earlier stages.
type Pipeline struct {
	stages                   []*Stage
	next                     int
	result                   *PipelineResult
	env                      *Env
	policies                 Policies
	optional                 []string
	discardResponseOnFailure bool
	logger                   arbor.ILogger
}

// NewPipeline builds a pipeline over the given stages.
func NewPipeline(env *Env, stages ...*Stage) *Pipeline {
	if env == nil {
		env = NewEnv()
	}
	owned := make([]*Stage, len(stages))
	copy(owned, stages)
	return &Pipeline{
		stages:                   owned,
		result:                   NewPipelineResult(),
		env:                      env,
		policies:                 Policies{},
		discardResponseOnFailure: true,
		optional:                 []string{},
		logger:                   common.GetLogger(),
	}
}

// Stages returns the stage sequence.
func (p *Pipeline) Stages() []*Stage { return p.stages }

// Result returns the live result object. Its stage map fills in as stages
// complete.
func (p *Pipeline) Result() *PipelineResult { return p.result }

// DiscardResponseOnFailure reports whether a failed run should drop the
// response a job may have produced.
func (p *Pipeline) DiscardResponseOnFailure() bool { return p.discardResponseOnFailure }

// InitPolicies installs the pipeline policy bag. The optional policy lists
// the stages whose failure does not fail the pipeline.
func (p *Pipeline) InitPolicies(policies Policies) {
	if policies == nil {
		policies = Policies{}
	}
	p.policies = policies
	p.optional = stringList(policies["optional"])
	p.discardResponseOnFailure = true
	if discard, ok := policies["discard_response_on_failure"].(bool); ok {
		p.discardResponseOnFailure = discard
	}
}

// RunWrapped executes all stages and absorbs pipeline-level failures. The
// pipeline succeeds when every non-optional stage succeeded.
func (p *Pipeline) RunWrapped(ctx context.Context, kwargs Args) (PipelineResult, error) {
	result, err := p.all(ctx, kwargs)
	if err != nil {
		var pipelineErr *PipelineError
		if !errors.As(err, &pipelineErr) || ctx.Err() != nil {
			return PipelineResult{}, err
		}
		p.logger.Error().Err(err).Msg("Caught a pipeline failure")
		return PipelineResult{Success: false, Result: map[string]StageResult{}}, nil
	}
	for name, stageResult := range p.result.Result {
		if p.isOptional(name) {
			continue
		}
		if !stageResult.Success {
			p.result.Success = false
			result.Success = false
			break
		}
	}
	return result, nil
}

// all executes every remaining stage, resuming after the last one executed.
func (p *Pipeline) all(ctx context.Context, kwargs Args) (PipelineResult, error) {
	for {
		result, err := p.one(ctx, kwargs)
		if err != nil {
			return PipelineResult{}, err
		}
		if result == nil {
			return *p.result, nil
		}
	}
}

// one executes the next stage in line. It returns nil when no stages remain.
func (p *Pipeline) one(ctx context.Context, kwargs Args) (*StageResult, error) {
	if p.next >= len(p.stages) {
		return nil, nil
	}
	stage := p.stages[p.next]
	p.next++

	p.logger.Info().Str("stage", stage.Name()).Msg("Begin execution of stage")
	stageResult, err := stage.RunWrapped(ctx, kwargs)
	if err != nil {
		return nil, err
	}
	p.logger.Info().Str("stage", stage.Name()).Msg("Finished execution of stage")

	p.result.Result[stage.Name()] = stageResult
	return &stageResult, nil
}

// Reset rewinds the pipeline and rebinds every stage to a fresh environment.
// The previous result object is abandoned so earlier runs stay readable.
func (p *Pipeline) Reset(env *Env) {
	if env == nil {
		env = NewEnv()
	}
	p.env = env
	p.next = 0
	p.result = NewPipelineResult()
	for _, stage := range p.stages {
		stage.Reset(env)
	}
}

func (p *Pipeline) isOptional(name string) bool {
	for _, optional := range p.optional {
		if optional == name {
			return true
		}
	}
	return false
}
