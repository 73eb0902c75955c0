package engine

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
)

// Stage executes an ordered sequence of jobs. Generator jobs splice their
// produced jobs right after themselves, so the sequence can grow mid-run.
type Stage struct {
	name          string
	env           *Env
	jobs          []Job
	next          int
	result        StageResult
	fatalFailures int
	policies      Policies
	optional      []string
	logger        arbor.ILogger
}

// NewStage builds a stage over the given jobs.
func NewStage(name string, env *Env, jobs ...Job) *Stage {
	if env == nil {
		env = NewEnv()
	}
	owned := make([]Job, len(jobs))
	copy(owned, jobs)
	return &Stage{
		name:     name,
		env:      env,
		jobs:     owned,
		result:   NewStageResult(),
		policies: Policies{},
		optional: []string{},
		logger:   common.GetLogger(),
	}
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Jobs returns the current job sequence.
func (s *Stage) Jobs() []Job { return s.jobs }

// AppendJob adds a job at the end of the sequence.
func (s *Stage) AppendJob(job Job) { s.jobs = append(s.jobs, job) }

// InitPolicies installs the stage policy bag. The optional policy lists the
// jobs whose failure does not fail the stage.
func (s *Stage) InitPolicies(policies Policies) {
	if policies == nil {
		policies = Policies{}
	}
	s.policies = policies
	s.optional = stringList(policies["optional"])
}

// RunWrapped executes all jobs and absorbs stage-level failures. The stage
// fails when any non-optional job failed or a StageError was raised.
func (s *Stage) RunWrapped(ctx context.Context, kwargs Args) (StageResult, error) {
	result, err := s.all(ctx, kwargs)
	if err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) || ctx.Err() != nil {
			return StageResult{}, err
		}
		s.logger.Error().Str("stage", s.name).Err(err).Msg("Caught a stage failure")
		return StageResult{Success: false, Result: map[string]JobResult{}, Failures: -1}, nil
	}
	if s.fatalFailures > 0 {
		s.result.Success = false
		result.Success = false
	}
	return result, nil
}

// all executes every remaining job, resuming after the last one executed.
func (s *Stage) all(ctx context.Context, kwargs Args) (StageResult, error) {
	for {
		result, err := s.one(ctx, kwargs)
		if err != nil {
			return StageResult{}, err
		}
		if result == nil {
			return s.result, nil
		}
	}
}

// one executes the next job in line. It returns nil when no jobs remain.
// Ephemeral jobs leave the sequence after executing; generated jobs enter it
// right after their generator, in generation order.
func (s *Stage) one(ctx context.Context, kwargs Args) (*JobResult, error) {
	if s.next >= len(s.jobs) {
		return nil, nil
	}
	job := s.jobs[s.next]
	s.next++

	s.logger.Info().Str("stage", s.name).Str("job", job.Name()).Msg("Begin execution of job")
	jobResult, generated, err := RunWrapped(ctx, job, kwargs)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("stage", s.name).Str("job", job.Name()).Msg("Finished execution of job")

	if job.Ephemeral() {
		s.logger.Info().Str("stage", s.name).Str("job", job.Name()).Msg("Removing ephemeral job")
		s.next--
		s.removeJob(job)
	}
	if generated != nil {
		s.logger.Info().Str("stage", s.name).Str("job", job.Name()).Int("count", len(generated)).Msg("Job created new jobs")
		for i := len(generated) - 1; i >= 0; i-- {
			s.insertJob(s.next, generated[i])
		}
	}
	s.result.Result[job.Name()] = jobResult

	if !jobResult.Success {
		s.result.Failures++
		if !s.isOptional(job) {
			s.fatalFailures++
		}
	}
	return &jobResult, nil
}

// Reset rewinds the stage and rebinds every job to a fresh environment.
func (s *Stage) Reset(env *Env) {
	if env == nil {
		env = NewEnv()
	}
	s.env = env
	s.next = 0
	s.result = NewStageResult()
	s.fatalFailures = 0
	for _, job := range s.jobs {
		job.Reset(env)
	}
}

// isOptional walks generated jobs up to their generator; optionality is
// declared on the static job names only.
func (s *Stage) isOptional(job Job) bool {
	if parent := job.Parent(); parent != nil {
		return s.isOptional(parent)
	}
	for _, name := range s.optional {
		if name == job.Name() {
			return true
		}
	}
	return false
}

func (s *Stage) insertJob(index int, job Job) {
	s.jobs = append(s.jobs, nil)
	copy(s.jobs[index+1:], s.jobs[index:])
	s.jobs[index] = job
}

func (s *Stage) removeJob(job Job) {
	for i, candidate := range s.jobs {
		if candidate == job {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}

// stringList coerces a policy value into a string list. Policy bags decode
// from JSON, so lists arrive as []any.
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
