package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/models"
)

// Args carries job parameters: the static ones from the pipeline description
// and the dynamic ones a caller passes at run time.
type Args map[string]any

// Policies is the free-form policy bag attached to jobs, stages and
// pipelines.
type Policies map[string]any

// Job is one unit of work inside a stage. Concrete jobs embed BaseJob and
// implement Run.
type Job interface {
	Name() string
	Args() Args
	Env() *Env
	Ephemeral() bool
	Parent() Job
	InitPolicies(policies Policies)
	Policies() Policies
	InheritsPolicies() bool
	Reset(env *Env)
	Run(ctx context.Context, kwargs Args) (any, error)
}

// Generator is a job that produces jobs instead of a value. The stage
// splices the produced jobs right after the generator.
type Generator interface {
	Job
	Generate(ctx context.Context, kwargs Args) ([]Job, error)
}

// BaseJob carries the common job state and helpers. A zero BaseJob is not
// usable; build one with NewBaseJob or NewChildJob.
type BaseJob struct {
	name             string
	args             Args
	env              *Env
	ephemeral        bool
	parent           Job
	policies         Policies
	inheritPolicies  bool
	anonymizableType string
	logger           arbor.ILogger
}

// NewBaseJob builds the base state for a statically declared job.
func NewBaseJob(name string, env *Env, args Args) BaseJob {
	if env == nil {
		env = NewEnv()
	}
	merged := make(Args, len(args))
	for key, value := range args {
		merged[key] = value
	}
	return BaseJob{
		name:             name,
		args:             merged,
		env:              env,
		policies:         Policies{},
		inheritPolicies:  true,
		anonymizableType: models.TypeAnonymizable,
		logger:           common.GetLogger(),
	}
}

// NewChildJob builds the base state for a job produced by a generator. The
// child is ephemeral, shares the generator's environment and carries the
// generator-qualified name.
func NewChildJob(name string, generator Job, args Args) BaseJob {
	base := NewBaseJob(fmt.Sprintf("%s.%s", generator.Name(), name), generator.Env(), args)
	base.ephemeral = true
	base.parent = generator
	return base
}

// Name returns the job name, generator-qualified for generated jobs.
func (b *BaseJob) Name() string { return b.name }

// Args returns the static arguments from the pipeline description.
func (b *BaseJob) Args() Args { return b.args }

// Env returns the shared environment.
func (b *BaseJob) Env() *Env { return b.env }

// Ephemeral reports whether the stage removes the job after one execution.
func (b *BaseJob) Ephemeral() bool { return b.ephemeral }

// Parent returns the generator that produced this job, or nil.
func (b *BaseJob) Parent() Job { return b.parent }

// Adopt marks the job as an ephemeral child of generator. Registry-created
// jobs spliced into a pipeline by a generator use this to join its lifecycle.
func (b *BaseJob) Adopt(generator Job) {
	b.ephemeral = true
	b.parent = generator
}

// InitPolicies installs the job's policy bag.
func (b *BaseJob) InitPolicies(policies Policies) {
	if policies == nil {
		policies = Policies{}
	}
	b.policies = policies
	b.inheritPolicies = true
	if inherit, ok := policies["generated_jobs_inherit_policies"].(bool); ok {
		b.inheritPolicies = inherit
	}
}

// Policies returns the job's policy bag.
func (b *BaseJob) Policies() Policies { return b.policies }

// InheritsPolicies reports whether generated jobs copy this job's policies.
func (b *BaseJob) InheritsPolicies() bool { return b.inheritPolicies }

// Reset rebinds the job to a fresh environment.
func (b *BaseJob) Reset(env *Env) {
	if env == nil {
		env = NewEnv()
	}
	b.env = env
}

// Logger returns the job's logger.
func (b *BaseJob) Logger() arbor.ILogger { return b.logger }

// Request returns the inbound web request from the environment.
func (b *BaseJob) Request() (*WebRequest, error) {
	return EnvValue[*WebRequest](b.env, EnvRequest)
}

// Data returns the uniform data model from the environment.
func (b *BaseJob) Data() (*models.Request, error) {
	return EnvValue[*models.Request](b.env, EnvData)
}

// Body returns the transformer-decoded request body from the environment.
func (b *BaseJob) Body() (any, error) {
	value, ok := b.env.Get(EnvBody)
	if !ok {
		return nil, NewJobError("environment attribute not found: %s", EnvBody)
	}
	return value, nil
}

// AnonymizableComponents returns the components tagged for this job's
// anonymization family.
func (b *BaseJob) AnonymizableComponents() ([]models.Component, error) {
	data, err := b.Data()
	if err != nil {
		return nil, err
	}
	return data.TypesGet(b.anonymizableType), nil
}

// SetAnonymizableType narrows AnonymizableComponents to a namespaced tag.
// Job families that share the data model with other backends mark their
// working set with a family-qualified variant of the anonymizable tag.
func (b *BaseJob) SetAnonymizableType(t string) { b.anonymizableType = t }

// VerifyParameters checks that every required parameter is present in the
// merged arguments.
func (b *BaseJob) VerifyParameters(args Args, params ...string) error {
	b.logger.Debug().Str("job", b.name).Int("count", len(params)).Msg("Verifying required parameters")
	for _, param := range params {
		if _, ok := args[param]; !ok {
			b.logger.Error().Str("job", b.name).Str("parameter", param).Msg("Missing parameter")
			return NewJobError("missing parameter %s", param)
		}
	}
	return nil
}

// BaseGeneratorJob is the base state for generator jobs. Its Run is a no-op;
// the stage calls Generate instead.
type BaseGeneratorJob struct {
	BaseJob
}

// Run returns nothing. Generators produce jobs through Generate.
func (g *BaseGeneratorJob) Run(_ context.Context, _ Args) (any, error) {
	return nil, nil
}

// EmptyJob does nothing. The registry substitutes it for unknown job types.
type EmptyJob struct {
	BaseJob
}

// NewEmptyJob builds an EmptyJob with a unique name.
func NewEmptyJob() *EmptyJob {
	return &EmptyJob{BaseJob: NewBaseJob("empty-job-"+uuid.NewString(), NewEnv(), nil)}
}

// Run does nothing.
func (j *EmptyJob) Run(_ context.Context, _ Args) (any, error) {
	return nil, nil
}

// RunWrapped merges static and dynamic arguments, executes the job and
// absorbs job-level failures. Generator jobs return the produced jobs for
// the stage to splice; their reported result lists the produced job names.
// Errors other than JobError propagate to the caller, and a JobError
// raised after the context was cancelled propagates too, so cancellation
// is never recorded as a job failure.
func RunWrapped(ctx context.Context, job Job, kwargs Args) (JobResult, []Job, error) {
	merged := make(Args, len(job.Args())+len(kwargs))
	for key, value := range job.Args() {
		merged[key] = value
	}
	for key, value := range kwargs {
		merged[key] = value
	}

	logger := common.GetLogger()

	if generator, ok := job.(Generator); ok {
		generated, err := generator.Generate(ctx, merged)
		if err != nil {
			var jobErr *JobError
			if !errors.As(err, &jobErr) || ctx.Err() != nil {
				return JobResult{}, nil, err
			}
			logger.Error().Str("job", job.Name()).Err(err).Msg("Caught a job failure")
			return JobResult{Success: false, Result: formatJobNames(nil)}, []Job{}, nil
		}
		if generated == nil {
			generated = []Job{}
		}
		if job.InheritsPolicies() {
			for _, child := range generated {
				child.InitPolicies(job.Policies())
			}
		}
		names := make([]string, 0, len(generated))
		prefix := job.Name() + "."
		for _, child := range generated {
			names = append(names, strings.TrimPrefix(child.Name(), prefix))
		}
		return JobResult{Success: true, Result: formatJobNames(names)}, generated, nil
	}

	out, err := job.Run(ctx, merged)
	if err != nil {
		var jobErr *JobError
		if !errors.As(err, &jobErr) || ctx.Err() != nil {
			return JobResult{}, nil, err
		}
		logger.Error().Str("job", job.Name()).Err(err).Msg("Caught a job failure")
		return JobResult{Success: false, Result: ""}, nil, nil
	}
	return JobResult{Success: true, Result: stringifyResult(out)}, nil, nil
}

func stringifyResult(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseArgAs coerces a job argument into a typed model. Arguments arrive as
// decoded values, maps from the pipeline description or embedded JSON
// strings.
func ParseArgAs[T any](arg any) (*T, error) {
	switch v := arg.(type) {
	case *T:
		return v, nil
	case T:
		return &v, nil
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		parsed := new(T)
		if err := json.Unmarshal(raw, parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	case string:
		parsed := new(T)
		if err := json.Unmarshal([]byte(v), parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("not a map, string or model: %T", arg)
	}
}

// ExtractAttributes returns the attributes among components carrying all
// given types.
func ExtractAttributes(components []models.Component, types ...string) []*models.Attribute {
	out := make([]*models.Attribute, 0)
	for _, component := range components {
		if attribute, ok := component.(*models.Attribute); ok && attribute.TypeIs(types...) {
			out = append(out, attribute)
		}
	}
	return out
}

// ExtractObjects returns the objects among components carrying all given
// types.
func ExtractObjects(components []models.Component, types ...string) []*models.Object {
	out := make([]*models.Object, 0)
	for _, component := range components {
		if object, ok := component.(*models.Object); ok && object.TypeIs(types...) {
			out = append(out, object)
		}
	}
	return out
}
