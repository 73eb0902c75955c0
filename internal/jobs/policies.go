package jobs

import (
	"context"
	"strings"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
)

// walkAddress descends a dotted address through nested JSON objects and
// returns the object at its end.
func walkAddress(root any, address string) (map[string]any, error) {
	current := root
	for _, segment := range strings.Split(address, ".") {
		parent, ok := current.(map[string]any)
		if !ok {
			return nil, engine.NewJobError("Reached recursion end before %q", segment)
		}
		child, ok := parent[segment]
		if !ok {
			return nil, engine.NewJobError("Intermediate object %s not present", segment)
		}
		current = child
	}
	target, ok := current.(map[string]any)
	if !ok {
		return nil, engine.NewJobError("Target address is not a JSON object")
	}
	return target, nil
}

// ReadPrivacyPolicy parses a privacy policy out of the request payload and
// stores it in the environment.
//
// Parameters:
//
//   - address: dotted path of the policy inside the request JSON.
//   - location: environment attribute to store the parsed policy under.
type ReadPrivacyPolicy struct {
	engine.BaseJob
}

// NewReadPrivacyPolicy builds a ReadPrivacyPolicy job.
func NewReadPrivacyPolicy(name string, env *engine.Env, args engine.Args) engine.Job {
	return &ReadPrivacyPolicy{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run locates, validates and stores the policy.
func (j *ReadPrivacyPolicy) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAddress, paramLocation); err != nil {
		return nil, err
	}
	address, err := stringArg(kwargs, paramAddress)
	if err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramLocation)
	if err != nil {
		return nil, err
	}
	request, err := j.Request()
	if err != nil {
		return nil, err
	}
	target, err := walkAddress(request.JSON, address)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseArgAs[models.PrivacyPolicy](target)
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to parse the privacy policy")
	}
	if err := policy.Validate(); err != nil {
		return nil, engine.WrapJobError(err, "invalid privacy policy")
	}
	j.Logger().Debug().Str("job", j.Name()).Str("location", location).Msg("Storing privacy policy")
	j.Env().Set(location, policy)
	return nil, nil
}

// ReadHierarchyPolicy parses a hierarchy policy out of the request payload
// and stores it in the environment.
//
// Parameters:
//
//   - address: dotted path of the policy inside the request JSON.
//   - location: environment attribute to store the parsed policy under.
type ReadHierarchyPolicy struct {
	engine.BaseJob
}

// NewReadHierarchyPolicy builds a ReadHierarchyPolicy job.
func NewReadHierarchyPolicy(name string, env *engine.Env, args engine.Args) engine.Job {
	return &ReadHierarchyPolicy{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run locates, validates and stores the policy.
func (j *ReadHierarchyPolicy) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAddress, paramLocation); err != nil {
		return nil, err
	}
	address, err := stringArg(kwargs, paramAddress)
	if err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramLocation)
	if err != nil {
		return nil, err
	}
	request, err := j.Request()
	if err != nil {
		return nil, err
	}
	target, err := walkAddress(request.JSON, address)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseArgAs[models.HierarchyPolicy](target)
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to parse the hierarchy policy")
	}
	if err := policy.Validate(); err != nil {
		return nil, engine.WrapJobError(err, "invalid hierarchy policy")
	}
	j.Logger().Debug().Str("job", j.Name()).Str("location", location).Msg("Storing hierarchy policy")
	j.Env().Set(location, policy)
	return nil, nil
}
