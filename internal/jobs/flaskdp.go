package jobs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/flaskdp"
)

// flaskdpJob is the shared base of the FlaskDP job family. It narrows the
// anonymizable working set to the FlaskDP family tag and carries the shared
// dependencies.
type flaskdpJob struct {
	engine.BaseJob
	deps *Dependencies
}

func newFlaskDPJob(name string, env *engine.Env, args engine.Args, deps *Dependencies) flaskdpJob {
	base := engine.NewBaseJob(name, env, args)
	base.SetAnonymizableType(models.TypeAnonymizableByFlaskDP)
	return flaskdpJob{BaseJob: base, deps: deps}
}

func newFlaskDPChildJob(name string, generator engine.Job, args engine.Args, deps *Dependencies) flaskdpJob {
	base := engine.NewChildJob(name, generator, args)
	base.SetAnonymizableType(models.TypeAnonymizableByFlaskDP)
	return flaskdpJob{BaseJob: base, deps: deps}
}

// flaskdpURL resolves the FlaskDP endpoint, preferring a per-run override
// over the configured service.
func (j *flaskdpJob) flaskdpURL(kwargs engine.Args) (string, error) {
	url, err := optionalStringArg(kwargs, paramFlaskDPURL, j.deps.Config.Services.FlaskDP.URL)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", engine.NewJobError("FlaskDP service is not configured")
	}
	return url, nil
}

// prepareItem builds one request item from the attributes whose values
// parse as floats. Attributes with non-numeric values are logged and left
// out, so the returned attribute list pairs with the item values by
// position.
func (j *flaskdpJob) prepareItem(id string, attributes []*models.Attribute) (flaskdp.ItemRequest, []*models.Attribute) {
	item := flaskdp.ItemRequest{ID: id, Values: make([]float64, 0, len(attributes))}
	kept := make([]*models.Attribute, 0, len(attributes))
	for _, attribute := range attributes {
		value, err := strconv.ParseFloat(attribute.Value, 64)
		if err != nil {
			j.Logger().Error().Str("job", j.Name()).Str("attribute", attribute.Name).Str("value", attribute.Value).Msg("Unable to parse attribute value as float")
			continue
		}
		item.Values = append(item.Values, value)
		kept = append(kept, attribute)
	}
	return item, kept
}

// updateValues writes perturbed values back into the attributes, pairing
// the slices by position.
func (j *flaskdpJob) updateValues(attributes []*models.Attribute, values []float64) error {
	if len(values) < len(attributes) {
		return engine.NewJobError("FlaskDP response does not cover all attributes")
	}
	for i, attribute := range attributes {
		updated := strconv.FormatFloat(values[i], 'f', -1, 64)
		j.Logger().Debug().Str("job", j.Name()).Str("old", attribute.Value).Str("new", updated).Msg("Updating attribute value")
		attribute.Value = updated
	}
	return nil
}

// apply runs one differential privacy mechanism over the selected
// attributes. With objects given, each matching object becomes one request
// item built from its member attributes; otherwise each listed attribute
// type becomes one item built from the matching top-level attributes.
func (j *flaskdpJob) apply(ctx context.Context, mechanism flaskdp.Mechanism, kwargs engine.Args) error {
	data, err := j.AnonymizableComponents()
	if err != nil {
		return err
	}
	attributeNames, err := stringListArg(kwargs, paramAttributes)
	if err != nil {
		return err
	}
	epsilon, err := floatArg(kwargs, paramEpsilon)
	if err != nil {
		return err
	}
	delta, err := optionalFloatArg(kwargs, paramDelta, 0)
	if err != nil {
		return err
	}
	sensitivity, err := floatArg(kwargs, paramSensitivity)
	if err != nil {
		return err
	}
	upper, err := optionalFloatArg(kwargs, paramUpper, 1)
	if err != nil {
		return err
	}
	lower, err := optionalFloatArg(kwargs, paramLower, 0)
	if err != nil {
		return err
	}
	objectNames, err := optionalStringListArg(kwargs, paramObjects)
	if err != nil {
		return err
	}

	request := &flaskdp.Request{Items: make([]flaskdp.ItemRequest, 0)}
	updates := make(map[string][]*models.Attribute)

	addItem := func(id string, attributes []*models.Attribute) {
		item, kept := j.prepareItem(id, attributes)
		item.Epsilon = epsilon
		item.Delta = delta
		item.Sensitivity = sensitivity
		item.Upper = upper
		item.Lower = lower
		item.Mechanism = mechanism
		request.Items = append(request.Items, item)
		updates[id] = kept
	}

	if len(objectNames) > 0 {
		// One item per matching object, built from its members. An empty
		// attribute list selects every anonymizable member.
		types := append([]string{models.TypeAnonymizableByFlaskDP}, attributeNames...)
		for count, object := range engine.ExtractObjects(data, append([]string{models.TypeAnonymizableByFlaskDP}, objectNames...)...) {
			members := engine.ExtractAttributes(object.Value, types...)
			addItem(fmt.Sprintf("obj%s-%d", object.Name, count), members)
		}
	} else {
		// One item per attribute type, built from the matching top-level
		// attributes.
		for _, attributeName := range attributeNames {
			attributes := engine.ExtractAttributes(data, models.TypeAnonymizableByFlaskDP, attributeName)
			addItem(attributeName, attributes)
		}
	}

	if len(request.Items) == 0 {
		j.Logger().Info().Str("job", j.Name()).Msg("No attributes to perturb")
		return nil
	}

	url, err := j.flaskdpURL(kwargs)
	if err != nil {
		return err
	}
	client := clients.NewFlaskDPClient(url, j.deps.Config.Services.FlaskDP.Connection, j.Logger())
	response, err := client.Apply(ctx, request)
	if err != nil {
		return wrapClientFailure(err)
	}
	if response == nil {
		return engine.NewJobError("FlaskDP request failed")
	}

	for _, item := range response.Items {
		attributes, ok := updates[item.ID]
		if !ok {
			return engine.NewJobError("FlaskDP response names an unknown item %q", item.ID)
		}
		if err := j.updateValues(attributes, item.Values); err != nil {
			return err
		}
	}
	return nil
}

// FlaskDPFromPrivacyPolicy walks the privacy policy stored in the
// environment and generates one FromTechnique job per DP-flagged attribute
// policy and object template. The policy must have been parsed into the
// environment by an earlier job.
//
// Parameters:
//
//   - privacy_policy_location: environment attribute of the privacy policy.
//   - flaskdp_url (optional): alternative FlaskDP endpoint.
type FlaskDPFromPrivacyPolicy struct {
	engine.BaseGeneratorJob
	deps *Dependencies
}

// NewFlaskDPFromPrivacyPolicyFactory builds the factory for the policy
// generator.
func NewFlaskDPFromPrivacyPolicyFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &FlaskDPFromPrivacyPolicy{
			BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewBaseJob(name, env, args)},
			deps:             deps,
		}
	}
}

// dpArgs builds FromTechnique arguments from a DP policy, spreading the
// policy metadata over the mechanism parameters.
func dpArgs(attributes []string, policy *models.DpAttributePolicy, url string) engine.Args {
	return engine.Args{
		paramAttributes:  attributes,
		paramTechnique:   policy.Scheme,
		paramFlaskDPURL:  url,
		paramEpsilon:     policy.Metadata.Epsilon,
		paramDelta:       policy.Metadata.Delta,
		paramSensitivity: policy.Metadata.Sensitivity,
		paramUpper:       policy.Metadata.HighBounds,
		paramLower:       policy.Metadata.LowBounds,
	}
}

// Generate derives one FromTechnique job per DP policy. The jobs cannot be
// grouped by technique because the metadata may differ.
func (j *FlaskDPFromPrivacyPolicy) Generate(_ context.Context, kwargs engine.Args) ([]engine.Job, error) {
	if err := j.VerifyParameters(kwargs, paramPrivacyPolicyLocation); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramPrivacyPolicyLocation)
	if err != nil {
		return nil, err
	}
	privacy, err := engine.EnvValue[*models.PrivacyPolicy](j.Env(), location)
	if err != nil {
		return nil, err
	}
	url, err := optionalStringArg(kwargs, paramFlaskDPURL, j.deps.Config.Services.FlaskDP.URL)
	if err != nil {
		return nil, err
	}

	generated := make([]engine.Job, 0)
	for _, attributePolicy := range privacy.Attributes {
		if !attributePolicy.Dp {
			continue
		}
		if attributePolicy.DpPolicy == nil {
			return nil, engine.NewJobError("Missing DP policy for attribute %q", attributePolicy.Name)
		}
		args := dpArgs([]string{attributePolicy.Name}, attributePolicy.DpPolicy, url)
		name := fmt.Sprintf("%d_attribute", len(generated))
		generated = append(generated, &FlaskDPFromTechnique{flaskdpJob: newFlaskDPChildJob(name, j, args, j.deps)})
	}

	for _, template := range privacy.Templates {
		if !template.Dp {
			continue
		}
		if template.DpPolicy == nil {
			return nil, engine.NewJobError("Missing DP policy for object %q", template.Name)
		}
		attributes := template.DpPolicy.AttributeNames
		if template.DpPolicy.ApplyToAll {
			attributes = []string{}
		}
		args := dpArgs(attributes, &models.DpAttributePolicy{Scheme: template.DpPolicy.Scheme, Metadata: template.DpPolicy.Metadata}, url)
		args[paramObjects] = []string{template.Name}
		name := fmt.Sprintf("%d_object", len(generated))
		generated = append(generated, &FlaskDPFromTechnique{flaskdpJob: newFlaskDPChildJob(name, j, args, j.deps)})
	}
	return generated, nil
}

// FlaskDPFromTechnique applies a differential privacy mechanism picked by
// name.
//
// Parameters:
//
//   - technique: the mechanism name. Unrecognized names fall back to
//     Laplace.
//   - attributes: attribute types to perturb.
//   - epsilon, delta, sensitivity: the DP budget.
//   - upper, lower (optional): domain bounds for the bounded mechanisms.
//   - objects (optional): object types to pull the attributes from instead
//     of the top level.
//   - flaskdp_url (optional): alternative FlaskDP endpoint.
type FlaskDPFromTechnique struct {
	flaskdpJob
}

// NewFlaskDPFromTechniqueFactory builds the FromTechnique factory.
func NewFlaskDPFromTechniqueFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &FlaskDPFromTechnique{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run resolves the mechanism and applies it.
func (j *FlaskDPFromTechnique) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramTechnique, paramAttributes, paramEpsilon, paramDelta, paramSensitivity); err != nil {
		return nil, err
	}
	technique, err := stringArg(kwargs, paramTechnique)
	if err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismFromString(technique), kwargs)
}

// Laplace applies the Laplace mechanism.
//
// Parameters are those of FlaskDPFromTechnique minus technique.
type Laplace struct {
	flaskdpJob
}

// NewLaplaceFactory builds the Laplace factory.
func NewLaplaceFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &Laplace{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *Laplace) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismLaplace, kwargs)
}

// LaplaceTruncated applies the truncated Laplace mechanism. Domain bounds
// are required.
type LaplaceTruncated struct {
	flaskdpJob
}

// NewLaplaceTruncatedFactory builds the truncated Laplace factory.
func NewLaplaceTruncatedFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &LaplaceTruncated{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *LaplaceTruncated) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity, paramUpper, paramLower); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismLaplaceTruncated, kwargs)
}

// LaplaceBoundedDomain applies the bounded-domain Laplace mechanism. Domain
// bounds are required.
type LaplaceBoundedDomain struct {
	flaskdpJob
}

// NewLaplaceBoundedDomainFactory builds the bounded-domain Laplace factory.
func NewLaplaceBoundedDomainFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &LaplaceBoundedDomain{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *LaplaceBoundedDomain) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity, paramUpper, paramLower); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismLaplaceBoundedDomain, kwargs)
}

// LaplaceBoundedNoise applies the bounded-noise Laplace mechanism.
type LaplaceBoundedNoise struct {
	flaskdpJob
}

// NewLaplaceBoundedNoiseFactory builds the bounded-noise Laplace factory.
func NewLaplaceBoundedNoiseFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &LaplaceBoundedNoise{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *LaplaceBoundedNoise) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismLaplaceBoundedNoise, kwargs)
}

// Gaussian applies the Gaussian mechanism.
type Gaussian struct {
	flaskdpJob
}

// NewGaussianFactory builds the Gaussian factory.
func NewGaussianFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &Gaussian{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *Gaussian) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismGaussian, kwargs)
}

// GaussianAnalytic applies the analytic Gaussian mechanism.
type GaussianAnalytic struct {
	flaskdpJob
}

// NewGaussianAnalyticFactory builds the analytic Gaussian factory.
func NewGaussianAnalyticFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &GaussianAnalytic{flaskdpJob: newFlaskDPJob(name, env, args, deps)}
	}
}

// Run applies the mechanism.
func (j *GaussianAnalytic) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramAttributes, paramEpsilon, paramDelta, paramSensitivity); err != nil {
		return nil, err
	}
	return nil, j.apply(ctx, flaskdp.MechanismGaussianAnalytic, kwargs)
}
