package jobs

import (
	"context"
	"sort"

	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/interfaces"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/arxlet"
)

// objectTarget names an object template to anonymize together with the
// member attribute types to operate on.
type objectTarget struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// petMetadata widens the policy PET parameters with the fields only the
// ARXlet wire models carry.
type petMetadata struct {
	models.PetMetadata
	Sensitive *string               `json:"sensitive"`
	Context   [][]arxlet.ObjectData `json:"context"`
}

// petDescription is the serialized form of an ARXlet PET inside job
// arguments.
type petDescription struct {
	Scheme   string      `json:"scheme"`
	Metadata petMetadata `json:"metadata"`
}

// arxletJob is the shared base of the ARXlet job family. It narrows the
// anonymizable working set to the ARXlet family tag and carries the shared
// dependencies.
type arxletJob struct {
	engine.BaseJob
	deps *Dependencies
}

func newARXletJob(name string, env *engine.Env, args engine.Args, deps *Dependencies) arxletJob {
	base := engine.NewBaseJob(name, env, args)
	base.SetAnonymizableType(models.TypeAnonymizableByARXlet)
	return arxletJob{BaseJob: base, deps: deps}
}

func newARXletChildJob(name string, generator engine.Job, args engine.Args, deps *Dependencies) arxletJob {
	base := engine.NewChildJob(name, generator, args)
	base.SetAnonymizableType(models.TypeAnonymizableByARXlet)
	return arxletJob{BaseJob: base, deps: deps}
}

// arxletURL resolves the ARXlet endpoint, preferring a per-run override
// over the configured service.
func (j *arxletJob) arxletURL(kwargs engine.Args) (string, error) {
	url, err := optionalStringArg(kwargs, paramARXletURL, j.deps.Config.Services.ARXlet.URL)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", engine.NewJobError("ARXlet service is not configured")
	}
	return url, nil
}

// prepareAttributes pairs each attribute value with its generalization
// ladder, producing the rows the ARXlet attribute endpoint accepts.
func (j *arxletJob) prepareAttributes(attributes []*models.Attribute, hierarchy *models.HierarchyAttribute) ([]arxlet.AttributeData, error) {
	prepared := make([]arxlet.AttributeData, 0, len(attributes))
	for _, attribute := range attributes {
		ladder, err := hierarchy.Resolve(attribute.Value)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to resolve the hierarchy for attribute %q", attribute.Name)
		}
		prepared = append(prepared, arxlet.AttributeData{Value: attribute.Value, Hierarchies: ladder})
	}
	return prepared, nil
}

// prepareObjects flattens objects into per-member value and ladder rows,
// one row per object, the members ordered as validAttributes. Every object
// must carry one member per listed attribute type, and the object hierarchy
// must cover every listed type.
func (j *arxletJob) prepareObjects(objects []*models.Object, hierarchy *models.HierarchyObject, validAttributes ...string) ([]arxlet.ObjectData, error) {
	prepared := make([]arxlet.ObjectData, 0, len(objects))
	for _, object := range objects {
		values := make([]arxlet.Attribute, 0, len(validAttributes))
		ladders := make([]arxlet.Hierarchy, 0, len(validAttributes))
		for _, attributeName := range validAttributes {
			var attributeHierarchy *models.HierarchyAttribute
			for i := range hierarchy.AttributeHierarchies {
				if hierarchy.AttributeHierarchies[i].AttributeName == attributeName {
					attributeHierarchy = &hierarchy.AttributeHierarchies[i]
					break
				}
			}
			if attributeHierarchy == nil {
				return nil, engine.NewJobError("No hierarchy for attribute %q inside object %q", attributeName, object.Name)
			}
			members := engine.ExtractAttributes(object.Value, attributeName)
			if len(members) == 0 {
				return nil, engine.NewJobError("Object %q is missing attribute %q", object.Name, attributeName)
			}
			// An object carries at most one member per attribute type.
			rows, err := j.prepareAttributes(members[:1], attributeHierarchy)
			if err != nil {
				return nil, err
			}
			values = append(values, arxlet.Attribute{Type: attributeName, Value: rows[0].Value})
			ladders = append(ladders, arxlet.Hierarchy{Type: attributeName, Values: rows[0].Hierarchies})
		}
		prepared = append(prepared, arxlet.ObjectData{Values: values, Hierarchies: ladders})
	}
	return prepared, nil
}

// preparePets coerces the pets argument into ARXlet wire models. Entries
// with an unknown scheme are skipped.
func (j *arxletJob) preparePets(raw []any) ([]arxlet.Pet, error) {
	pets := make([]arxlet.Pet, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case arxlet.Pet:
			pets = append(pets, v)
			continue
		case *arxlet.Pet:
			pets = append(pets, *v)
			continue
		}
		description, err := engine.ParseArgAs[petDescription](entry)
		if err != nil {
			return nil, engine.NewJobError("Pet is not a string, map or Pet model")
		}
		pet, err := arxlet.PetFromScheme(description.Scheme, description.Metadata.PetMetadata, description.Metadata.Sensitive, description.Metadata.Context)
		if err != nil {
			j.Logger().Info().Str("job", j.Name()).Str("scheme", description.Scheme).Msg("Unknown ARXlet PET scheme, skipping")
			continue
		}
		pets = append(pets, pet)
	}
	return pets, nil
}

// updateAttributes writes anonymized values back into the attributes,
// pairing the slices by position.
func updateAttributes(attributes []*models.Attribute, values []string) error {
	if len(values) < len(attributes) {
		return engine.NewJobError("ARXlet response does not cover all attributes")
	}
	for i, attribute := range attributes {
		attribute.Value = values[i]
	}
	return nil
}

// updateObjects writes anonymized rows back into each object's members
// carrying the filter types, pairing objects with rows and members with row
// values by position.
func updateObjects(objects []*models.Object, rows [][]string, typeFilter ...string) error {
	if len(rows) < len(objects) {
		return engine.NewJobError("ARXlet response does not cover all objects")
	}
	for i, object := range objects {
		members := object.TypesGet(typeFilter...)
		row := rows[i]
		if len(row) < len(members) {
			return engine.NewJobError("ARXlet response does not cover all attributes of object %q", object.Name)
		}
		for k, member := range members {
			attribute, ok := member.(*models.Attribute)
			if !ok {
				return engine.NewJobError("Unknown component while updating: %v", member)
			}
			attribute.Value = row[k]
		}
	}
	return nil
}

// withPets returns kwargs with the given pets installed as the default pets
// argument. Caller-provided pets win over the default.
func withPets(kwargs engine.Args, pets ...arxlet.Pet) engine.Args {
	merged := make(engine.Args, len(kwargs)+1)
	merged[paramPets] = anySlice(pets)
	for key, value := range kwargs {
		merged[key] = value
	}
	return merged
}

// ARXletFromPrivacyPolicy walks the privacy and hierarchy policies stored
// in the environment and generates the ARXlet jobs they call for: one
// FromPets run covering the attribute PETs and the k-anonymity template
// PETs, plus one KMap run per template with a k-map policy. Both policies
// must have been parsed into the environment by an earlier job.
//
// Parameters:
//
//   - privacy_policy_location: environment attribute of the privacy policy.
//   - hierarchy_policy_location: environment attribute of the hierarchy
//     policy.
//   - arxlet_url (optional): alternative ARXlet endpoint.
type ARXletFromPrivacyPolicy struct {
	engine.BaseGeneratorJob
	deps *Dependencies
}

// NewARXletFromPrivacyPolicyFactory builds the factory for the policy
// generator.
func NewARXletFromPrivacyPolicyFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &ARXletFromPrivacyPolicy{
			BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewBaseJob(name, env, args)},
			deps:             deps,
		}
	}
}

// Generate derives the PET set and the anonymization targets from the
// policies.
//
// Standalone attribute policies contribute their PETs directly. Template
// policies contribute only their k-anonymity PETs, deduplicated to one per
// template, with every k-anonymized member recorded as a quasi-identifier
// of the template. Templates flagged for k-map are routed to dedicated
// KMap jobs instead, which need a hierarchy for the template.
func (j *ARXletFromPrivacyPolicy) Generate(_ context.Context, kwargs engine.Args) ([]engine.Job, error) {
	if err := j.VerifyParameters(kwargs, paramPrivacyPolicyLocation, paramHierarchyPolicyLocation); err != nil {
		return nil, err
	}
	privacyLocation, err := stringArg(kwargs, paramPrivacyPolicyLocation)
	if err != nil {
		return nil, err
	}
	hierarchyLocation, err := stringArg(kwargs, paramHierarchyPolicyLocation)
	if err != nil {
		return nil, err
	}
	privacy, err := engine.EnvValue[*models.PrivacyPolicy](j.Env(), privacyLocation)
	if err != nil {
		return nil, err
	}
	hierarchyPolicy, err := engine.EnvValue[*models.HierarchyPolicy](j.Env(), hierarchyLocation)
	if err != nil {
		return nil, err
	}
	url, err := optionalStringArg(kwargs, paramARXletURL, j.deps.Config.Services.ARXlet.URL)
	if err != nil {
		return nil, err
	}

	allPets := make([]arxlet.Pet, 0)
	attributeNames := make([]string, 0, len(privacy.Attributes))
	for _, attributePolicy := range privacy.Attributes {
		for _, policyPet := range attributePolicy.Pets {
			name := attributePolicy.Name
			pet, err := arxlet.PetFromScheme(policyPet.Scheme, policyPet.Metadata, &name, nil)
			if err != nil {
				j.Logger().Info().Str("job", j.Name()).Str("scheme", policyPet.Scheme).Msg("Unknown ARXlet PET scheme, skipping")
				continue
			}
			allPets = append(allPets, pet)
		}
		attributeNames = append(attributeNames, attributePolicy.Name)
	}

	type kMapTarget struct {
		target    objectTarget
		k         int
		hierarchy models.HierarchyObject
	}
	objectTargets := make([]objectTarget, 0, len(privacy.Templates))
	kMapTargets := make([]kMapTarget, 0)
	for _, template := range privacy.Templates {
		kAnonCount := 0
		sensitive := make(map[string]struct{})
		templatePets := make([]arxlet.Pet, 0)
		for _, attributePolicy := range template.Attributes {
			for _, policyPet := range attributePolicy.Pets {
				name := attributePolicy.Name
				pet, err := arxlet.PetFromScheme(policyPet.Scheme, policyPet.Metadata, &name, nil)
				if err != nil {
					j.Logger().Info().Str("job", j.Name()).Str("scheme", policyPet.Scheme).Msg("Unknown ARXlet PET scheme, skipping")
					continue
				}
				if pet.Scheme != arxlet.SchemeKAnonymity {
					continue
				}
				// When multiple members carry k-anonymity, apply it once
				// and treat every such member as a quasi-identifier.
				kAnonCount++
				sensitive[attributePolicy.Name] = struct{}{}
				if kAnonCount > 1 {
					continue
				}
				templatePets = append(templatePets, pet)
			}
		}
		memberNames := make([]string, 0, len(sensitive))
		for name := range sensitive {
			memberNames = append(memberNames, name)
		}
		sort.Strings(memberNames)
		target := objectTarget{Type: template.Name, Values: memberNames}
		objectTargets = append(objectTargets, target)

		if template.KMap {
			var hierarchy *models.HierarchyObject
			for i := range hierarchyPolicy.HierarchyObjects {
				if hierarchyPolicy.HierarchyObjects[i].MispObjectTemplate == template.Name {
					hierarchy = &hierarchyPolicy.HierarchyObjects[i]
					break
				}
			}
			if hierarchy == nil {
				return nil, engine.NewJobError("No hierarchy for object %q", template.Name)
			}
			kMapTargets = append(kMapTargets, kMapTarget{target: target, k: template.K, hierarchy: *hierarchy})
		} else {
			allPets = append(allPets, templatePets...)
		}
	}

	generated := make([]engine.Job, 0, 1+len(kMapTargets))
	fromPetsArgs := engine.Args{
		paramPets:                 anySlice(allPets),
		paramAttributes:           attributeNames,
		paramObjects:              anySlice(objectTargets),
		paramAttributeHierarchies: anySlice(hierarchyPolicy.HierarchyAttributes),
		paramObjectHierarchies:    anySlice(hierarchyPolicy.HierarchyObjects),
		paramARXletURL:            url,
	}
	generated = append(generated, &ARXletFromPets{arxletJob: newARXletChildJob("apply_pets", j, fromPetsArgs, j.deps)})

	for _, entry := range kMapTargets {
		kMapArgs := engine.Args{
			paramK:               entry.k,
			paramObject:          entry.target,
			paramObjectHierarchy: entry.hierarchy,
			paramARXletURL:       url,
		}
		child := &KMap{ARXletFromPets{arxletJob: newARXletChildJob("apply_k_map_"+entry.target.Type, j, kMapArgs, j.deps)}}
		generated = append(generated, child)
	}
	return generated, nil
}

// ARXletFromPets applies a collection of PETs to the data model through
// ARXlet.
//
// Parameters:
//
//   - pets: the PETs to apply, as Pet models, maps or JSON strings.
//   - attributes: standalone attribute types to anonymize. Can be empty.
//   - objects: object targets to anonymize, each naming a type and its
//     member attribute types.
//   - attribute_hierarchies: one hierarchy per entry in attributes.
//   - object_hierarchies: one hierarchy per entry in objects.
//   - arxlet_url (optional): alternative ARXlet endpoint.
type ARXletFromPets struct {
	arxletJob
}

// NewARXletFromPetsFactory builds the arxlet FromPets factory.
func NewARXletFromPetsFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}
	}
}

// Run prepares the PET set and anonymizes each listed attribute type and
// object target in turn. Each attribute type and object needs a matching
// hierarchy; when several hierarchies name the same type the last one wins.
// Types without matching components in the data model are skipped.
func (j *ARXletFromPets) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramPets, paramAttributes, paramObjects, paramAttributeHierarchies, paramObjectHierarchies); err != nil {
		return nil, err
	}
	data, err := j.AnonymizableComponents()
	if err != nil {
		return nil, err
	}
	rawPets, err := listArg(kwargs, paramPets)
	if err != nil {
		return nil, err
	}
	attributeNames, err := stringListArg(kwargs, paramAttributes)
	if err != nil {
		return nil, err
	}
	rawObjects, err := listArg(kwargs, paramObjects)
	if err != nil {
		return nil, err
	}
	attributeHierarchies, err := listArg(kwargs, paramAttributeHierarchies)
	if err != nil {
		return nil, err
	}
	objectHierarchies, err := listArg(kwargs, paramObjectHierarchies)
	if err != nil {
		return nil, err
	}

	pets, err := j.preparePets(rawPets)
	if err != nil {
		return nil, err
	}
	j.Logger().Debug().Str("job", j.Name()).Int("count", len(pets)).Msg("Prepared PETs")
	if len(pets) == 0 {
		j.Logger().Info().Str("job", j.Name()).Msg("No PETs to apply")
		return nil, nil
	}

	url, err := j.arxletURL(kwargs)
	if err != nil {
		return nil, err
	}
	client := clients.NewARXletClient(url, j.deps.Config.Services.ARXlet.Connection, j.Logger())

	for _, attributeName := range attributeNames {
		var hierarchy *models.HierarchyAttribute
		for _, rawHierarchy := range attributeHierarchies {
			candidate, err := engine.ParseArgAs[models.HierarchyAttribute](rawHierarchy)
			if err != nil {
				return nil, engine.WrapJobError(err, "unable to parse an attribute hierarchy")
			}
			if candidate.AttributeName == attributeName {
				hierarchy = candidate
			}
		}
		if hierarchy == nil {
			return nil, engine.NewJobError("No hierarchy for attribute %q", attributeName)
		}
		extracted := engine.ExtractAttributes(data, models.TypeAnonymizableByARXlet, attributeName)
		prepared, err := j.prepareAttributes(extracted, hierarchy)
		if err != nil {
			return nil, err
		}
		j.Logger().Debug().Str("job", j.Name()).Int("count", len(prepared)).Str("attribute", attributeName).Msg("Prepared attributes")
		if len(prepared) == 0 {
			continue
		}
		values, err := client.AnonymizeAttributes(ctx, &arxlet.AttributeRequest{Data: prepared, Pets: pets})
		if err != nil {
			return nil, wrapClientFailure(err)
		}
		if values == nil {
			return nil, engine.NewJobError("ARXlet request failed")
		}
		if err := updateAttributes(extracted, values); err != nil {
			return nil, err
		}
	}

	for _, rawTarget := range rawObjects {
		target, err := engine.ParseArgAs[objectTarget](rawTarget)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to parse a target object")
		}
		var hierarchy *models.HierarchyObject
		for _, rawHierarchy := range objectHierarchies {
			candidate, err := engine.ParseArgAs[models.HierarchyObject](rawHierarchy)
			if err != nil {
				return nil, engine.WrapJobError(err, "unable to parse an object hierarchy")
			}
			if candidate.MispObjectTemplate == target.Type {
				hierarchy = candidate
			}
		}
		if hierarchy == nil {
			return nil, engine.NewJobError("No hierarchy for object %q", target.Type)
		}
		extracted := engine.ExtractObjects(data, models.TypeAnonymizableByARXlet, target.Type)

		// Prune members outside the target attribute types. The pruned
		// objects share the inner attributes, so value updates write
		// through to the data model.
		pruned := make([]*models.Object, 0, len(extracted))
		for _, object := range extracted {
			pruned = append(pruned, &models.Object{
				Name:  object.Name,
				Type:  object.Type.Clone(),
				Value: object.TypesSearch(target.Values...),
			})
		}
		prepared, err := j.prepareObjects(pruned, hierarchy, target.Values...)
		if err != nil {
			return nil, err
		}
		j.Logger().Debug().Str("job", j.Name()).Int("count", len(prepared)).Str("object", target.Type).Msg("Prepared objects")
		if len(prepared) == 0 {
			continue
		}
		rows, err := client.AnonymizeObjects(ctx, &arxlet.ObjectRequest{Data: prepared, Pets: pets})
		if err != nil {
			return nil, wrapClientFailure(err)
		}
		if rows == nil {
			return nil, engine.NewJobError("ARXlet request failed")
		}
		values := make([][]string, 0, len(rows))
		for _, row := range rows {
			rowValues := make([]string, 0, len(row))
			for _, attribute := range row {
				rowValues = append(rowValues, attribute.Value)
			}
			values = append(values, rowValues)
		}
		if err := updateObjects(pruned, values, models.TypeAnonymizableByARXlet); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// KAnonymity applies k-anonymity through FromPets.
//
// Parameters are those of ARXletFromPets minus pets, plus:
//
//   - k: the k value.
type KAnonymity struct {
	ARXletFromPets
}

// NewKAnonymityFactory builds the k-anonymity factory.
func NewKAnonymityFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &KAnonymity{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the k-anonymity PET and delegates to FromPets.
func (j *KAnonymity) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramK); err != nil {
		return nil, err
	}
	k, err := intArg(kwargs, paramK)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeKAnonymity, Metadata: arxlet.KAnonMetadata{K: k}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// DistinctLDiversity applies distinct l-diversity to a sensitive attribute
// through FromPets.
//
// Parameters are those of ARXletFromPets minus pets, plus:
//
//   - l: the l value.
//   - sensitive: the attribute type to mark as sensitive.
type DistinctLDiversity struct {
	ARXletFromPets
}

// NewDistinctLDiversityFactory builds the distinct l-diversity factory.
func NewDistinctLDiversityFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &DistinctLDiversity{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the distinct l-diversity PET and delegates to FromPets.
func (j *DistinctLDiversity) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSensitive, paramL); err != nil {
		return nil, err
	}
	sensitive, err := stringArg(kwargs, paramSensitive)
	if err != nil {
		return nil, err
	}
	l, err := intArg(kwargs, paramL)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeDistinctLDiversity, Metadata: arxlet.LDivMetadata{Attribute: sensitive, L: l}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// EntropyLDiversity applies entropy l-diversity to a sensitive attribute
// through FromPets.
//
// Parameters are those of DistinctLDiversity.
type EntropyLDiversity struct {
	ARXletFromPets
}

// NewEntropyLDiversityFactory builds the entropy l-diversity factory.
func NewEntropyLDiversityFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &EntropyLDiversity{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the entropy l-diversity PET and delegates to FromPets.
func (j *EntropyLDiversity) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSensitive, paramL); err != nil {
		return nil, err
	}
	sensitive, err := stringArg(kwargs, paramSensitive)
	if err != nil {
		return nil, err
	}
	l, err := intArg(kwargs, paramL)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeEntropyLDiversity, Metadata: arxlet.LDivMetadata{Attribute: sensitive, L: l}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// RecursiveCLDiversity applies recursive (c,l)-diversity to a sensitive
// attribute through FromPets.
//
// Parameters are those of DistinctLDiversity, plus:
//
//   - c: the c value.
type RecursiveCLDiversity struct {
	ARXletFromPets
}

// NewRecursiveCLDiversityFactory builds the recursive (c,l)-diversity
// factory.
func NewRecursiveCLDiversityFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &RecursiveCLDiversity{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the recursive (c,l)-diversity PET and delegates to FromPets.
func (j *RecursiveCLDiversity) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSensitive, paramL, paramC); err != nil {
		return nil, err
	}
	sensitive, err := stringArg(kwargs, paramSensitive)
	if err != nil {
		return nil, err
	}
	l, err := intArg(kwargs, paramL)
	if err != nil {
		return nil, err
	}
	c, err := floatArg(kwargs, paramC)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeRecursiveLDiversity, Metadata: arxlet.CLDivMetadata{Attribute: sensitive, L: l, C: c}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// HierarchicalTCloseness applies hierarchical distance t-closeness to a
// sensitive attribute through FromPets.
//
// Parameters are those of ARXletFromPets minus pets, plus:
//
//   - t: the t value.
//   - sensitive: the attribute type to mark as sensitive.
type HierarchicalTCloseness struct {
	ARXletFromPets
}

// NewHierarchicalTClosenessFactory builds the hierarchical t-closeness
// factory.
func NewHierarchicalTClosenessFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &HierarchicalTCloseness{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the hierarchical t-closeness PET and delegates to FromPets.
func (j *HierarchicalTCloseness) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSensitive, paramT); err != nil {
		return nil, err
	}
	sensitive, err := stringArg(kwargs, paramSensitive)
	if err != nil {
		return nil, err
	}
	t, err := floatArg(kwargs, paramT)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeHierarchicalTClo, Metadata: arxlet.TCloMetadata{Attribute: sensitive, T: t}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// OrderedTCloseness applies ordered distance t-closeness to a sensitive
// attribute through FromPets.
//
// Parameters are those of HierarchicalTCloseness.
type OrderedTCloseness struct {
	ARXletFromPets
}

// NewOrderedTClosenessFactory builds the ordered t-closeness factory.
func NewOrderedTClosenessFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &OrderedTCloseness{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run builds the ordered t-closeness PET and delegates to FromPets.
func (j *OrderedTCloseness) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSensitive, paramT); err != nil {
		return nil, err
	}
	sensitive, err := stringArg(kwargs, paramSensitive)
	if err != nil {
		return nil, err
	}
	t, err := floatArg(kwargs, paramT)
	if err != nil {
		return nil, err
	}
	pet := arxlet.Pet{Scheme: arxlet.SchemeOrderedTClo, Metadata: arxlet.TCloMetadata{Attribute: sensitive, T: t}}
	return j.ARXletFromPets.Run(ctx, withPets(kwargs, pet))
}

// KMap applies k-map to one object target, using earlier requests recorded
// in the context store as the re-identification population.
//
// Parameters:
//
//   - k: the k value.
//   - object: the object target, naming a type and its member attribute
//     types.
//   - object_hierarchy: the hierarchy of the target type.
//   - arxlet_url (optional): alternative ARXlet endpoint.
type KMap struct {
	ARXletFromPets
}

// NewKMapFactory builds the k-map factory.
func NewKMapFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &KMap{ARXletFromPets{arxletJob: newARXletJob(name, env, args, deps)}}
	}
}

// Run gathers the population context, builds the k-map PET and delegates
// to FromPets with the single object target.
func (j *KMap) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramK, paramObject, paramObjectHierarchy); err != nil {
		return nil, err
	}
	k, err := intArg(kwargs, paramK)
	if err != nil {
		return nil, err
	}
	target, err := engine.ParseArgAs[objectTarget](kwargs[paramObject])
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to parse the target object")
	}
	hierarchy, err := engine.ParseArgAs[models.HierarchyObject](kwargs[paramObjectHierarchy])
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to parse the object hierarchy")
	}
	url, err := optionalStringArg(kwargs, paramARXletURL, j.deps.Config.Services.ARXlet.URL)
	if err != nil {
		return nil, err
	}

	stored, err := j.deps.Contexts.Lookup(ctx, interfaces.ContextQuery{DataTypes: []string{target.Type}, DataAll: true})
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to look up the anonymization context")
	}
	population := make([][]arxlet.ObjectData, 0, len(stored))
	count := 0
	for _, request := range stored {
		objects := engine.ExtractObjects(request.Data, models.TypeAnonymizableByARXlet, target.Type)
		rows, err := j.prepareObjects(objects, hierarchy, target.Values...)
		if err != nil {
			return nil, err
		}
		population = append(population, rows)
		count += len(rows)
	}
	j.Logger().Debug().Str("job", j.Name()).Int("count", count).Msg("Obtained objects from the context database")

	pet := arxlet.Pet{Scheme: arxlet.SchemeKMap, Metadata: arxlet.KMapMetadata{K: k, Context: population}}
	return j.ARXletFromPets.Run(ctx, engine.Args{
		paramPets:                 []any{pet},
		paramObjects:              []any{*target},
		paramObjectHierarchies:    []any{*hierarchy},
		paramAttributes:           []string{},
		paramAttributeHierarchies: []any{},
		paramARXletURL:            url,
	})
}
