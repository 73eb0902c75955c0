package jobs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
)

// PET schemes the local job family applies without an external service.
const (
	schemeSuppression    = "suppression"
	schemeGeneralization = "generalization"
	schemePGP            = "pgp"
)

func localScheme(scheme string) bool {
	return scheme == schemeSuppression || scheme == schemeGeneralization || scheme == schemePGP
}

// localJob is the shared base of the locally applied job family. It narrows
// the anonymizable working set to the local family tag and carries the
// shared dependencies.
type localJob struct {
	engine.BaseJob
	deps *Dependencies
}

func newLocalJob(name string, env *engine.Env, args engine.Args, deps *Dependencies) localJob {
	base := engine.NewBaseJob(name, env, args)
	base.SetAnonymizableType(models.TypeAnonymizableByLocal)
	return localJob{BaseJob: base, deps: deps}
}

func newLocalChildJob(name string, generator engine.Job, args engine.Args, deps *Dependencies) localJob {
	base := engine.NewChildJob(name, generator, args)
	base.SetAnonymizableType(models.TypeAnonymizableByLocal)
	return localJob{BaseJob: base, deps: deps}
}

// lookupAttributes selects the attributes to anonymize: the top-level
// attributes when no object types are given, otherwise the members of the
// top-level objects carrying any of the given types.
func lookupAttributes(data []models.Component, objectTypes []string) []*models.Attribute {
	lookup := make([]*models.Attribute, 0)
	if len(objectTypes) == 0 {
		for _, component := range data {
			if attribute, ok := component.(*models.Attribute); ok {
				lookup = append(lookup, attribute)
			}
		}
		return lookup
	}
	for _, component := range data {
		object, ok := component.(*models.Object)
		if !ok || !object.GetTypes().HasAny(objectTypes...) {
			continue
		}
		for _, member := range object.Value {
			if attribute, ok := member.(*models.Attribute); ok {
				lookup = append(lookup, attribute)
			}
		}
	}
	return lookup
}

// matchAttributeType returns the first of the given attribute types the
// attribute carries.
func matchAttributeType(attribute *models.Attribute, names []string) (string, bool) {
	for _, name := range names {
		if attribute.TypeIs(name) {
			return name, true
		}
	}
	return "", false
}

// ApplyAnonymizationLevel replaces attribute values with the entry at a
// fixed level of their generalization ladder. Level zero is the original
// value; the ladder must be deeper than the requested level.
//
// Parameters:
//
//   - level: the generalization level to apply.
//   - attributes: attribute types to generalize. Can be empty.
//   - objects: top-level object types to look up attributes in. When
//     empty, only top-level attributes are generalized.
//   - attribute_hierarchies: one hierarchy per entry in attributes.
type ApplyAnonymizationLevel struct {
	localJob
}

// NewApplyAnonymizationLevelFactory builds the generalization factory.
func NewApplyAnonymizationLevelFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &ApplyAnonymizationLevel{localJob: newLocalJob(name, env, args, deps)}
	}
}

// Run generalizes every matching attribute.
func (j *ApplyAnonymizationLevel) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramLevel, paramAttributes, paramObjects, paramAttributeHierarchies); err != nil {
		return nil, err
	}
	data, err := j.AnonymizableComponents()
	if err != nil {
		return nil, err
	}
	level, err := intArg(kwargs, paramLevel)
	if err != nil {
		return nil, err
	}
	attributeNames, err := stringListArg(kwargs, paramAttributes)
	if err != nil {
		return nil, err
	}
	objectNames, err := stringListArg(kwargs, paramObjects)
	if err != nil {
		return nil, err
	}
	rawHierarchies, err := listArg(kwargs, paramAttributeHierarchies)
	if err != nil {
		return nil, err
	}

	j.Logger().Debug().Str("job", j.Name()).Int("count", len(attributeNames)).Msg("Applying suppression")
	lookup := lookupAttributes(data, objectNames)
	j.Logger().Debug().Str("job", j.Name()).Int("count", len(lookup)).Msg("Lookup list generated")

	hierarchies := make(map[string]*models.HierarchyAttribute, len(rawHierarchies))
	for _, rawHierarchy := range rawHierarchies {
		hierarchy, err := engine.ParseArgAs[models.HierarchyAttribute](rawHierarchy)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to parse an attribute hierarchy")
		}
		hierarchies[hierarchy.AttributeName] = hierarchy
	}

	for _, attribute := range lookup {
		name, ok := matchAttributeType(attribute, attributeNames)
		if !ok {
			continue
		}
		hierarchy, ok := hierarchies[name]
		if !ok {
			return nil, engine.NewJobError("No hierarchy for attribute %q", name)
		}
		ladder, err := hierarchy.Resolve(attribute.Value)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to resolve the hierarchy for attribute %q", name)
		}
		if len(ladder) <= level {
			j.Logger().Debug().Str("job", j.Name()).Int("level", level).Int("count", len(ladder)).Msg("Not enough generalization levels")
			return nil, engine.NewJobError("Not enough generalization levels for attribute %s", attribute.Name)
		}
		attribute.Value = ladder[level]
	}
	return nil, nil
}

// ApplyPGPEncryption replaces attribute values with their PGP encryption
// under a configured public key.
//
// Parameters:
//
//   - key: filename of the armored key, resolved inside the key directory.
//   - attributes: attribute types to encrypt. Can be empty.
//   - objects: top-level object types to look up attributes in. When
//     empty, only top-level attributes are encrypted.
type ApplyPGPEncryption struct {
	localJob
}

// NewApplyPGPEncryptionFactory builds the PGP encryption factory.
func NewApplyPGPEncryptionFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &ApplyPGPEncryption{localJob: newLocalJob(name, env, args, deps)}
	}
}

// readKeyRing loads the named key file, accepting both armored and binary
// serializations.
func (j *ApplyPGPEncryption) readKeyRing(filename string) (openpgp.EntityList, error) {
	raw, err := os.ReadFile(filepath.Join(j.deps.PGPKeyDir, filename))
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to read PGP key %q", filename)
	}
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to parse PGP key %q", filename)
	}
	return entities, nil
}

// encryptArmored encrypts value to the keyring and returns the armored
// message.
func encryptArmored(value string, entities openpgp.EntityList) (string, error) {
	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", err
	}
	plaintext, err := openpgp.Encrypt(armored, entities, nil, nil, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(plaintext, value); err != nil {
		return "", err
	}
	if err := plaintext.Close(); err != nil {
		return "", err
	}
	if err := armored.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Run encrypts every matching attribute.
func (j *ApplyPGPEncryption) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramKey, paramAttributes, paramObjects); err != nil {
		return nil, err
	}
	data, err := j.AnonymizableComponents()
	if err != nil {
		return nil, err
	}
	keyName, err := stringArg(kwargs, paramKey)
	if err != nil {
		return nil, err
	}
	attributeNames, err := stringListArg(kwargs, paramAttributes)
	if err != nil {
		return nil, err
	}
	objectNames, err := stringListArg(kwargs, paramObjects)
	if err != nil {
		return nil, err
	}

	j.Logger().Debug().Str("job", j.Name()).Str("key", keyName).Int("count", len(attributeNames)).Msg("Applying PGP encryption")
	lookup := lookupAttributes(data, objectNames)
	j.Logger().Debug().Str("job", j.Name()).Int("count", len(lookup)).Msg("Lookup list generated")

	entities, err := j.readKeyRing(keyName)
	if err != nil {
		return nil, err
	}

	for _, attribute := range lookup {
		if _, ok := matchAttributeType(attribute, attributeNames); !ok {
			continue
		}
		encrypted, err := encryptArmored(attribute.Value, entities)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to encrypt attribute %q", attribute.Name)
		}
		attribute.Value = encrypted
	}
	return nil, nil
}

// LocalFromPets generates the local jobs for a collection of PETs: one
// generalization job per suppression or generalization PET, one encryption
// job per pgp PET. PETs with other schemes are skipped.
//
// Parameters:
//
//   - pets: the PETs to apply, as Pet models, maps or JSON strings.
//   - attributes: attribute types to anonymize. Can be empty.
//   - objects: top-level object types to look up attributes in.
//   - attribute_hierarchies: one hierarchy per entry in attributes.
type LocalFromPets struct {
	engine.BaseGeneratorJob
	deps *Dependencies
}

// NewLocalFromPetsFactory builds the local FromPets factory.
func NewLocalFromPetsFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &LocalFromPets{
			BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewBaseJob(name, env, args)},
			deps:             deps,
		}
	}
}

// Generate derives one job per recognized PET.
func (j *LocalFromPets) Generate(_ context.Context, kwargs engine.Args) ([]engine.Job, error) {
	if err := j.VerifyParameters(kwargs, paramPets, paramAttributes, paramObjects, paramAttributeHierarchies); err != nil {
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
	objectNames, err := stringListArg(kwargs, paramObjects)
	if err != nil {
		return nil, err
	}
	rawHierarchies, err := listArg(kwargs, paramAttributeHierarchies)
	if err != nil {
		return nil, err
	}

	pets := make([]*models.Pet, 0, len(rawPets))
	for _, rawPet := range rawPets {
		pet, err := engine.ParseArgAs[models.Pet](rawPet)
		if err != nil {
			return nil, engine.WrapJobError(err, "unable to parse a PET")
		}
		if !localScheme(pet.Scheme) {
			j.Logger().Info().Str("job", j.Name()).Str("scheme", pet.Scheme).Msg("Unknown Local PET scheme, skipping")
			continue
		}
		pets = append(pets, pet)
	}
	j.Logger().Debug().Str("job", j.Name()).Int("count", len(pets)).Msg("Prepared PETs")

	generated := make([]engine.Job, 0, len(pets))
	for _, pet := range pets {
		switch pet.Scheme {
		case schemeSuppression, schemeGeneralization:
			args := engine.Args{
				paramLevel:                pet.Metadata.Level,
				paramAttributes:           attributeNames,
				paramObjects:              objectNames,
				paramAttributeHierarchies: rawHierarchies,
			}
			generated = append(generated, &ApplyAnonymizationLevel{localJob: newLocalChildJob("apply-suppression", j, args, j.deps)})
		case schemePGP:
			args := engine.Args{
				paramKey:        "key.gpg",
				paramAttributes: attributeNames,
				paramObjects:    objectNames,
			}
			generated = append(generated, &ApplyPGPEncryption{localJob: newLocalChildJob("apply-pgp", j, args, j.deps)})
		}
	}
	return generated, nil
}

// LocalFromPrivacyPolicy walks the privacy and hierarchy policies stored
// in the environment and generates one FromPets run covering every local
// PET they carry. Both policies must have been parsed into the environment
// by an earlier job.
//
// Parameters:
//
//   - privacy_policy_location: environment attribute of the privacy policy.
//   - hierarchy_policy_location: environment attribute of the hierarchy
//     policy.
type LocalFromPrivacyPolicy struct {
	engine.BaseGeneratorJob
	deps *Dependencies
}

// NewLocalFromPrivacyPolicyFactory builds the factory for the policy
// generator.
func NewLocalFromPrivacyPolicyFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &LocalFromPrivacyPolicy{
			BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewBaseJob(name, env, args)},
			deps:             deps,
		}
	}
}

// Generate collects the local PETs of the attribute policies and object
// templates, along with the attribute types, object types and hierarchies
// they touch, and produces one FromPets job when any were found. Template
// hierarchies are appended to the standalone attribute hierarchies.
func (j *LocalFromPrivacyPolicy) Generate(_ context.Context, kwargs engine.Args) ([]engine.Job, error) {
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

	pets := make([]models.Pet, 0)
	attributeNames := make([]string, 0)
	objectNames := make([]string, 0)
	hierarchies := make([]models.HierarchyAttribute, 0, len(hierarchyPolicy.HierarchyAttributes))
	hierarchies = append(hierarchies, hierarchyPolicy.HierarchyAttributes...)

	for _, attributePolicy := range privacy.Attributes {
		used := false
		for _, pet := range attributePolicy.Pets {
			if localScheme(pet.Scheme) {
				used = true
				pets = append(pets, pet)
			}
		}
		if used {
			attributeNames = append(attributeNames, attributePolicy.Name)
		}
	}

	for _, template := range privacy.Templates {
		used := false
		for _, attributePolicy := range template.Attributes {
			memberUsed := false
			for _, pet := range attributePolicy.Pets {
				if localScheme(pet.Scheme) {
					used = true
					memberUsed = true
					pets = append(pets, pet)
				}
			}
			if memberUsed {
				attributeNames = append(attributeNames, attributePolicy.Name)
			}
		}
		if used {
			objectNames = append(objectNames, template.Name)
			for _, hierarchyObject := range hierarchyPolicy.HierarchyObjects {
				if hierarchyObject.MispObjectTemplate == template.Name {
					hierarchies = append(hierarchies, hierarchyObject.AttributeHierarchies...)
				}
			}
		}
	}

	if len(pets) == 0 {
		return []engine.Job{}, nil
	}
	args := engine.Args{
		paramPets:                 anySlice(pets),
		paramAttributes:           attributeNames,
		paramObjects:              objectNames,
		paramAttributeHierarchies: anySlice(hierarchies),
		paramObjectHierarchies:    anySlice(hierarchyPolicy.HierarchyObjects),
	}
	child := &LocalFromPets{
		BaseGeneratorJob: engine.BaseGeneratorJob{BaseJob: engine.NewChildJob("from-pets", j, args)},
		deps:             j.deps,
	}
	return []engine.Job{child}, nil
}
