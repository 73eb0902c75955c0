package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models/misp"
	"github.com/ternarybob/tego/internal/models/stix"
)

// legacyOrgName namespaces STIX 1.x identifiers, matching the converter
// the service replaces.
const legacyOrgName = "Test"

// StixPong replies with a STIX document stored in the environment.
//
// Parameters:
//
//   - object_location: environment attribute holding the document.
type StixPong struct {
	engine.BaseJob
}

// NewStixPong builds a StixPong job.
func NewStixPong(name string, env *engine.Env, args engine.Args) engine.Job {
	return &StixPong{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run sets the JSON response to the document.
func (j *StixPong) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramObjectLocation); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramObjectLocation)
	if err != nil {
		return nil, err
	}
	document, err := engine.EnvValue[map[string]any](j.Env(), location)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(document)
	if err != nil {
		return nil, engine.WrapJobError(err, "Unserializable STIX object")
	}
	j.Env().Set(engine.EnvResponse, engine.NewJSONResponse(http.StatusOK, json.RawMessage(raw)))
	return nil, nil
}

// TransformMISPEvent converts a MISP event from the environment into a
// STIX document and stores it at another location. STIX 2.1 is the
// default; 2.0 and the legacy 1.x serializations are selectable.
//
// Parameters:
//
//   - event_location: environment attribute holding the event.
//   - destination: environment attribute to store the document at. An
//     existing value is overridden.
//   - stix_version (optional): one of 1.1.1, 1.2, 2.0 or 2.1. Other 1.x
//     values fall back to 1.1.1.
type TransformMISPEvent struct {
	engine.BaseJob
}

// NewTransformMISPEvent builds a TransformMISPEvent job.
func NewTransformMISPEvent(name string, env *engine.Env, args engine.Args) engine.Job {
	return &TransformMISPEvent{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run converts the event and stores the resulting document.
func (j *TransformMISPEvent) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramEventLocation, paramDestination); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramEventLocation)
	if err != nil {
		return nil, err
	}
	destination, err := stringArg(kwargs, paramDestination)
	if err != nil {
		return nil, err
	}
	version, err := optionalStringArg(kwargs, paramStixVersion, stix.Version21)
	if err != nil {
		return nil, err
	}

	j.Logger().Info().Str("job", j.Name()).Msg("Retrieving MISP event")
	event, err := engine.EnvValue[*misp.Event](j.Env(), location)
	if err != nil {
		return nil, err
	}

	j.Logger().Info().Str("job", j.Name()).Str("version", version).Msg("Parsing MISP event")
	var document any
	switch {
	case strings.HasPrefix(version, "1"):
		legacyVersion := stix.Version111
		if version == stix.Version111 || version == stix.Version12 {
			legacyVersion = version
		}
		document, err = stix.LegacyPackageFromEvent(event, legacyOrgName, legacyVersion)
	case version == stix.Version21 || version == stix.Version20:
		document, err = stix.Converter{SpecVersion: version}.Bundle(event)
	default:
		return nil, engine.NewJobError("Invalid STIX version")
	}
	if err != nil {
		return nil, engine.WrapJobError(err, "Missing required field in MISP event")
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to serialize the STIX document")
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, engine.WrapJobError(err, "unable to serialize the STIX document")
	}

	j.Logger().Info().Str("job", j.Name()).Str("destination", destination).Msg("Storing STIX object")
	if j.Env().Has(destination) {
		j.Logger().Warn().Str("job", j.Name()).Str("destination", destination).Msg("Overriding existing object")
	}
	j.Env().Set(destination, result)
	return nil, nil
}
