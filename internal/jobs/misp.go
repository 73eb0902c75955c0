package jobs

import (
	"context"

	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/models"
	"github.com/ternarybob/tego/internal/models/misp"
	"github.com/ternarybob/tego/internal/transformers"
)

// UpdateEvent copies the anonymized request values back into a MISP event
// held in the environment. The event must have been produced by the MISP
// transformer, so every event component resolves to a data component.
//
// Parameters:
//
//   - event_location: environment attribute holding the EventAnon.
type UpdateEvent struct {
	engine.BaseJob
}

// NewUpdateEvent builds an UpdateEvent job.
func NewUpdateEvent(name string, env *engine.Env, args engine.Args) engine.Job {
	return &UpdateEvent{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run rewrites the event attributes in place.
func (j *UpdateEvent) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramEventLocation); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramEventLocation)
	if err != nil {
		return nil, err
	}
	event, err := engine.EnvValue[*misp.EventAnon](j.Env(), location)
	if err != nil {
		return nil, err
	}
	data, err := j.Data()
	if err != nil {
		return nil, err
	}
	j.Logger().Info().Str("job", j.Name()).Msg("Updating event")
	updated, err := (&transformers.MispTransformer{}).Update(event, data)
	if err != nil {
		return nil, engine.WrapJobError(err, "unable to update the MISP event")
	}
	j.Logger().Info().Str("job", j.Name()).Bool("updated", updated).Msg("Event update finished")
	return nil, nil
}

// PostEvent uploads a MISP event from the environment to a MISP instance
// and marks the request audit as uploaded. Connection settings come from
// the service configuration unless overridden by arguments.
//
// Parameters:
//
//   - event_location: environment attribute holding the event.
//   - publish: whether to also publish the event.
//   - event_anon (optional): the location holds an EventAnon instead of a
//     plain event. Defaults to false.
//   - misp_url, misp_key, misp_ssl (optional): connection overrides.
type PostEvent struct {
	engine.BaseJob
	deps *Dependencies
}

// NewPostEventFactory builds the PostEvent factory.
func NewPostEventFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &PostEvent{BaseJob: engine.NewBaseJob(name, env, args), deps: deps}
	}
}

// Run uploads the event and flips the audit flags on success.
func (j *PostEvent) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramEventLocation, paramPublish); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramEventLocation)
	if err != nil {
		return nil, err
	}
	publish := boolArg(kwargs, paramPublish)
	eventAnon := boolArg(kwargs, paramEventAnon)
	mispCfg := j.deps.Config.Services.MISP
	url, err := optionalStringArg(kwargs, paramMISPURL, mispCfg.URL)
	if err != nil {
		return nil, err
	}
	key, err := optionalStringArg(kwargs, paramMISPKey, mispCfg.Key.Value())
	if err != nil {
		return nil, err
	}
	ssl := optionalBoolArg(kwargs, paramMISPSSL, mispCfg.SSL)

	var event *misp.Event
	if eventAnon {
		anon, err := engine.EnvValue[*misp.EventAnon](j.Env(), location)
		if err != nil {
			return nil, err
		}
		event = &anon.Event
	} else {
		event, err = engine.EnvValue[*misp.Event](j.Env(), location)
		if err != nil {
			return nil, err
		}
	}

	client, err := clients.NewMISPClient(ctx, url, key, ssl, mispCfg.Connection, j.Logger())
	if err != nil {
		return nil, wrapClientFailure(err)
	}
	defer client.Close()

	j.Logger().Info().Str("job", j.Name()).Str("url", url).Msg("Uploading to MISP")
	success, err := client.PostEvent(ctx, event, publish)
	if err != nil {
		return nil, wrapClientFailure(err)
	}
	if !success {
		return nil, engine.NewJobError("Unable to upload MISP event")
	}
	j.Logger().Info().Str("job", j.Name()).Str("url", url).Msg("Uploaded event to MISP")

	timestamp, err := engine.EnvValue[float64](j.Env(), engine.EnvAuditTimestamp)
	if err != nil {
		return nil, err
	}
	if _, err := j.deps.Audits.UpdateAudit(ctx, timestamp, func(audit models.Audit) models.Audit {
		audit[models.AuditKeyUploaded] = true
		audit[models.AuditKeyPublished] = publish
		return audit
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// ExtractEventFromEventAnon pulls the inner MISP event out of an EventAnon
// and stores it at another environment location.
//
// Parameters:
//
//   - source: environment attribute holding the EventAnon.
//   - destination: environment attribute to store the event at. An
//     existing value is overridden.
type ExtractEventFromEventAnon struct {
	engine.BaseJob
}

// NewExtractEventFromEventAnon builds an ExtractEventFromEventAnon job.
func NewExtractEventFromEventAnon(name string, env *engine.Env, args engine.Args) engine.Job {
	return &ExtractEventFromEventAnon{BaseJob: engine.NewBaseJob(name, env, args)}
}

// Run moves the event between environment locations.
func (j *ExtractEventFromEventAnon) Run(_ context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramSource, paramDestination); err != nil {
		return nil, err
	}
	source, err := stringArg(kwargs, paramSource)
	if err != nil {
		return nil, err
	}
	destination, err := stringArg(kwargs, paramDestination)
	if err != nil {
		return nil, err
	}
	anon, err := engine.EnvValue[*misp.EventAnon](j.Env(), source)
	if err != nil {
		return nil, err
	}
	j.Logger().Info().Str("job", j.Name()).Str("destination", destination).Msg("Storing MISP event")
	if j.Env().Has(destination) {
		j.Logger().Warn().Str("job", j.Name()).Str("destination", destination).Msg("Overriding existing object")
	}
	j.Env().Set(destination, &anon.Event)
	return nil, nil
}
