package jobs

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
)

// MQTTPublish publishes a JSON-serializable environment value to an MQTT
// topic. Connection settings come from the service configuration unless
// overridden by arguments.
//
// Parameters:
//
//   - location: environment attribute holding the payload.
//   - topic (optional): an alternative topic.
//   - mqtt_host, mqtt_port, mqtt_username, mqtt_password, mqtt_ssl
//     (optional): connection overrides. A password of "None" disables
//     authentication even when the configuration has one.
type MQTTPublish struct {
	engine.BaseJob
	deps *Dependencies
}

// NewMQTTPublishFactory builds the MQTTPublish factory.
func NewMQTTPublishFactory(deps *Dependencies) engine.Factory {
	return func(name string, env *engine.Env, args engine.Args) engine.Job {
		return &MQTTPublish{BaseJob: engine.NewBaseJob(name, env, args), deps: deps}
	}
}

// Run serializes and publishes the payload.
func (j *MQTTPublish) Run(ctx context.Context, kwargs engine.Args) (any, error) {
	if err := j.VerifyParameters(kwargs, paramLocation); err != nil {
		return nil, err
	}
	location, err := stringArg(kwargs, paramLocation)
	if err != nil {
		return nil, err
	}
	cfg := j.deps.Config.Services.MQTT
	topic, err := optionalStringArg(kwargs, paramTopic, cfg.Topic)
	if err != nil {
		return nil, err
	}
	cfg.Host, err = optionalStringArg(kwargs, paramMQTTHost, cfg.Host)
	if err != nil {
		return nil, err
	}
	if _, ok := kwargs[paramMQTTPort]; ok {
		cfg.Port, err = intArg(kwargs, paramMQTTPort)
		if err != nil {
			return nil, err
		}
	}
	cfg.Username, err = optionalStringArg(kwargs, paramMQTTUsername, cfg.Username)
	if err != nil {
		return nil, err
	}
	password, err := optionalStringArg(kwargs, paramMQTTPassword, cfg.Password.Value())
	if err != nil {
		return nil, err
	}
	if password == "None" {
		password = ""
	}
	cfg.Password = common.Secret(password)
	cfg.SSL = optionalBoolArg(kwargs, paramMQTTSSL, cfg.SSL)
	cfg.Topic = topic

	j.Logger().Info().Str("job", j.Name()).Str("location", location).Msg("Retrieving MQTT payload")
	payload, ok := j.Env().Get(location)
	if !ok {
		return nil, engine.NewJobError("environment attribute not found: %s", location)
	}
	if _, err := json.Marshal(payload); err != nil {
		return nil, engine.WrapJobError(err, "Unserializable MQTT payload")
	}

	j.Logger().Info().Str("job", j.Name()).Str("topic", topic).Msg("Publishing MQTT message")
	publisher, err := j.deps.Publisher(ctx, cfg, j.Logger())
	if err != nil {
		return nil, wrapClientFailure(err)
	}
	defer publisher.Close()
	if err := publisher.Publish(ctx, topic, payload); err != nil {
		return nil, wrapClientFailure(err)
	}
	return nil, nil
}
