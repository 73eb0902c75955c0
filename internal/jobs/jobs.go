// Package jobs implements the job library pipeline descriptions bind to:
// diagnostic pongs, policy loading, context capture, the three
// anonymization families (ARXlet, FlaskDP, local) and the outbound MISP,
// MQTT and STIX jobs. Register wires every job type into an engine
// registry.
package jobs

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/clients"
	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/engine"
	"github.com/ternarybob/tego/internal/interfaces"
)

// Parameter names jobs read from their merged arguments.
const (
	paramAddress  = "address"
	paramLocation = "location"

	paramObjectLocation = "object_location"

	paramMessage = "message"
	paramFail    = "fail"
	paramJobs    = "jobs"

	paramPrivacyPolicyLocation   = "privacy_policy_location"
	paramHierarchyPolicyLocation = "hierarchy_policy_location"

	paramARXletURL            = "arxlet_url"
	paramPets                 = "pets"
	paramAttributes           = "attributes"
	paramObjects              = "objects"
	paramAttributeHierarchies = "attribute_hierarchies"
	paramObjectHierarchies    = "object_hierarchies"
	paramK                    = "k"
	paramL                    = "l"
	paramC                    = "c"
	paramT                    = "t"
	paramSensitive            = "sensitive"
	paramObject               = "object"
	paramObjectHierarchy      = "object_hierarchy"

	paramFlaskDPURL  = "flaskdp_url"
	paramTechnique   = "technique"
	paramEpsilon     = "epsilon"
	paramDelta       = "delta"
	paramSensitivity = "sensitivity"
	paramUpper       = "upper"
	paramLower       = "lower"

	paramLevel = "level"
	paramKey   = "key"

	paramEventLocation = "event_location"
	paramPublish       = "publish"
	paramEventAnon     = "event_anon"
	paramMISPURL       = "misp_url"
	paramMISPKey       = "misp_key"
	paramMISPSSL       = "misp_ssl"
	paramSource        = "source"
	paramDestination   = "destination"

	paramTopic        = "topic"
	paramMQTTHost     = "mqtt_host"
	paramMQTTPort     = "mqtt_port"
	paramMQTTUsername = "mqtt_username"
	paramMQTTPassword = "mqtt_password"
	paramMQTTSSL      = "mqtt_ssl"

	paramStixVersion = "stix_version"
)

// defaultPGPKeyDir is where local.ApplyPGPEncryption looks for key files.
const defaultPGPKeyDir = "resources/pgp"

// PublisherFactory builds the MQTT publisher mqtt.Publish sends through.
type PublisherFactory func(ctx context.Context, cfg common.MQTTConfig, logger arbor.ILogger) (interfaces.MQTTPublisher, error)

// Dependencies carries the shared state jobs need beyond their arguments:
// service configuration, the storage backends, the MQTT publisher factory
// and the PGP key directory.
type Dependencies struct {
	Config   *common.Config
	Contexts interfaces.ContextStore
	Audits   interfaces.AuditStore

	Publisher PublisherFactory
	PGPKeyDir string
}

// NewDependencies bundles the shared job state with the default MQTT
// publisher and key directory.
func NewDependencies(cfg *common.Config, contexts interfaces.ContextStore, audits interfaces.AuditStore) *Dependencies {
	return &Dependencies{
		Config:   cfg,
		Contexts: contexts,
		Audits:   audits,
		Publisher: func(ctx context.Context, mqttCfg common.MQTTConfig, logger arbor.ILogger) (interfaces.MQTTPublisher, error) {
			return clients.NewMQTTClient(ctx, mqttCfg, logger)
		},
		PGPKeyDir: defaultPGPKeyDir,
	}
}

// wrapClientFailure converts client errors into job-level failures, so the
// stage records them instead of aborting the pipeline. Anything else,
// context cancellation included, passes through untouched.
func wrapClientFailure(err error) error {
	var clientErr *clients.ClientError
	if errors.As(err, &clientErr) {
		return engine.WrapJobError(err, "Client exception raised")
	}
	return err
}
