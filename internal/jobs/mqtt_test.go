package jobs

import (
	"context"
	"strings"
	"testing"

	"github.com/ternarybob/tego/internal/engine"
)

func TestMQTTPublishSendsEnvironmentValue(t *testing.T) {
	deps, _, _, publisher := newTestDeps(t)
	env := engine.NewEnv()
	env.Set("stix-object", map[string]any{"type": "bundle"})

	job := NewMQTTPublishFactory(deps)("publish", env, nil)
	_, err := job.Run(context.Background(), engine.Args{
		paramLocation:     "stix-object",
		paramTopic:        "tego/events",
		paramMQTTHost:     "broker.test",
		paramMQTTPort:     1884,
		paramMQTTUsername: "svc",
		paramMQTTPassword: "hunter2",
		paramMQTTSSL:      true,
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}

	if len(publisher.topics) != 1 || publisher.topics[0] != "tego/events" {
		t.Errorf("topics = %v, want [tego/events]", publisher.topics)
	}
	payload, ok := publisher.payloads[0].(map[string]any)
	if !ok || payload["type"] != "bundle" {
		t.Errorf("payload = %v, want the environment value", publisher.payloads[0])
	}
	cfg := publisher.cfg
	if cfg.Host != "broker.test" || cfg.Port != 1884 || cfg.Username != "svc" {
		t.Errorf("connection = %+v, want the overrides applied", cfg)
	}
	if cfg.Password.Value() != "hunter2" || !cfg.SSL {
		t.Errorf("credentials = %+v, want the overrides applied", cfg)
	}
	if !publisher.closed {
		t.Error("publisher should be closed after the run")
	}
}

func TestMQTTPublishTreatsNonePasswordAsEmpty(t *testing.T) {
	deps, _, _, publisher := newTestDeps(t)
	env := engine.NewEnv()
	env.Set("payload", "ping")

	job := NewMQTTPublishFactory(deps)("publish", env, nil)
	_, err := job.Run(context.Background(), engine.Args{
		paramLocation:     "payload",
		paramTopic:        "tego/events",
		paramMQTTPassword: "None",
	})
	if err != nil {
		t.Fatalf("running job: %v", err)
	}
	if publisher.cfg.Password.Value() != "" {
		t.Errorf("password = %q, want it cleared", publisher.cfg.Password.Value())
	}
}

func TestMQTTPublishMissingLocation(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	job := NewMQTTPublishFactory(deps)("publish", engine.NewEnv(), nil)

	_, err := job.Run(context.Background(), engine.Args{
		paramLocation: "absent",
		paramTopic:    "tego/events",
	})
	if err == nil || !strings.Contains(err.Error(), "environment attribute not found: absent") {
		t.Errorf("error = %v, want a missing-attribute failure", err)
	}
}

func TestMQTTPublishRejectsUnserializablePayload(t *testing.T) {
	deps, _, _, publisher := newTestDeps(t)
	env := engine.NewEnv()
	env.Set("payload", make(chan int))

	job := NewMQTTPublishFactory(deps)("publish", env, nil)
	_, err := job.Run(context.Background(), engine.Args{
		paramLocation: "payload",
		paramTopic:    "tego/events",
	})
	if err == nil || !strings.Contains(err.Error(), "Unserializable MQTT payload") {
		t.Errorf("error = %v, want a serialization failure", err)
	}
	if len(publisher.payloads) != 0 {
		t.Errorf("published %d payloads, want none", len(publisher.payloads))
	}
}
