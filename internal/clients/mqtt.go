package clients

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tego/internal/common"
)

// mqttConnectTimeout bounds a single broker connection attempt.
const mqttConnectTimeout = 30 * time.Second

// MQTTClient publishes messages on a broker. The connection is
// established at construction and held until Close.
type MQTTClient struct {
	client mqtt.Client
	logger arbor.ILogger
}

// NewMQTTClient connects to the broker described by cfg. An empty
// client id gets a generated one so concurrent publishers do not evict
// each other's sessions.
func NewMQTTClient(ctx context.Context, cfg common.MQTTConfig, logger arbor.ILogger) (*MQTTClient, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("Tego-%s", uuid.NewString())
	}
	scheme := "tcp"
	if cfg.SSL {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout)
	if cfg.SSL {
		opts.SetTLSConfig(&tls.Config{})
	}
	logger.Debug().Str("broker", broker).Str("client_id", clientID).Msg("Connecting to MQTT broker")
	if cfg.Username != "" {
		logger.Debug().Str("username", cfg.Username).Msg("Connecting as user")
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password.Value())
	}

	client := mqtt.NewClient(opts)
	if _, err := Retry(ctx, cfg.Connection, func() (struct{}, error) {
		token := client.Connect()
		if !token.WaitTimeout(mqttConnectTimeout) {
			return struct{}{}, NewClientError("timed out connecting to MQTT broker %s", broker)
		}
		return struct{}{}, token.Error()
	}, func(error) bool { return true }); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, WrapClientError(err, "unable to connect to MQTT broker %s", broker)
	}
	return &MQTTClient{client: client, logger: logger}, nil
}

// Publish serializes the payload as JSON and publishes it on topic.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload any) error {
	if c.client == nil || !c.client.IsConnected() {
		return NewClientError("MQTT client is not connected")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return WrapClientError(err, "unserializable MQTT payload")
	}
	token := c.client.Publish(topic, 0, false, encoded)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return WrapClientError(err, "unable to publish MQTT message")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, allowing in-flight messages a
// moment to complete.
func (c *MQTTClient) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
